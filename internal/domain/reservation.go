package domain

import "time"

type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

type StockReservation struct {
	ID        string           `json:"id"`
	AttemptID string           `json:"attempt_id"`
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	State     ReservationState `json:"state"`
	ExpiresAt time.Time        `json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (r *StockReservation) Expired(now time.Time) bool {
	return r.State == ReservationHeld && !now.Before(r.ExpiresAt)
}

type StockLevel struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Held      int    `json:"held"`
}
