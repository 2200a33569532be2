package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

var (
	ErrProductNotFound     = errors.New("catalog: product not found")
	ErrInsufficientStock   = errors.New("catalog: insufficient stock")
	ErrInvalidQuantity     = errors.New("catalog: invalid quantity")
	ErrReservationNotFound = errors.New("catalog: reservation not found")
	ErrReservationReleased = errors.New("catalog: reservation already released")
)

// StockStore is the single writer of stock counters. Every method that moves stock
// does so atomically with the reservation state change that justifies it.
type StockStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetStock(ctx context.Context, productID string) (*domain.StockLevel, error)

	// Reserve holds stock for res. A second call with the same AttemptID returns the
	// first reservation instead of holding stock twice.
	Reserve(ctx context.Context, res domain.StockReservation) (domain.StockReservation, error)
	GetReservation(ctx context.Context, id string) (*domain.StockReservation, error)
	Commit(ctx context.Context, id string, now time.Time) (domain.StockReservation, error)
	Release(ctx context.Context, id string, now time.Time) (domain.StockReservation, error)
	Revert(ctx context.Context, id string, now time.Time) (domain.StockReservation, error)
	ExpireHeld(ctx context.Context, now time.Time, limit int) ([]domain.StockReservation, error)
}

type stockDelta struct {
	available int
	held      int
}

type transitionFunc func(res domain.StockReservation) (domain.ReservationState, stockDelta, error)

func commitTransition(res domain.StockReservation) (domain.ReservationState, stockDelta, error) {
	switch res.State {
	case domain.ReservationHeld:
		return domain.ReservationCommitted, stockDelta{held: -res.Quantity}, nil
	case domain.ReservationCommitted:
		return res.State, stockDelta{}, nil
	default:
		return res.State, stockDelta{}, ErrReservationReleased
	}
}

// releaseTransition never touches committed reservations.
func releaseTransition(res domain.StockReservation) (domain.ReservationState, stockDelta, error) {
	if res.State == domain.ReservationHeld {
		return domain.ReservationReleased, stockDelta{available: res.Quantity, held: -res.Quantity}, nil
	}
	return res.State, stockDelta{}, nil
}

// revertTransition returns stock to the shelf whatever the reservation reached.
// Only reconciliation of a cancelled order uses it.
func revertTransition(res domain.StockReservation) (domain.ReservationState, stockDelta, error) {
	switch res.State {
	case domain.ReservationHeld:
		return releaseTransition(res)
	case domain.ReservationCommitted:
		return domain.ReservationReleased, stockDelta{available: res.Quantity}, nil
	default:
		return res.State, stockDelta{}, nil
	}
}
