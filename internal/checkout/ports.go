package checkout

import (
	"context"
	"time"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

// CartService is the cart collaborator. ClearCart returns cart.ErrVersionConflict
// when the cart changed since expectedVersion.
type CartService interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string, expectedVersion int64) error
}

type ProductSnapshotter interface {
	Snapshot(ctx context.Context, productID string) (domain.ProductSnapshot, error)
}

// StockReserver is the stock reservation manager as seen from the saga. Errors
// match the catalog package sentinels.
type StockReserver interface {
	Reserve(ctx context.Context, productID string, quantity int, attemptID string) (domain.StockReservation, error)
	Commit(ctx context.Context, reservationID string) (domain.StockReservation, error)
	Release(ctx context.Context, reservationID string) (domain.StockReservation, error)
	Revert(ctx context.Context, reservationID string) (domain.StockReservation, error)
}

// OrderStore persists orders. Create returns ErrDuplicateOrder when the user
// already has an order for the idempotency key. Getters return (nil, nil) when
// nothing matches.
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	MarkStockCommitted(ctx context.Context, id string) error
	MarkCartCleared(ctx context.Context, id string) error
	Cancel(ctx context.Context, id, reason string) (*domain.Order, error)
	ListUncommitted(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error)
	ListUncleared(ctx context.Context, limit int) ([]domain.Order, error)
}
