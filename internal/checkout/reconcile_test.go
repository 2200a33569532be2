package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/idempotency"
)

// seedOrder stores a pending order that a crashed saga left behind, holding
// the given reservations.
func seedOrder(t *testing.T, h *harness, id string, reservations ...domain.StockReservation) {
	t.Helper()
	order := &domain.Order{
		ID:             id,
		UserID:         "user-1",
		Status:         domain.OrderStatusPending,
		IdempotencyKey: "key-" + id,
		CartVersion:    1,
		CreatedAt:      h.clock.Now(),
	}
	for _, res := range reservations {
		order.Reservations = append(order.Reservations, res.ID)
	}
	require.NoError(t, h.orders.Create(context.Background(), order))
}

func TestReconciler_CommitsHeldReservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.carts.put("user-1", domain.CartLine{ProductID: "sku-1", Quantity: 2})

	res, err := h.catalog.Reserve(ctx, "sku-1", 2, "attempt-1:sku-1")
	require.NoError(t, err)
	seedOrder(t, h, "order-1", res)

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.rec.RunOnce(ctx))

	order, err := h.orders.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.True(t, order.StockCommitted)
	assert.True(t, order.CartCleared)
	assert.Equal(t, domain.StockLevel{ProductID: "sku-1", Available: 3}, h.stockOf(t, "sku-1"))
}

func TestReconciler_CancelsWhenAReservationExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	committed, err := h.catalog.Reserve(ctx, "sku-1", 2, "attempt-1:sku-1")
	require.NoError(t, err)
	_, err = h.catalog.Commit(ctx, committed.ID)
	require.NoError(t, err)

	expired, err := h.catalog.Reserve(ctx, "sku-2", 1, "attempt-1:sku-2")
	require.NoError(t, err)
	seedOrder(t, h, "order-1", committed, expired)

	h.clock.Advance(reservationTTL + time.Minute)
	_, err = h.catalog.SweepExpired(ctx)
	require.NoError(t, err)

	require.NoError(t, h.rec.RunOnce(ctx))

	order, err := h.orders.GetByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.False(t, order.StockCommitted)

	assert.Equal(t, domain.StockLevel{ProductID: "sku-1", Available: 5}, h.stockOf(t, "sku-1"))
	assert.Equal(t, domain.StockLevel{ProductID: "sku-2", Available: 3}, h.stockOf(t, "sku-2"))

	// A second sweep finds nothing left to do.
	require.NoError(t, h.rec.RunOnce(ctx))
	assert.Equal(t, 5, h.stockOf(t, "sku-1").Available)
}

func TestReconciler_ResolvesStaleKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Saga died before creating an order.
	_, err := h.idem.Begin(ctx, "orphan", "user-1", "fp", h.clock.Now())
	require.NoError(t, err)

	// Saga died after its order was cancelled.
	_, err = h.idem.Begin(ctx, "key-order-1", "user-1", "fp", h.clock.Now())
	require.NoError(t, err)
	res, err := h.catalog.Reserve(ctx, "sku-1", 1, "attempt-1:sku-1")
	require.NoError(t, err)
	seedOrder(t, h, "order-1", res)
	_, err = h.orders.Cancel(ctx, "order-1", string(ReasonReservationExpired))
	require.NoError(t, err)

	// A fresh key is left alone.
	h.clock.Advance(2 * time.Minute)
	_, err = h.idem.Begin(ctx, "fresh", "user-1", "fp", h.clock.Now())
	require.NoError(t, err)

	require.NoError(t, h.rec.RunOnce(ctx))

	orphan := h.record(t, "user-1", "orphan")
	assert.Equal(t, idempotency.StatusFailed, orphan.Outcome.Status)
	assert.Equal(t, string(ReasonCheckoutUnavailable), orphan.Outcome.Reason)

	cancelled := h.record(t, "user-1", "key-order-1")
	assert.Equal(t, idempotency.StatusFailed, cancelled.Outcome.Status)
	assert.Equal(t, string(ReasonReservationExpired), cancelled.Outcome.Reason)

	fresh := h.record(t, "user-1", "fresh")
	assert.Equal(t, idempotency.StatusInProgress, fresh.Outcome.Status)
}
