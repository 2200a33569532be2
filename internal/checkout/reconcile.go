package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/orderflow-checkout/internal/cart"
	"github.com/joao-fontenele/orderflow-checkout/internal/catalog"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/idempotency"
)

const (
	DefaultReconcileGrace = time.Minute
	reconcileBatchSize    = 50
)

type ReconcilerDeps struct {
	Cart        CartService
	Stock       StockReserver
	Orders      OrderStore
	Idempotency idempotency.Store
	// Grace is how old a pending order must be before the sweep touches it.
	// It must exceed the saga timeout so live sagas are left alone.
	Grace  time.Duration
	Clock  func() time.Time
	Logger *slog.Logger
}

// Reconciler settles what a crashed or interrupted saga left behind: orders
// whose stock commit never finished, carts that were never cleared and
// idempotency keys that were never resolved.
type Reconciler struct {
	cart    CartService
	stock   StockReserver
	orders  OrderStore
	idem    idempotency.Store
	grace   time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *instruments
}

func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Cart == nil || deps.Stock == nil || deps.Orders == nil || deps.Idempotency == nil {
		return nil, errors.New("checkout: reconciler needs cart, stock, orders and idempotency")
	}

	metrics, err := newInstruments()
	if err != nil {
		return nil, err
	}

	r := &Reconciler{
		cart:    deps.Cart,
		stock:   deps.Stock,
		orders:  deps.Orders,
		idem:    deps.Idempotency,
		grace:   deps.Grace,
		now:     deps.Clock,
		logger:  deps.Logger,
		metrics: metrics,
	}
	if r.grace <= 0 {
		r.grace = DefaultReconcileGrace
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconciliation sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one sweep. Each pass is independent; a failure in one does
// not stop the others.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	return errors.Join(
		r.settleUncommitted(ctx),
		r.retryCartClears(ctx),
		r.resolveStaleKeys(ctx),
	)
}

func (r *Reconciler) settleUncommitted(ctx context.Context) error {
	orders, err := r.orders.ListUncommitted(ctx, r.now().Add(-r.grace), reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("list uncommitted orders: %w", err)
	}

	var errs []error
	for i := range orders {
		if err := r.settle(ctx, &orders[i]); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", orders[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) settle(ctx context.Context, order *domain.Order) error {
	for _, id := range order.Reservations {
		_, err := r.stock.Commit(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, catalog.ErrReservationReleased) {
			return err
		}

		if err := cancelOrder(ctx, r.stock, r.orders, order, string(ReasonReservationExpired)); err != nil {
			return err
		}
		r.record(ctx, "cancelled")
		r.logger.WarnContext(ctx, "order cancelled by reconciliation",
			"order_id", order.ID, "reservation_id", id, "reason", ReasonReservationExpired)
		return nil
	}

	if err := r.orders.MarkStockCommitted(ctx, order.ID); err != nil {
		return err
	}
	r.record(ctx, "committed")
	r.logger.InfoContext(ctx, "order stock committed by reconciliation", "order_id", order.ID)
	return nil
}

func (r *Reconciler) retryCartClears(ctx context.Context) error {
	orders, err := r.orders.ListUncleared(ctx, reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("list uncleared orders: %w", err)
	}

	var errs []error
	for _, order := range orders {
		err := r.cart.ClearCart(ctx, order.UserID, order.CartVersion)
		if err != nil && !errors.Is(err, cart.ErrVersionConflict) {
			errs = append(errs, fmt.Errorf("clear cart for order %s: %w", order.ID, err))
			continue
		}
		if err := r.orders.MarkCartCleared(ctx, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("mark cart cleared for order %s: %w", order.ID, err))
			continue
		}
		r.record(ctx, "cart_cleared")
	}
	return errors.Join(errs...)
}

// resolveStaleKeys settles keys whose saga died before resolving them. The
// order table decides the outcome; a key with no order failed.
func (r *Reconciler) resolveStaleKeys(ctx context.Context) error {
	records, err := r.idem.ListInProgress(ctx, r.now().Add(-r.grace), reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("list stale idempotency keys: %w", err)
	}

	var errs []error
	for _, rec := range records {
		order, err := r.orders.GetByIdempotencyKey(ctx, rec.UserID, rec.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var outcome idempotency.Outcome
		switch {
		case order == nil:
			outcome = idempotency.Failed(string(ReasonCheckoutUnavailable))
		case order.Status == domain.OrderStatusCancelled:
			outcome = idempotency.Failed(string(ReasonReservationExpired))
		case order.StockCommitted:
			outcome = idempotency.Succeeded(order.ID)
		default:
			// Still waiting on settleUncommitted.
			continue
		}

		if _, err := r.idem.Resolve(ctx, rec.Key, rec.UserID, outcome, r.now()); err != nil && !errors.Is(err, idempotency.ErrNotInProgress) {
			errs = append(errs, err)
			continue
		}
		r.record(ctx, "key_resolved")
	}
	return errors.Join(errs...)
}

func (r *Reconciler) record(ctx context.Context, action string) {
	r.metrics.reconciled.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
