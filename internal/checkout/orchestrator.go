package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/orderflow-checkout/internal/cart"
	"github.com/joao-fontenele/orderflow-checkout/internal/catalog"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/idempotency"
)

const (
	DefaultSagaTimeout  = 30 * time.Second
	snapshotFanOut      = 8
	compensationTimeout = 10 * time.Second
)

// errAwaitingReconciliation marks a saga that created its order but could not
// learn whether every reservation committed. The idempotency key stays in
// progress until the reconciler settles the order.
var errAwaitingReconciliation = errors.New("checkout: order awaiting reconciliation")

type Request struct {
	UserID          string
	IdempotencyKey  string
	ShippingAddress domain.ShippingAddress
}

type Result struct {
	Order    *domain.Order
	Replayed bool
}

type Deps struct {
	Cart        CartService
	Catalog     ProductSnapshotter
	Stock       StockReserver
	Orders      OrderStore
	Idempotency idempotency.Store
	Pricing     Pricing
	SagaTimeout time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      *slog.Logger
}

// Orchestrator runs the checkout saga: reserve stock, snapshot prices, create
// the order, commit stock, clear the cart, resolve the idempotency key.
type Orchestrator struct {
	cart        CartService
	catalog     ProductSnapshotter
	stock       StockReserver
	orders      OrderStore
	idem        idempotency.Store
	pricing     Pricing
	sagaTimeout time.Duration
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger
	metrics     *instruments
}

func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Cart == nil || deps.Catalog == nil || deps.Stock == nil || deps.Orders == nil || deps.Idempotency == nil {
		return nil, errors.New("checkout: cart, catalog, stock, orders and idempotency dependencies are required")
	}

	metrics, err := newInstruments()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cart:        deps.Cart,
		catalog:     deps.Catalog,
		stock:       deps.Stock,
		orders:      deps.Orders,
		idem:        deps.Idempotency,
		pricing:     deps.Pricing,
		sagaTimeout: deps.SagaTimeout,
		now:         deps.Clock,
		newID:       deps.IDGenerator,
		logger:      deps.Logger,
		metrics:     metrics,
	}
	if o.sagaTimeout <= 0 {
		o.sagaTimeout = DefaultSagaTimeout
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.NewString() }
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Checkout turns the user's cart into a pending order. A request whose key
// already resolved gets the recorded outcome back with Replayed set. Once
// admitted the saga runs to a terminal state even if ctx is cancelled.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (Result, error) {
	start := o.now()
	result, err := o.checkout(ctx, req)

	outcome := "success"
	switch {
	case err != nil:
		outcome = string(ReasonOf(err))
		if errors.Is(err, ErrCheckoutInProgress) {
			outcome = "in_progress"
		} else if errors.Is(err, ErrIdempotencyKeyReused) {
			outcome = "key_reused"
		}
	case result.Replayed:
		outcome = "replayed"
	}
	o.metrics.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	o.metrics.duration.Record(ctx, o.now().Sub(start).Seconds())

	return result, err
}

func (o *Orchestrator) checkout(ctx context.Context, req Request) (Result, error) {
	if req.UserID == "" {
		return Result{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if req.IdempotencyKey == "" {
		return Result{}, fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}

	address := req.ShippingAddress.Normalize()
	if err := address.Validate(); err != nil {
		return Result{}, fail(ReasonInvalidAddress, "", fmt.Errorf("%w: %w", ErrValidation, err))
	}

	adm, err := o.idem.Begin(ctx, req.IdempotencyKey, req.UserID, addressFingerprint(address), o.now())
	if err != nil {
		if errors.Is(err, idempotency.ErrFingerprintMismatch) {
			return Result{}, ErrIdempotencyKeyReused
		}
		return Result{}, fail(ReasonCheckoutUnavailable, "", fmt.Errorf("%w: begin idempotency: %w", ErrCheckoutUnavailable, err))
	}

	switch adm.State {
	case idempotency.InProgress:
		return Result{}, ErrCheckoutInProgress
	case idempotency.Resolved:
		return o.replay(ctx, adm.Record)
	}

	sagaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sagaTimeout)
	defer cancel()

	req.ShippingAddress = address
	order, err := o.run(sagaCtx, req)
	if errors.Is(err, errAwaitingReconciliation) {
		return Result{}, fail(ReasonCheckoutUnavailable, "", fmt.Errorf("%w: %w", ErrCheckoutUnavailable, err))
	}

	var dup *duplicateOrderError
	if errors.As(err, &dup) {
		// The order table is the source of truth for a key that outlived its record.
		o.resolve(sagaCtx, req, idempotency.Succeeded(dup.order.ID))
		return Result{Order: dup.order, Replayed: true}, nil
	}

	if err != nil {
		o.resolve(sagaCtx, req, idempotency.FailedOn(string(ReasonOf(err)), productOf(err)))
		return Result{}, err
	}

	o.resolve(sagaCtx, req, idempotency.Succeeded(order.ID))
	return Result{Order: order}, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.saga", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("idempotency.key", req.IdempotencyKey),
	))
	defer span.End()

	order, err := o.runSteps(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return order, err
}

func (o *Orchestrator) runSteps(ctx context.Context, req Request) (*domain.Order, error) {
	c, err := o.readCart(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	snapshots, err := o.snapshotLines(ctx, c.Lines)
	if err != nil {
		return nil, err
	}

	attemptID := o.newID()
	reservations, err := o.reserveLines(ctx, c.Lines, attemptID)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.OrderLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		lines = append(lines, LineFromSnapshot(snapshots[line.ProductID], line.Quantity))
	}
	totals := o.pricing.Totals(lines)

	now := o.now()
	order := &domain.Order{
		ID:              o.newID(),
		UserID:          req.UserID,
		Lines:           lines,
		Subtotal:        totals.Subtotal,
		ShippingCost:    totals.ShippingCost,
		Tax:             totals.Tax,
		Total:           totals.Total,
		ShippingAddress: req.ShippingAddress,
		Status:          domain.OrderStatusPending,
		IdempotencyKey:  req.IdempotencyKey,
		CartVersion:     c.Version,
		Reservations:    reservationIDs(reservations),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := o.createOrder(ctx, order, reservations); err != nil {
		return nil, err
	}

	if err := o.commitReservations(ctx, order, reservations); err != nil {
		return nil, err
	}

	o.clearCart(ctx, order)

	o.logger.InfoContext(ctx, "checkout completed",
		"order_id", order.ID,
		"user_id", order.UserID,
		"total", order.Total.StringFixed(2),
		"items", order.TotalItems(),
	)
	return order, nil
}

func (o *Orchestrator) readCart(ctx context.Context, userID string) (domain.Cart, error) {
	ctx, span := tracer.Start(ctx, "checkout.read_cart")
	defer span.End()

	c, err := o.cart.GetCart(ctx, userID)
	if err != nil {
		return domain.Cart{}, fail(ReasonCheckoutUnavailable, "", fmt.Errorf("%w: read cart: %w", ErrCheckoutUnavailable, err))
	}
	if c.IsEmpty() {
		return domain.Cart{}, fail(ReasonEmptyCart, "", fmt.Errorf("%w: %w", ErrValidation, ErrEmptyCart))
	}
	for _, line := range c.Lines {
		if !domain.ValidQuantity(line.Quantity) {
			return domain.Cart{}, fail(ReasonInvalidQuantity, line.ProductID, fmt.Errorf("%w: %w", ErrValidation, ErrInvalidQuantity))
		}
	}

	// Reservations are keyed per product, so a product listed twice must be
	// reserved once for the combined quantity.
	c.Lines = c.MergedLines()
	for _, line := range c.Lines {
		if !domain.ValidQuantity(line.Quantity) {
			return domain.Cart{}, fail(ReasonInvalidQuantity, line.ProductID, fmt.Errorf("%w: %w", ErrValidation, ErrInvalidQuantity))
		}
	}

	span.SetAttributes(attribute.Int("cart.lines", len(c.Lines)), attribute.Int64("cart.version", c.Version))
	return c, nil
}

func (o *Orchestrator) snapshotLines(ctx context.Context, lines []domain.CartLine) (map[string]domain.ProductSnapshot, error) {
	ctx, span := tracer.Start(ctx, "checkout.snapshot")
	defer span.End()

	snapshots := make([]domain.ProductSnapshot, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotFanOut)
	for i, line := range lines {
		g.Go(func() error {
			snap, err := o.catalog.Snapshot(gctx, line.ProductID)
			if err != nil {
				return classifyCatalogError(err, line.ProductID, false)
			}
			snapshots[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byProduct := make(map[string]domain.ProductSnapshot, len(snapshots))
	for _, snap := range snapshots {
		byProduct[snap.ProductID] = snap
	}
	return byProduct, nil
}

func (o *Orchestrator) reserveLines(ctx context.Context, lines []domain.CartLine, attemptID string) ([]domain.StockReservation, error) {
	ctx, span := tracer.Start(ctx, "checkout.reserve", trace.WithAttributes(attribute.String("attempt.id", attemptID)))
	defer span.End()

	reservations := make([]domain.StockReservation, 0, len(lines))
	for _, line := range lines {
		res, err := o.stock.Reserve(ctx, line.ProductID, line.Quantity, attemptID+":"+line.ProductID)
		if err != nil {
			o.compensate(ctx, reservations)
			return nil, classifyCatalogError(err, line.ProductID, true)
		}
		reservations = append(reservations, res)
	}
	return reservations, nil
}

type duplicateOrderError struct {
	order *domain.Order
}

func (e *duplicateOrderError) Error() string {
	return "checkout: order " + e.order.ID + " already exists for idempotency key"
}

func (e *duplicateOrderError) Unwrap() error {
	return ErrDuplicateOrder
}

func (o *Orchestrator) createOrder(ctx context.Context, order *domain.Order, reservations []domain.StockReservation) error {
	ctx, span := tracer.Start(ctx, "checkout.create_order", trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	err := o.orders.Create(ctx, order)
	if err == nil {
		return nil
	}

	o.compensate(ctx, reservations)

	if errors.Is(err, ErrDuplicateOrder) {
		existing, lookupErr := o.orders.GetByIdempotencyKey(ctx, order.UserID, order.IdempotencyKey)
		if lookupErr == nil && existing != nil {
			return &duplicateOrderError{order: existing}
		}
	}
	return fail(ReasonCheckoutUnavailable, "", fmt.Errorf("%w: create order: %w", ErrCheckoutUnavailable, err))
}

func (o *Orchestrator) commitReservations(ctx context.Context, order *domain.Order, reservations []domain.StockReservation) error {
	ctx, span := tracer.Start(ctx, "checkout.commit", trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	for _, res := range reservations {
		_, err := o.stock.Commit(ctx, res.ID)
		if err == nil {
			continue
		}

		if errors.Is(err, catalog.ErrReservationReleased) {
			// The hold expired before commit. Nothing is shipped from a
			// partial commit, so undo the ones that made it and cancel.
			o.metrics.compensations.Add(ctx, 1)
			if cancelErr := cancelOrder(ctx, o.stock, o.orders, order, string(ReasonReservationExpired)); cancelErr != nil {
				o.logger.ErrorContext(ctx, "failed to cancel order after reservation expiry",
					"error", cancelErr, "order_id", order.ID)
				return errAwaitingReconciliation
			}
			return fail(ReasonReservationExpired, res.ProductID, fmt.Errorf("%w: reservation %s expired", ErrCheckoutUnavailable, res.ID))
		}

		o.logger.ErrorContext(ctx, "reservation commit failed, leaving order for reconciliation",
			"error", err, "order_id", order.ID, "reservation_id", res.ID)
		return errAwaitingReconciliation
	}

	if err := o.orders.MarkStockCommitted(ctx, order.ID); err != nil {
		// Stock is committed and the order exists; the reconciler re-commits
		// (a no-op) and sets the flag.
		o.logger.ErrorContext(ctx, "failed to mark stock committed", "error", err, "order_id", order.ID)
	}
	order.StockCommitted = true
	return nil
}

// clearCart never fails the checkout. A cart left behind is cleared later by
// the reconciler using the version read at checkout.
func (o *Orchestrator) clearCart(ctx context.Context, order *domain.Order) {
	ctx, span := tracer.Start(ctx, "checkout.clear_cart")
	defer span.End()

	err := o.cart.ClearCart(ctx, order.UserID, order.CartVersion)
	if err != nil && !errors.Is(err, cart.ErrVersionConflict) {
		span.RecordError(err)
		o.logger.WarnContext(ctx, "cart clear failed, will retry", "error", err, "order_id", order.ID, "user_id", order.UserID)
		return
	}

	if err := o.orders.MarkCartCleared(ctx, order.ID); err != nil {
		o.logger.ErrorContext(ctx, "failed to mark cart cleared", "error", err, "order_id", order.ID)
		return
	}
	order.CartCleared = true
}

// compensate releases held reservations. A release that fails is left to the
// reservation TTL.
func (o *Orchestrator) compensate(ctx context.Context, reservations []domain.StockReservation) {
	if len(reservations) == 0 {
		return
	}
	o.metrics.compensations.Add(ctx, 1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for _, res := range reservations {
		if _, err := o.stock.Release(ctx, res.ID); err != nil {
			o.logger.ErrorContext(ctx, "compensating release failed, reservation will expire",
				"error", err, "reservation_id", res.ID, "expires_at", res.ExpiresAt)
		}
	}
}

func (o *Orchestrator) replay(ctx context.Context, record idempotency.Record) (Result, error) {
	if record.Outcome.Status != idempotency.StatusSucceeded {
		return Result{}, failureFromReason(record.Outcome.Reason, record.Outcome.ProductID)
	}

	order, err := o.orders.GetByID(ctx, record.Outcome.OrderID)
	if err != nil {
		return Result{}, fail(ReasonCheckoutUnavailable, "", fmt.Errorf("%w: load order: %w", ErrCheckoutUnavailable, err))
	}
	if order == nil {
		return Result{}, fail(ReasonInternal, "", fmt.Errorf("checkout: resolved order %s not found", record.Outcome.OrderID))
	}
	return Result{Order: order, Replayed: true}, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req Request, outcome idempotency.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := o.idem.Resolve(ctx, req.IdempotencyKey, req.UserID, outcome, o.now()); err != nil {
		o.logger.ErrorContext(ctx, "failed to resolve idempotency key",
			"error", err,
			"user_id", req.UserID,
			"idempotency_key", req.IdempotencyKey,
			"outcome", outcome.Status,
		)
	}
}

// cancelOrder returns every reservation's stock and then cancels the order.
// Stock goes first so a retry after a partial failure finds the order still
// pending and repeats the idempotent reverts.
func cancelOrder(ctx context.Context, stock StockReserver, orders OrderStore, order *domain.Order, reason string) error {
	for _, id := range order.Reservations {
		if _, err := stock.Revert(ctx, id); err != nil {
			return fmt.Errorf("revert reservation %s: %w", id, err)
		}
	}
	if _, err := orders.Cancel(ctx, order.ID, reason); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	order.Status = domain.OrderStatusCancelled
	return nil
}

// classifyCatalogError maps catalog failures onto the checkout taxonomy.
// reserving distinguishes a product that vanished after its snapshot.
func classifyCatalogError(err error, productID string, reserving bool) *FailureError {
	switch {
	case errors.Is(err, catalog.ErrInsufficientStock):
		return fail(ReasonInsufficientStock, productID, ErrInsufficientStock)
	case errors.Is(err, catalog.ErrProductNotFound) && reserving:
		return fail(ReasonProductUnavailable, productID, ErrProductUnavailable)
	case errors.Is(err, catalog.ErrProductNotFound):
		return fail(ReasonProductNotFound, productID, ErrProductNotFound)
	case errors.Is(err, catalog.ErrInvalidQuantity):
		return fail(ReasonInvalidQuantity, productID, fmt.Errorf("%w: %w", ErrValidation, ErrInvalidQuantity))
	default:
		return fail(ReasonCheckoutUnavailable, productID, fmt.Errorf("%w: %w", ErrCheckoutUnavailable, err))
	}
}

func reservationIDs(reservations []domain.StockReservation) []string {
	ids := make([]string, len(reservations))
	for i, res := range reservations {
		ids[i] = res.ID
	}
	return ids
}

func addressFingerprint(a domain.ShippingAddress) string {
	return idempotency.Fingerprint(a.FullName, a.AddressLine1, a.AddressLine2, a.City, a.State, a.PostalCode, a.Country, a.Phone)
}
