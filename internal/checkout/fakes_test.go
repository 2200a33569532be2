package checkout

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-checkout/internal/cart"
	"github.com/joao-fontenele/orderflow-checkout/internal/catalog"
	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
	"github.com/joao-fontenele/orderflow-checkout/internal/idempotency"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCart struct {
	mu       sync.Mutex
	carts    map[string]domain.Cart
	getErr   error
	clearErr error
}

func newFakeCart() *fakeCart {
	return &fakeCart{carts: make(map[string]domain.Cart)}
}

func (f *fakeCart) put(userID string, lines ...domain.CartLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.carts[userID]
	c.UserID = userID
	c.Lines = lines
	c.Version++
	f.carts[userID] = c
}

func (f *fakeCart) get(userID string) domain.Cart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carts[userID]
}

func (f *fakeCart) failClear(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearErr = err
}

func (f *fakeCart) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Cart{}, f.getErr
	}
	c := f.carts[userID]
	c.UserID = userID
	c.Lines = append([]domain.CartLine(nil), c.Lines...)
	return c, nil
}

func (f *fakeCart) ClearCart(_ context.Context, userID string, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	c := f.carts[userID]
	if c.Version != expectedVersion {
		return cart.ErrVersionConflict
	}
	c.Lines = nil
	c.Version++
	f.carts[userID] = c
	return nil
}

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	byKey     map[string]string
	createErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]domain.Order), byKey: make(map[string]string)}
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeOrders) Create(_ context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	key := order.UserID + "/" + order.IdempotencyKey
	if _, ok := f.byKey[key]; ok {
		return ErrDuplicateOrder
	}
	f.byKey[key] = order.ID
	f.orders[order.ID] = *order
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (f *fakeOrders) GetByIdempotencyKey(_ context.Context, userID, key string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[userID+"/"+key]
	if !ok {
		return nil, nil
	}
	o := f.orders[id]
	return &o, nil
}

func (f *fakeOrders) MarkStockCommitted(_ context.Context, id string) error {
	return f.update(id, func(o *domain.Order) { o.StockCommitted = true })
}

func (f *fakeOrders) MarkCartCleared(_ context.Context, id string) error {
	return f.update(id, func(o *domain.Order) { o.CartCleared = true })
}

func (f *fakeOrders) update(id string, fn func(o *domain.Order)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil
	}
	fn(&o)
	f.orders[id] = o
	return nil
}

func (f *fakeOrders) Cancel(_ context.Context, id, _ string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	next, err := domain.Transition(o.Status, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}
	o.Status = next
	f.orders[id] = o
	return &o, nil
}

func (f *fakeOrders) ListUncommitted(_ context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	return f.list(limit, func(o domain.Order) bool {
		return o.Status == domain.OrderStatusPending && !o.StockCommitted && o.CreatedAt.Before(createdBefore)
	}), nil
}

func (f *fakeOrders) ListUncleared(_ context.Context, limit int) ([]domain.Order, error) {
	return f.list(limit, func(o domain.Order) bool {
		return o.StockCommitted && !o.CartCleared && o.Status != domain.OrderStatusCancelled
	}), nil
}

func (f *fakeOrders) list(limit int, match func(domain.Order) bool) []domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// faultyStock lets a test interfere with commits and releases.
type faultyStock struct {
	StockReserver
	mu           sync.Mutex
	commitErr    error
	releaseErr   error
	beforeCommit func()
}

func (f *faultyStock) setReleaseErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseErr = err
}

func (f *faultyStock) Release(ctx context.Context, id string) (domain.StockReservation, error) {
	f.mu.Lock()
	err := f.releaseErr
	f.mu.Unlock()

	if err != nil {
		return domain.StockReservation{}, err
	}
	return f.StockReserver.Release(ctx, id)
}

func (f *faultyStock) setCommitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitErr = err
}

func (f *faultyStock) Commit(ctx context.Context, id string) (domain.StockReservation, error) {
	f.mu.Lock()
	err, hook := f.commitErr, f.beforeCommit
	f.beforeCommit = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return domain.StockReservation{}, err
	}
	return f.StockReserver.Commit(ctx, id)
}

const reservationTTL = 10 * time.Minute

type harness struct {
	orch    *Orchestrator
	rec     *Reconciler
	carts   *fakeCart
	orders  *fakeOrders
	catalog *catalog.Service
	store   *catalog.MemoryStore
	stock   *faultyStock
	idem    *idempotency.MemoryStore
	clock   *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	store := catalog.NewMemoryStore()
	store.PutProduct(domain.Product{ID: "sku-1", Name: "Mug", Price: decimal.RequireFromString("10.00"), Stock: 5, IsActive: true})
	store.PutProduct(domain.Product{ID: "sku-2", Name: "Lamp", Price: decimal.RequireFromString("24.99"), Stock: 3, IsActive: true})

	svc, err := catalog.NewService(catalog.ServiceDeps{Store: store, TTL: reservationTTL, Clock: clock.Now, Logger: logger})
	require.NoError(t, err)

	h := &harness{
		carts:   newFakeCart(),
		orders:  newFakeOrders(),
		catalog: svc,
		store:   store,
		stock:   &faultyStock{StockReserver: svc},
		idem:    idempotency.NewMemoryStore(24 * time.Hour),
		clock:   clock,
	}

	h.orch, err = NewOrchestrator(Deps{
		Cart:        h.carts,
		Catalog:     svc,
		Stock:       h.stock,
		Orders:      h.orders,
		Idempotency: h.idem,
		Pricing:     Pricing{TaxRate: DefaultTaxRate, ShippingCost: decimal.Zero},
		Clock:       clock.Now,
		Logger:      logger,
	})
	require.NoError(t, err)

	h.rec, err = NewReconciler(ReconcilerDeps{
		Cart:        h.carts,
		Stock:       h.stock,
		Orders:      h.orders,
		Idempotency: h.idem,
		Grace:       time.Minute,
		Clock:       clock.Now,
		Logger:      logger,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) stockOf(t *testing.T, productID string) domain.StockLevel {
	t.Helper()
	level, err := h.catalog.GetStock(context.Background(), productID)
	require.NoError(t, err)
	return *level
}

func (h *harness) record(t *testing.T, userID, key string) *idempotency.Record {
	t.Helper()
	rec, err := h.idem.Get(context.Background(), key, userID)
	require.NoError(t, err)
	return rec
}

func testAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		FullName:     "Ayesha Khan",
		AddressLine1: "12 Canal Road",
		City:         "Lahore",
		State:        "Punjab",
		PostalCode:   "54000",
		Phone:        "+92 300 0000000",
	}
}

func request(userID, key string) Request {
	return Request{UserID: userID, IdempotencyKey: key, ShippingAddress: testAddress()}
}
