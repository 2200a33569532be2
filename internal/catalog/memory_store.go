package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

type memoryProduct struct {
	name      string
	price     decimal.Decimal
	active    atomic.Bool
	available atomic.Int64
	held      atomic.Int64
	updatedAt atomic.Int64
}

// take decrements available only if the value observed at read time still
// holds, retrying when another reservation won the race.
func (p *memoryProduct) take(quantity int) error {
	q := int64(quantity)
	for {
		available := p.available.Load()
		if available < q {
			return ErrInsufficientStock
		}
		if p.available.CompareAndSwap(available, available-q) {
			p.held.Add(q)
			return nil
		}
	}
}

func (p *memoryProduct) apply(delta stockDelta, now time.Time) {
	p.available.Add(int64(delta.available))
	p.held.Add(int64(delta.held))
	p.updatedAt.Store(now.UnixNano())
}

// MemoryStore keeps catalog state in process. Stock counters are lock free;
// the reservation table is guarded by mu.
type MemoryStore struct {
	productsMu sync.RWMutex
	products   map[string]*memoryProduct

	mu           sync.Mutex
	reservations map[string]*domain.StockReservation
	attempts     map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*memoryProduct),
		reservations: make(map[string]*domain.StockReservation),
		attempts:     make(map[string]string),
	}
}

// PutProduct creates or replaces a product with the given available stock.
func (s *MemoryStore) PutProduct(p domain.Product) {
	mp := &memoryProduct{name: p.Name, price: p.Price}
	mp.active.Store(p.IsActive)
	mp.available.Store(int64(p.Stock))
	mp.updatedAt.Store(p.UpdatedAt.UnixNano())

	s.productsMu.Lock()
	s.products[p.ID] = mp
	s.productsMu.Unlock()
}

func (s *MemoryStore) SetActive(productID string, active bool) {
	if p := s.product(productID); p != nil {
		p.active.Store(active)
	}
}

func (s *MemoryStore) product(id string) *memoryProduct {
	s.productsMu.RLock()
	defer s.productsMu.RUnlock()
	return s.products[id]
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	p := s.product(id)
	if p == nil {
		return nil, nil
	}
	return &domain.Product{
		ID:        id,
		Name:      p.name,
		Price:     p.price,
		Stock:     int(p.available.Load()),
		IsActive:  p.active.Load(),
		UpdatedAt: time.Unix(0, p.updatedAt.Load()).UTC(),
	}, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.productsMu.RLock()
	ids := make([]string, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	s.productsMu.RUnlock()
	sort.Strings(ids)

	products := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		p, _ := s.GetProduct(ctx, id)
		if p != nil && p.IsActive {
			products = append(products, *p)
		}
	}
	return products, nil
}

func (s *MemoryStore) GetStock(_ context.Context, productID string) (*domain.StockLevel, error) {
	p := s.product(productID)
	if p == nil {
		return nil, nil
	}
	return &domain.StockLevel{
		ProductID: productID,
		Available: int(p.available.Load()),
		Held:      int(p.held.Load()),
	}, nil
}

func (s *MemoryStore) Reserve(_ context.Context, res domain.StockReservation) (domain.StockReservation, error) {
	if existing, ok := s.byAttempt(res.AttemptID); ok {
		return existing, nil
	}

	p := s.product(res.ProductID)
	if p == nil || !p.active.Load() {
		return domain.StockReservation{}, ErrProductNotFound
	}
	if err := p.take(res.Quantity); err != nil {
		return domain.StockReservation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent call for the same attempt got here first.
	if id, ok := s.attempts[res.AttemptID]; ok {
		p.apply(stockDelta{available: res.Quantity, held: -res.Quantity}, res.CreatedAt)
		return *s.reservations[id], nil
	}

	res.State = domain.ReservationHeld
	res.UpdatedAt = res.CreatedAt
	stored := res
	s.reservations[res.ID] = &stored
	s.attempts[res.AttemptID] = res.ID
	return res, nil
}

func (s *MemoryStore) byAttempt(attemptID string) (domain.StockReservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.attempts[attemptID]
	if !ok {
		return domain.StockReservation{}, false
	}
	return *s.reservations[id], true
}

func (s *MemoryStore) GetReservation(_ context.Context, id string) (*domain.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	out := *res
	return &out, nil
}

func (s *MemoryStore) Commit(_ context.Context, id string, now time.Time) (domain.StockReservation, error) {
	return s.transition(id, now, commitTransition)
}

func (s *MemoryStore) Release(_ context.Context, id string, now time.Time) (domain.StockReservation, error) {
	return s.transition(id, now, releaseTransition)
}

func (s *MemoryStore) Revert(_ context.Context, id string, now time.Time) (domain.StockReservation, error) {
	return s.transition(id, now, revertTransition)
}

func (s *MemoryStore) ExpireHeld(_ context.Context, now time.Time, limit int) ([]domain.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []domain.StockReservation
	for _, res := range s.reservations {
		if limit > 0 && len(released) >= limit {
			break
		}
		if !res.Expired(now) {
			continue
		}
		next, err := s.applyLocked(res, now, releaseTransition)
		if err != nil {
			return released, err
		}
		released = append(released, next)
	}
	return released, nil
}

func (s *MemoryStore) transition(id string, now time.Time, fn transitionFunc) (domain.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return domain.StockReservation{}, ErrReservationNotFound
	}
	return s.applyLocked(res, now, fn)
}

func (s *MemoryStore) applyLocked(res *domain.StockReservation, now time.Time, fn transitionFunc) (domain.StockReservation, error) {
	state, delta, err := fn(*res)
	if err != nil || state == res.State {
		return *res, err
	}

	if p := s.product(res.ProductID); p != nil {
		p.apply(delta, now)
	}
	res.State = state
	res.UpdatedAt = now
	return *res, nil
}
