package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

const (
	DefaultReservationTTL = 10 * time.Minute
	sweepBatchSize        = 100
)

var catalogMeter = otel.Meter("catalog")

type ServiceDeps struct {
	Store       StockStore
	TTL         time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      *slog.Logger
}

// Service owns product snapshots and the reservation lifecycle. It is the only
// component that moves stock counters.
type Service struct {
	store   StockStore
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	expired metric.Int64Counter
}

func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	s := &Service{
		store:  deps.Store,
		ttl:    deps.TTL,
		now:    deps.Clock,
		newID:  deps.IDGenerator,
		logger: deps.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultReservationTTL
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	expired, err := catalogMeter.Int64Counter("catalog.reservations.expired",
		metric.WithDescription("Held reservations released by the expiry sweep"))
	if err != nil {
		return nil, err
	}
	s.expired = expired

	return s, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.store.ListProducts(ctx)
}

// GetProduct returns active products only.
func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.IsActive {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (s *Service) Snapshot(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}
	return domain.ProductSnapshot{
		ProductID:      p.ID,
		Name:           p.Name,
		UnitPrice:      p.Price,
		AvailableStock: p.Stock,
		FetchedAt:      s.now(),
	}, nil
}

func (s *Service) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	stock, err := s.store.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, ErrProductNotFound
	}
	return stock, nil
}

// Reserve holds quantity units of productID. Calls repeated with the same
// attemptID return the original reservation.
func (s *Service) Reserve(ctx context.Context, productID string, quantity int, attemptID string) (domain.StockReservation, error) {
	if quantity < 1 {
		return domain.StockReservation{}, ErrInvalidQuantity
	}
	if attemptID == "" {
		return domain.StockReservation{}, errors.New("catalog: attempt id is required")
	}

	now := s.now()
	res, err := s.store.Reserve(ctx, domain.StockReservation{
		ID:        s.newID(),
		AttemptID: attemptID,
		ProductID: productID,
		Quantity:  quantity,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return domain.StockReservation{}, err
	}

	s.logger.InfoContext(ctx, "stock reserved",
		"reservation_id", res.ID,
		"product_id", productID,
		"quantity", quantity,
		"attempt_id", attemptID,
	)
	return res, nil
}

func (s *Service) GetReservation(ctx context.Context, id string) (domain.StockReservation, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return domain.StockReservation{}, err
	}
	if res == nil {
		return domain.StockReservation{}, ErrReservationNotFound
	}
	return *res, nil
}

// Commit makes a held reservation permanent. Committing twice is a no-op and
// committing a released reservation fails with ErrReservationReleased.
func (s *Service) Commit(ctx context.Context, id string) (domain.StockReservation, error) {
	res, err := s.store.Commit(ctx, id, s.now())
	if err != nil {
		return res, err
	}
	s.logger.InfoContext(ctx, "reservation committed", "reservation_id", id, "state", res.State)
	return res, nil
}

// Release returns held stock. Releasing a committed or released reservation
// changes nothing.
func (s *Service) Release(ctx context.Context, id string) (domain.StockReservation, error) {
	res, err := s.store.Release(ctx, id, s.now())
	if err != nil {
		return res, err
	}
	s.logger.InfoContext(ctx, "reservation released", "reservation_id", id, "state", res.State)
	return res, nil
}

func (s *Service) Revert(ctx context.Context, id string) (domain.StockReservation, error) {
	res, err := s.store.Revert(ctx, id, s.now())
	if err != nil {
		return res, err
	}
	s.logger.WarnContext(ctx, "reservation reverted", "reservation_id", id, "product_id", res.ProductID, "quantity", res.Quantity)
	return res, nil
}

// SweepExpired releases every held reservation past its deadline.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		released, err := s.store.ExpireHeld(ctx, s.now(), sweepBatchSize)
		total += len(released)
		for _, res := range released {
			s.expired.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", res.ProductID)))
			s.logger.InfoContext(ctx, "reservation expired",
				"reservation_id", res.ID,
				"product_id", res.ProductID,
				"quantity", res.Quantity,
			)
		}
		if err != nil {
			return total, fmt.Errorf("expire held reservations: %w", err)
		}
		if len(released) < sweepBatchSize {
			return total, nil
		}
	}
}

// RunSweeper blocks until ctx is done, sweeping expired reservations every interval.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.ErrorContext(ctx, "reservation sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
