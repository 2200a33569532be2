package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

type Service struct {
	repo   Repository
	cache  Cache
	sfg    singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// GetCart reads through the cache. Concurrent misses for the same user share
// one repository read.
func (s *Service) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			return *cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cart cache get failed", "error", err, "user_id", userID)
		}

		c, err := s.repo.Get(ctx, userID)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, c); err != nil {
			s.logger.WarnContext(ctx, "cart cache set failed", "error", err, "user_id", userID)
		}
		return c, nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return v.(domain.Cart), nil
}

func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error) {
	if !domain.ValidQuantity(quantity) {
		return domain.Cart{}, ErrInvalidQuantity
	}
	return s.afterWrite(ctx, userID)(s.repo.AddItem(ctx, userID, productID, quantity, s.now()))
}

func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (domain.Cart, error) {
	if !domain.ValidQuantity(quantity) {
		return domain.Cart{}, ErrInvalidQuantity
	}
	return s.afterWrite(ctx, userID)(s.repo.SetQuantity(ctx, userID, productID, quantity, s.now()))
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (domain.Cart, error) {
	return s.afterWrite(ctx, userID)(s.repo.RemoveItem(ctx, userID, productID, s.now()))
}

// ClearCart empties the cart only if nobody changed it after expectedVersion
// was read. Pass AnyVersion to clear unconditionally.
func (s *Service) ClearCart(ctx context.Context, userID string, expectedVersion int64) (domain.Cart, error) {
	return s.afterWrite(ctx, userID)(s.repo.Clear(ctx, userID, expectedVersion, s.now()))
}

func (s *Service) afterWrite(ctx context.Context, userID string) func(domain.Cart, error) (domain.Cart, error) {
	return func(c domain.Cart, err error) (domain.Cart, error) {
		if err != nil {
			return domain.Cart{}, err
		}

		invalidateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.cache.Invalidate(invalidateCtx, userID, c.Version); err != nil {
			s.logger.WarnContext(ctx, "cart cache invalidate failed", "error", err, "user_id", userID)
		}
		return c, nil
	}
}
