package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/orderflow-checkout/internal/domain"
)

var ErrCacheMiss = errors.New("cart: cache miss")

type Cache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, cart domain.Cart) error
	// Invalidate drops the cached cart and fences out writes of versions
	// older than version.
	Invalidate(ctx context.Context, userID string, version int64) error
}

// setIfNewer refuses to cache a cart older than the last invalidation, so a
// reader that loaded the cart before a mutation cannot repopulate stale data.
var setIfNewer = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '-1')
if fence > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var c domain.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &c, nil
}

func (r *RedisCache) Set(ctx context.Context, c domain.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.ttl()
	keys := []string{cacheKey(c.UserID), fenceKey(c.UserID)}
	if err := setIfNewer.Run(ctx, r.client, keys, string(data), c.Version, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Invalidate(ctx context.Context, userID string, version int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(userID))
		pipe.Set(ctx, fenceKey(userID), version, r.ttl())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

// ttl adds up to five minutes of jitter so carts cached together do not
// expire together.
func (r *RedisCache) ttl() time.Duration {
	return r.baseTTL + time.Duration(rand.IntN(5))*time.Minute
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:{%s}", userID)
}

func fenceKey(userID string) string {
	return fmt.Sprintf("cart:{%s}:version", userID)
}
