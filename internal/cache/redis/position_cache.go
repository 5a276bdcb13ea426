package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PositionCache implements domain.PositionCache as a short-TTL mirror of
// broker-reported positions, keyed "position:{account}:{symbol}". It is
// advisory: the database and broker remain authoritative.
type PositionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPositionCache creates a PositionCache with the given mirror TTL.
func NewPositionCache(c *Client, ttl time.Duration) *PositionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PositionCache{rdb: c.Underlying(), ttl: ttl}
}

func positionKey(accountID, symbol string) string {
	return "position:" + accountID + ":" + symbol
}

// Set mirrors a signed position quantity.
func (pc *PositionCache) Set(ctx context.Context, accountID, symbol string, quantity int64) error {
	key := positionKey(accountID, symbol)
	if err := pc.rdb.Set(ctx, key, quantity, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set position %s: %w", key, err)
	}
	return nil
}

// Get returns the mirrored position, or domain.ErrNotFound when the mirror
// has expired or was never written.
func (pc *PositionCache) Get(ctx context.Context, accountID, symbol string) (int64, error) {
	key := positionKey(accountID, symbol)
	v, err := pc.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get position %s: %w", key, err)
	}
	qty, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse position %s: %w", key, err)
	}
	return qty, nil
}

// Invalidate removes the mirror entry so the next read goes to the broker.
func (pc *PositionCache) Invalidate(ctx context.Context, accountID, symbol string) error {
	key := positionKey(accountID, symbol)
	if err := pc.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate position %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)
