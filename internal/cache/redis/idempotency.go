package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
	"github.com/redis/go-redis/v9"
)

// checkAndSetLua atomically returns the existing value for a key, or stores
// the caller's candidate with a TTL when the key is absent. The returned flag
// distinguishes a hit (1) from a fresh reservation (0).
const checkAndSetLua = `
local v = redis.call('GET', KEYS[1])
if v then
    return {v, 1}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return {ARGV[1], 0}
`

// IdempotencyCache implements domain.IdempotencyCache with a Lua-scripted
// atomic get-or-set. The TTL is deliberately short: long enough to collapse
// HFT-style duplicate fires, short enough not to suppress legitimate
// re-signals.
type IdempotencyCache struct {
	rdb      *redis.Client
	checkSet *redis.Script
}

// NewIdempotencyCache creates an IdempotencyCache backed by the given Client.
func NewIdempotencyCache(c *Client) *IdempotencyCache {
	return &IdempotencyCache{
		rdb:      c.Underlying(),
		checkSet: redis.NewScript(checkAndSetLua),
	}
}

func idempotencyKey(key string) string {
	return "idem:" + key
}

// CheckAndSet atomically reserves the key with candidate when absent, or
// returns the previously stored value. On a hit the caller must return the
// cached value unchanged and perform no side effects.
func (ic *IdempotencyCache) CheckAndSet(ctx context.Context, key string, candidate []byte, ttl time.Duration) ([]byte, bool, error) {
	res, err := ic.checkSet.Run(
		ctx,
		ic.rdb,
		[]string{idempotencyKey(key)},
		candidate,
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("redis: idempotency check %s: %w", key, err)
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("redis: idempotency check %s: unexpected result length %d", key, len(res))
	}

	value, ok := res[0].(string)
	if !ok {
		return nil, false, fmt.Errorf("redis: idempotency check %s: unexpected value type %T", key, res[0])
	}
	hit, ok := res[1].(int64)
	if !ok {
		return nil, false, fmt.Errorf("redis: idempotency check %s: unexpected flag type %T", key, res[1])
	}

	return []byte(value), hit == 1, nil
}

// Put overwrites the stored value, keeping the same TTL semantics. The
// orchestrator uses this to replace its reservation marker with the final
// execution result.
func (ic *IdempotencyCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ic.rdb.Set(ctx, idempotencyKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: idempotency put %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.IdempotencyCache = (*IdempotencyCache)(nil)
