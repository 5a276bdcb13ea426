package domain

import (
	"context"
	"time"
)

// IdempotencyCache suppresses duplicate signal processing within a short TTL
// window via an atomic get-or-set.
type IdempotencyCache interface {
	// CheckAndSet atomically returns the cached value for key when present
	// (hit=true), or stores candidate under key with the given TTL and
	// returns it (hit=false). On a hit the caller must return the cached
	// value unchanged and perform no side effects.
	CheckAndSet(ctx context.Context, key string, candidate []byte, ttl time.Duration) (value []byte, hit bool, err error)

	// Put overwrites the value under key, preserving idempotent reads for the
	// remainder of the window. Used to replace a reservation marker with the
	// final execution result.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// PositionCache is a short-TTL mirror of broker-reported positions keyed by
// account and symbol. It is advisory only; the database and the broker remain
// authoritative.
type PositionCache interface {
	Set(ctx context.Context, accountID, symbol string, quantity int64) error
	Get(ctx context.Context, accountID, symbol string) (int64, error)
	Invalidate(ctx context.Context, accountID, symbol string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub delivery of execution events to observers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
