// Package guard is the entry gate for inbound signals: per-source rate
// limiting backed by a Redis sliding window, and content-hash idempotency so
// a retried or double-delivered signal executes exactly once per window.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
)

// Config tunes the guard windows.
type Config struct {
	// RateLimit is the maximum number of signals a single source may send
	// within RateWindow.
	RateLimit  int
	RateWindow time.Duration

	// IdempotencyTTL is how long an execution result stays pinned to its
	// signal fingerprint. Duplicates inside the window replay the cached
	// result.
	IdempotencyTTL time.Duration
}

// DefaultConfig matches the intake expectations of upstream alert providers:
// short bursts allowed, duplicates suppressed for five minutes.
func DefaultConfig() Config {
	return Config{
		RateLimit:      10,
		RateWindow:     time.Minute,
		IdempotencyTTL: 5 * time.Minute,
	}
}

// Guard combines rate limiting and idempotency checks in front of the
// orchestrator.
type Guard struct {
	limiter domain.RateLimiter
	idem    domain.IdempotencyCache
	cfg     Config
	logger  *slog.Logger
}

// New creates a Guard. Zero config fields fall back to DefaultConfig values.
func New(limiter domain.RateLimiter, idem domain.IdempotencyCache, cfg Config, logger *slog.Logger) *Guard {
	def := DefaultConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	return &Guard{
		limiter: limiter,
		idem:    idem,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "guard")),
	}
}

// Fingerprint derives the idempotency key of a signal from its content:
// action, exit-type token, second-truncated timestamp, and source. Two
// deliveries of the same alert hash identically; a genuinely new signal a
// second later does not.
func Fingerprint(sig domain.Signal) string {
	payload := fmt.Sprintf("%s|%s|%d|%s",
		sig.Action, sig.ExitType, sig.Timestamp.Truncate(time.Second).Unix(), sig.SourceID)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// AllowSource checks the per-source sliding-window rate limit. It returns
// domain.ErrRateLimited when the source exceeded its budget.
func (g *Guard) AllowSource(ctx context.Context, sourceID string) error {
	allowed, err := g.limiter.Allow(ctx, "signal:"+sourceID, g.cfg.RateLimit, g.cfg.RateWindow)
	if err != nil {
		return fmt.Errorf("guard: rate limit check for %s: %w", sourceID, err)
	}
	if !allowed {
		g.logger.Warn("source rate limited",
			slog.String("source_id", sourceID),
			slog.Int("limit", g.cfg.RateLimit),
			slog.Duration("window", g.cfg.RateWindow))
		return domain.ErrRateLimited
	}
	return nil
}

// CheckAndSet reserves the signal fingerprint with a candidate marker. On a
// hit the previously stored value is returned and the caller must not execute
// the signal again.
func (g *Guard) CheckAndSet(ctx context.Context, key string, candidate []byte) ([]byte, bool, error) {
	value, hit, err := g.idem.CheckAndSet(ctx, key, candidate, g.cfg.IdempotencyTTL)
	if err != nil {
		return nil, false, fmt.Errorf("guard: idempotency check: %w", err)
	}
	if hit {
		g.logger.Info("duplicate signal suppressed", slog.String("signal_key", key))
	}
	return value, hit, nil
}

// Store overwrites the value pinned to the fingerprint, typically replacing
// the reservation marker with the final execution result.
func (g *Guard) Store(ctx context.Context, key string, value []byte) error {
	if err := g.idem.Put(ctx, key, value, g.cfg.IdempotencyTTL); err != nil {
		return fmt.Errorf("guard: store result: %w", err)
	}
	return nil
}
