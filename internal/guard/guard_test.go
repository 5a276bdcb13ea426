package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
)

type fakeLimiter struct {
	allowed bool
	err     error
	lastKey string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.lastKey = key
	return f.allowed, f.err
}

type fakeIdem struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{values: make(map[string][]byte)}
}

func (f *fakeIdem) CheckAndSet(_ context.Context, key string, candidate []byte, _ time.Duration) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[key]; ok {
		return v, true, nil
	}
	f.values[key] = candidate
	return candidate, false, nil
}

func (f *fakeIdem) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFingerprintStability(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	base := domain.Signal{
		Action:    domain.ActionSell,
		ExitType:  "EXIT_50",
		Symbol:    "MNQ1!",
		Timestamp: ts,
		SourceID:  "src-1",
	}

	// Same content within the same second hashes identically, regardless of
	// sub-second jitter.
	jittered := base
	jittered.Timestamp = ts.Add(250 * time.Millisecond)
	if Fingerprint(base) != Fingerprint(jittered) {
		t.Fatal("sub-second jitter changed the fingerprint")
	}

	// A different second is a different signal.
	later := base
	later.Timestamp = ts.Add(time.Second)
	if Fingerprint(base) == Fingerprint(later) {
		t.Fatal("signals one second apart collided")
	}

	// Any content field change is a different signal.
	variants := []domain.Signal{base, base, base}
	variants[0].Action = domain.ActionBuy
	variants[1].ExitType = "EXIT_25"
	variants[2].SourceID = "src-2"
	for i, v := range variants {
		if Fingerprint(base) == Fingerprint(v) {
			t.Errorf("variant %d collided with base", i)
		}
	}
}

func TestAllowSource(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		lim := &fakeLimiter{allowed: true}
		g := New(lim, newFakeIdem(), Config{}, testLogger())

		if err := g.AllowSource(context.Background(), "src-1"); err != nil {
			t.Fatalf("AllowSource: %v", err)
		}
		if lim.lastKey != "signal:src-1" {
			t.Fatalf("limiter key = %q, want signal:src-1", lim.lastKey)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		g := New(&fakeLimiter{allowed: false}, newFakeIdem(), Config{}, testLogger())

		err := g.AllowSource(context.Background(), "src-1")
		if !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("err = %v, want ErrRateLimited", err)
		}
	})

	t.Run("backend error", func(t *testing.T) {
		boom := errors.New("redis down")
		g := New(&fakeLimiter{err: boom}, newFakeIdem(), Config{}, testLogger())

		err := g.AllowSource(context.Background(), "src-1")
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want wrapped backend error", err)
		}
	})
}

func TestCheckAndSetSuppressesDuplicates(t *testing.T) {
	g := New(&fakeLimiter{allowed: true}, newFakeIdem(), Config{}, testLogger())
	ctx := context.Background()

	marker := []byte(`{"status":"pending"}`)
	got, hit, err := g.CheckAndSet(ctx, "key-1", marker)
	if err != nil {
		t.Fatalf("first CheckAndSet: %v", err)
	}
	if hit {
		t.Fatal("first delivery reported as duplicate")
	}
	if string(got) != string(marker) {
		t.Fatalf("first value = %q, want marker", got)
	}

	// Replace the marker with a final result, as the orchestrator does.
	final := []byte(`{"status":"placed"}`)
	if err := g.Store(ctx, "key-1", final); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, hit, err = g.CheckAndSet(ctx, "key-1", marker)
	if err != nil {
		t.Fatalf("second CheckAndSet: %v", err)
	}
	if !hit {
		t.Fatal("duplicate delivery not detected")
	}
	if string(got) != string(final) {
		t.Fatalf("duplicate got %q, want stored final result", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	g := New(&fakeLimiter{allowed: true}, newFakeIdem(), Config{}, testLogger())
	def := DefaultConfig()
	if g.cfg != def {
		t.Fatalf("zero config not defaulted: got %+v, want %+v", g.cfg, def)
	}

	custom := Config{RateLimit: 3, RateWindow: 10 * time.Second, IdempotencyTTL: time.Minute}
	g = New(&fakeLimiter{allowed: true}, newFakeIdem(), custom, testLogger())
	if g.cfg != custom {
		t.Fatalf("explicit config overridden: got %+v, want %+v", g.cfg, custom)
	}
}
