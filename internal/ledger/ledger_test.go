package ledger

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

type fakeActivationStore struct {
	mu          sync.Mutex
	byID        map[string]domain.StrategyActivation
	staleWrites int // fail this many UpdatePosition calls with ErrStaleWrite
	updates     []domain.PositionUpdate
}

func newFakeActivationStore(acts ...domain.StrategyActivation) *fakeActivationStore {
	s := &fakeActivationStore{byID: make(map[string]domain.StrategyActivation)}
	for _, a := range acts {
		s.byID[a.ID] = a
	}
	return s
}

func (s *fakeActivationStore) GetByID(_ context.Context, id string) (domain.StrategyActivation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return domain.StrategyActivation{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *fakeActivationStore) GetBySource(_ context.Context, sourceID string) (domain.StrategyActivation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		if a.SourceID == sourceID && a.Active {
			return a, nil
		}
	}
	return domain.StrategyActivation{}, domain.ErrNotFound
}

func (s *fakeActivationStore) FindActiveForSymbol(_ context.Context, userID, symbol string) (domain.StrategyActivation, error) {
	return domain.StrategyActivation{}, domain.ErrNotFound
}

func (s *fakeActivationStore) MostRecentActive(_ context.Context, userID string) (domain.StrategyActivation, error) {
	return domain.StrategyActivation{}, domain.ErrNotFound
}

func (s *fakeActivationStore) ListActive(_ context.Context) ([]domain.StrategyActivation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StrategyActivation
	for _, a := range s.byID {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeActivationStore) UpdatePosition(_ context.Context, upd domain.PositionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleWrites > 0 {
		s.staleWrites--
		return domain.ErrStaleWrite
	}
	a, ok := s.byID[upd.ActivationID]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	a.LastKnownPosition = upd.Position
	a.LastPositionUpdate = &now
	a.LastExitType = upd.ExitType
	a.PartialExitsCount = upd.PartialExits
	s.byID[upd.ActivationID] = a
	s.updates = append(s.updates, upd)
	return nil
}

func (s *fakeActivationStore) TouchTriggered(_ context.Context, id string, at time.Time) error {
	return nil
}

type fakePositionCache struct {
	mu     sync.Mutex
	values map[string]int64
}

func newFakePositionCache() *fakePositionCache {
	return &fakePositionCache{values: make(map[string]int64)}
}

func (c *fakePositionCache) Set(_ context.Context, accountID, symbol string, quantity int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[accountID+":"+symbol] = quantity
	return nil
}

func (c *fakePositionCache) Get(_ context.Context, accountID, symbol string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[accountID+":"+symbol]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return v, nil
}

func (c *fakePositionCache) Invalidate(_ context.Context, accountID, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, accountID+":"+symbol)
	return nil
}

type fakeLockManager struct {
	mu       sync.Mutex
	acquired []string
}

func (f *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}

type fakeBroker struct {
	positions []domain.BrokerPosition
	err       error
}

func (b *fakeBroker) GetPositions(_ context.Context, _ domain.Account) ([]domain.BrokerPosition, error) {
	return b.positions, b.err
}

func (b *fakeBroker) PlaceOrder(_ context.Context, _ domain.Account, _ domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, errors.New("not implemented")
}

func (b *fakeBroker) CancelOrder(_ context.Context, _ domain.Account, _ string) (bool, error) {
	return false, nil
}

type fakeDirectory struct {
	broker domain.Broker
	err    error
}

func (d *fakeDirectory) ForAccount(accountID string) (domain.Broker, domain.Account, error) {
	if d.err != nil {
		return nil, domain.Account{}, d.err
	}
	return d.broker, domain.Account{ID: accountID, BrokerID: "paper", Active: true}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freshActivation(pos int64) domain.StrategyActivation {
	now := time.Now()
	return domain.StrategyActivation{
		ID:                 "act-1",
		UserID:             "user-1",
		SourceID:           "src-1",
		Symbol:             "MNQ1!",
		Mode:               domain.ModeSingle,
		AccountID:          "acct-1",
		Quantity:           10,
		LastKnownPosition:  pos,
		LastPositionUpdate: &now,
		Active:             true,
	}
}

func TestCurrentPositionFreshDBWins(t *testing.T) {
	act := freshActivation(7)
	// A broker disagreeing with a fresh record must not be consulted.
	broker := &fakeBroker{positions: []domain.BrokerPosition{{Symbol: "MNQ1!", Quantity: 3}}}
	l := New(newFakeActivationStore(act), newFakePositionCache(), &fakeLockManager{},
		&fakeDirectory{broker: broker}, Config{}, testLogger())

	if got := l.CurrentPosition(context.Background(), act, "acct-1"); got != 7 {
		t.Fatalf("position = %d, want 7 from fresh record", got)
	}
}

func TestCurrentPositionStaleFallsBackToBroker(t *testing.T) {
	act := freshActivation(7)
	stale := time.Now().Add(-48 * time.Hour)
	act.LastPositionUpdate = &stale

	broker := &fakeBroker{positions: []domain.BrokerPosition{{Symbol: "MNQ1!", Quantity: 3}}}
	cache := newFakePositionCache()
	l := New(newFakeActivationStore(act), cache, &fakeLockManager{},
		&fakeDirectory{broker: broker}, Config{}, testLogger())

	if got := l.CurrentPosition(context.Background(), act, "acct-1"); got != 3 {
		t.Fatalf("position = %d, want 3 from broker", got)
	}
	// The broker read is mirrored.
	if v, err := cache.Get(context.Background(), "acct-1", "MNQ1!"); err != nil || v != 3 {
		t.Fatalf("mirror = %d, %v; want 3", v, err)
	}
}

func TestCurrentPositionFollowerAlwaysBroker(t *testing.T) {
	act := freshActivation(7)
	broker := &fakeBroker{positions: []domain.BrokerPosition{{Symbol: "MNQ1!", Quantity: 4}}}
	l := New(newFakeActivationStore(act), newFakePositionCache(), &fakeLockManager{},
		&fakeDirectory{broker: broker}, Config{}, testLogger())

	// A non-primary account ignores the activation's persisted state.
	if got := l.CurrentPosition(context.Background(), act, "follower-1"); got != 4 {
		t.Fatalf("position = %d, want 4 from broker", got)
	}
}

func TestCurrentPositionBrokerFailureAssumesFlat(t *testing.T) {
	act := freshActivation(7)
	stale := time.Now().Add(-48 * time.Hour)
	act.LastPositionUpdate = &stale

	l := New(newFakeActivationStore(act), newFakePositionCache(), &fakeLockManager{},
		&fakeDirectory{broker: &fakeBroker{err: errors.New("venue down")}}, Config{}, testLogger())

	if got := l.CurrentPosition(context.Background(), act, "acct-1"); got != 0 {
		t.Fatalf("position = %d, want 0 on broker failure", got)
	}
}

func TestApplyPartialExitBookkeeping(t *testing.T) {
	act := freshActivation(10)
	store := newFakeActivationStore(act)
	locks := &fakeLockManager{}
	l := New(store, newFakePositionCache(), locks, &fakeDirectory{broker: &fakeBroker{}},
		Config{}, testLogger())
	ctx := context.Background()

	// Partial exit: counter increments, token recorded.
	pos, warn, err := l.Apply(ctx, "act-1", "acct-1", "MNQ1!", Change{
		Delta: -5, Side: domain.OrderSideSell, ExitType: "EXIT_50",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if pos != 5 || warn != nil {
		t.Fatalf("pos=%d warn=%v, want 5 and no warning", pos, warn)
	}
	got, _ := store.GetByID(ctx, "act-1")
	if got.PartialExitsCount != 1 || got.LastExitType != "EXIT_50" {
		t.Fatalf("bookkeeping = (%d, %q), want (1, EXIT_50)", got.PartialExitsCount, got.LastExitType)
	}

	// Final exit to flat: bookkeeping resets.
	pos, _, err = l.Apply(ctx, "act-1", "acct-1", "MNQ1!", Change{
		Delta: -5, Side: domain.OrderSideSell, ExitType: "EXIT_FINAL",
	})
	if err != nil {
		t.Fatalf("Apply final: %v", err)
	}
	if pos != 0 {
		t.Fatalf("pos = %d, want 0", pos)
	}
	got, _ = store.GetByID(ctx, "act-1")
	if got.PartialExitsCount != 0 || got.LastExitType != "" {
		t.Fatalf("bookkeeping = (%d, %q), want reset", got.PartialExitsCount, got.LastExitType)
	}

	// The write path locked the position both times.
	if len(locks.acquired) != 2 || locks.acquired[0] != "position:acct-1:MNQ1!" {
		t.Fatalf("lock keys = %v", locks.acquired)
	}
}

func TestApplyEntryResetsBookkeeping(t *testing.T) {
	act := freshActivation(0)
	act.LastExitType = "EXIT_50"
	act.PartialExitsCount = 2
	store := newFakeActivationStore(act)
	l := New(store, newFakePositionCache(), &fakeLockManager{},
		&fakeDirectory{broker: &fakeBroker{}}, Config{}, testLogger())

	pos, warn, err := l.Apply(context.Background(), "act-1", "acct-1", "MNQ1!", Change{
		Delta: 10, Side: domain.OrderSideBuy, Entry: true,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if pos != 10 || warn != nil {
		t.Fatalf("pos=%d warn=%v, want 10 and no warning", pos, warn)
	}
	got, _ := store.GetByID(context.Background(), "act-1")
	if got.PartialExitsCount != 0 || got.LastExitType != "" {
		t.Fatalf("entry did not reset bookkeeping: (%d, %q)", got.PartialExitsCount, got.LastExitType)
	}
}

func TestApplyRetriesStaleWrite(t *testing.T) {
	act := freshActivation(10)
	store := newFakeActivationStore(act)
	store.staleWrites = 2
	l := New(store, newFakePositionCache(), &fakeLockManager{},
		&fakeDirectory{broker: &fakeBroker{}}, Config{}, testLogger())

	pos, _, err := l.Apply(context.Background(), "act-1", "acct-1", "MNQ1!", Change{
		Delta: -5, Side: domain.OrderSideSell, ExitType: "EXIT_50",
	})
	if err != nil {
		t.Fatalf("Apply after CAS retries: %v", err)
	}
	if pos != 5 {
		t.Fatalf("pos = %d, want 5", pos)
	}
}

func TestApplyExhaustedRetriesFails(t *testing.T) {
	act := freshActivation(10)
	store := newFakeActivationStore(act)
	store.staleWrites = 10
	l := New(store, newFakePositionCache(), &fakeLockManager{},
		&fakeDirectory{broker: &fakeBroker{}}, Config{CASRetries: 2}, testLogger())

	_, _, err := l.Apply(context.Background(), "act-1", "acct-1", "MNQ1!", Change{
		Delta: -5, Side: domain.OrderSideSell,
	})
	if !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("err = %v, want ErrStaleWrite after retries exhausted", err)
	}
}

func TestApplyDirectionMismatchWarns(t *testing.T) {
	t.Run("exit while flat", func(t *testing.T) {
		act := freshActivation(0)
		l := New(newFakeActivationStore(act), newFakePositionCache(), &fakeLockManager{},
			&fakeDirectory{broker: &fakeBroker{}}, Config{}, testLogger())

		pos, warn, err := l.Apply(context.Background(), "act-1", "acct-1", "MNQ1!", Change{
			Delta: -3, Side: domain.OrderSideSell, ExitType: "EXIT_50",
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if warn == nil || warn.Code != domain.WarnDirectionMismatch {
			t.Fatalf("warning = %v, want direction mismatch", warn)
		}
		// Warn-and-proceed: the write still lands.
		if pos != -3 {
			t.Fatalf("pos = %d, want -3", pos)
		}
	})

	t.Run("buy exit while long", func(t *testing.T) {
		act := freshActivation(4)
		l := New(newFakeActivationStore(act), newFakePositionCache(), &fakeLockManager{},
			&fakeDirectory{broker: &fakeBroker{}}, Config{}, testLogger())

		_, warn, err := l.Apply(context.Background(), "act-1", "acct-1", "MNQ1!", Change{
			Delta: 2, Side: domain.OrderSideBuy, ExitType: "EXIT_50",
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if warn == nil || warn.Code != domain.WarnDirectionMismatch {
			t.Fatalf("warning = %v, want direction mismatch", warn)
		}
	})

	t.Run("buy exit covering short", func(t *testing.T) {
		act := freshActivation(-4)
		store := newFakeActivationStore(act)
		l := New(store, newFakePositionCache(), &fakeLockManager{},
			&fakeDirectory{broker: &fakeBroker{}}, Config{}, testLogger())

		pos, warn, err := l.Apply(context.Background(), "act-1", "acct-1", "MNQ1!", Change{
			Delta: 2, Side: domain.OrderSideBuy, ExitType: "EXIT_50",
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if warn != nil {
			t.Fatalf("covering a short warned: %v", warn)
		}
		if pos != -2 {
			t.Fatalf("pos = %d, want -2", pos)
		}
		// A buy exit is still an exit: bookkeeping advances, not resets.
		got, _ := store.GetByID(context.Background(), "act-1")
		if got.PartialExitsCount != 1 || got.LastExitType != "EXIT_50" {
			t.Fatalf("bookkeeping = (%d, %q), want (1, EXIT_50)", got.PartialExitsCount, got.LastExitType)
		}
	})

	t.Run("entry on short does not warn", func(t *testing.T) {
		act := freshActivation(-4)
		l := New(newFakeActivationStore(act), newFakePositionCache(), &fakeLockManager{},
			&fakeDirectory{broker: &fakeBroker{}}, Config{}, testLogger())

		_, warn, err := l.Apply(context.Background(), "act-1", "acct-1", "MNQ1!", Change{
			Delta: 10, Side: domain.OrderSideBuy, Entry: true,
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if warn != nil {
			t.Fatalf("entry warned: %v", warn)
		}
	})
}

func TestAccountPositionMirrorFirst(t *testing.T) {
	broker := &fakeBroker{positions: []domain.BrokerPosition{{Symbol: "MNQ1!", Quantity: 3}}}
	cache := newFakePositionCache()
	l := New(newFakeActivationStore(), cache, &fakeLockManager{},
		&fakeDirectory{broker: broker}, Config{}, testLogger())
	ctx := context.Background()

	// A warm mirror answers without touching the broker.
	if err := cache.Set(ctx, "acct-1", "MNQ1!", 6); err != nil {
		t.Fatal(err)
	}
	if got, err := l.AccountPosition(ctx, "acct-1", "MNQ1!"); err != nil || got != 6 {
		t.Fatalf("position = %d, %v; want 6 from mirror", got, err)
	}

	// After invalidation the broker is consulted and the answer re-mirrored.
	if err := cache.Invalidate(ctx, "acct-1", "MNQ1!"); err != nil {
		t.Fatal(err)
	}
	if got, err := l.AccountPosition(ctx, "acct-1", "MNQ1!"); err != nil || got != 3 {
		t.Fatalf("position = %d, %v; want 3 from broker", got, err)
	}
	if v, err := cache.Get(ctx, "acct-1", "MNQ1!"); err != nil || v != 3 {
		t.Fatalf("mirror = %d, %v; want 3", v, err)
	}
}

func TestAccountPositionBrokerFailureSurfaces(t *testing.T) {
	l := New(newFakeActivationStore(), newFakePositionCache(), &fakeLockManager{},
		&fakeDirectory{broker: &fakeBroker{err: errors.New("venue down")}}, Config{}, testLogger())

	if _, err := l.AccountPosition(context.Background(), "acct-1", "MNQ1!"); err == nil {
		t.Fatal("expected broker failure to surface to the API reader")
	}
}

func TestSyncWithBroker(t *testing.T) {
	t.Run("agreement", func(t *testing.T) {
		act := freshActivation(5)
		broker := &fakeBroker{positions: []domain.BrokerPosition{{Symbol: "MNQ1!", Quantity: 5}}}
		store := newFakeActivationStore(act)
		l := New(store, newFakePositionCache(), &fakeLockManager{},
			&fakeDirectory{broker: broker}, Config{}, testLogger())

		report, err := l.SyncWithBroker(context.Background(), act)
		if err != nil {
			t.Fatalf("SyncWithBroker: %v", err)
		}
		if report.Discrepancy || report.Corrected {
			t.Fatalf("report = %+v, want no discrepancy", report)
		}
		if len(store.updates) != 0 {
			t.Fatal("agreement must not write")
		}
	})

	t.Run("broker wins", func(t *testing.T) {
		act := freshActivation(5)
		broker := &fakeBroker{positions: []domain.BrokerPosition{{Symbol: "MNQ1!", Quantity: 2}}}
		store := newFakeActivationStore(act)
		l := New(store, newFakePositionCache(), &fakeLockManager{},
			&fakeDirectory{broker: broker}, Config{}, testLogger())

		report, err := l.SyncWithBroker(context.Background(), act)
		if err != nil {
			t.Fatalf("SyncWithBroker: %v", err)
		}
		if !report.Discrepancy || !report.Corrected {
			t.Fatalf("report = %+v, want corrected discrepancy", report)
		}
		got, _ := store.GetByID(context.Background(), "act-1")
		if got.LastKnownPosition != 2 {
			t.Fatalf("db position = %d, want 2", got.LastKnownPosition)
		}
	})

	t.Run("flat broker resets bookkeeping", func(t *testing.T) {
		act := freshActivation(5)
		act.LastExitType = "EXIT_50"
		act.PartialExitsCount = 1
		broker := &fakeBroker{} // no positions reported: flat
		store := newFakeActivationStore(act)
		l := New(store, newFakePositionCache(), &fakeLockManager{},
			&fakeDirectory{broker: broker}, Config{}, testLogger())

		if _, err := l.SyncWithBroker(context.Background(), act); err != nil {
			t.Fatalf("SyncWithBroker: %v", err)
		}
		got, _ := store.GetByID(context.Background(), "act-1")
		if got.LastKnownPosition != 0 || got.PartialExitsCount != 0 || got.LastExitType != "" {
			t.Fatalf("flat sync did not reset: %+v", got)
		}
	})
}
