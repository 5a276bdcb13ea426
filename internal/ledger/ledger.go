// Package ledger maintains the per-activation position state: a database
// record refreshed by broker queries, mirrored into a short-TTL cache.
// Writes are serialized with a distributed lock and a compare-and-swap on the
// row's update timestamp, so concurrent signals for the same position never
// interleave a stale read-modify-write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
)

// Directory resolves an account id to the broker adapter that serves it.
type Directory interface {
	ForAccount(accountID string) (domain.Broker, domain.Account, error)
}

// Config tunes the ledger's freshness and locking behavior.
type Config struct {
	// Freshness is how long a persisted position counts as authoritative
	// before the broker is consulted again.
	Freshness time.Duration

	// LockTTL bounds how long a position write may hold its lock.
	LockTTL time.Duration

	// CASRetries is how many times a write is retried after losing a
	// compare-and-swap race.
	CASRetries int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Freshness:  24 * time.Hour,
		LockTTL:    10 * time.Second,
		CASRetries: 3,
	}
}

// Change describes one position write produced by an executed order.
type Change struct {
	// Delta is the signed quantity change: positive for buys, negative for
	// sells.
	Delta int64

	// Side is the direction of the order that produced this change.
	Side domain.OrderSide

	// ExitType is the raw exit token for exits, empty for entries.
	ExitType string

	// Entry marks position-opening changes, which reset exit bookkeeping.
	Entry bool
}

// SyncReport is the outcome of reconciling one activation against its broker.
type SyncReport struct {
	ActivationID   string `json:"activation_id"`
	AccountID      string `json:"account_id"`
	Symbol         string `json:"symbol"`
	DBPosition     int64  `json:"db_position"`
	BrokerPosition int64  `json:"broker_position"`
	Discrepancy    bool   `json:"discrepancy"`
	Corrected      bool   `json:"corrected"`
}

// Ledger is the position ledger service.
type Ledger struct {
	activations domain.ActivationStore
	positions   domain.PositionCache
	locks       domain.LockManager
	directory   Directory
	cfg         Config
	logger      *slog.Logger
}

// New creates a Ledger. Zero config fields fall back to DefaultConfig values.
func New(
	activations domain.ActivationStore,
	positions domain.PositionCache,
	locks domain.LockManager,
	directory Directory,
	cfg Config,
	logger *slog.Logger,
) *Ledger {
	def := DefaultConfig()
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = def.CASRetries
	}
	return &Ledger{
		activations: activations,
		positions:   positions,
		locks:       locks,
		directory:   directory,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "ledger")),
	}
}

// CurrentPosition returns the signed position for one account and symbol.
// For the activation's primary account a fresh database record is
// authoritative; otherwise the broker is queried and the result mirrored into
// the cache. A broker failure degrades to zero so that downstream sizing
// fails safe rather than blocking the signal.
func (l *Ledger) CurrentPosition(ctx context.Context, act domain.StrategyActivation, accountID string) int64 {
	if accountID == act.PrimaryAccountID() && act.PositionFresh(l.cfg.Freshness, time.Now()) {
		return act.LastKnownPosition
	}

	qty, err := l.brokerPosition(ctx, accountID, act.Symbol)
	if err != nil {
		l.logger.Warn("broker position lookup failed, assuming flat",
			slog.String("account_id", accountID),
			slog.String("symbol", act.Symbol),
			slog.String("error", err.Error()))
		return 0
	}

	if err := l.positions.Set(ctx, accountID, act.Symbol, qty); err != nil {
		l.logger.Warn("position mirror write failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
	}
	return qty
}

// AccountPosition reports the signed position for one account and symbol.
// The short-TTL mirror is consulted first so repeated API reads do not hammer
// the venue; on a miss the broker is queried and the answer mirrored. It
// never trusts the activation record, so readers see at worst a mirror-TTL
// old view of what the broker sees.
func (l *Ledger) AccountPosition(ctx context.Context, accountID, symbol string) (int64, error) {
	qty, err := l.positions.Get(ctx, accountID, symbol)
	if err == nil {
		return qty, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		l.logger.Warn("position mirror read failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
	}

	qty, err = l.brokerPosition(ctx, accountID, symbol)
	if err != nil {
		return 0, err
	}
	if err := l.positions.Set(ctx, accountID, symbol, qty); err != nil {
		l.logger.Warn("position mirror write failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
	}
	return qty, nil
}

// brokerPosition queries the account's broker for the symbol's live position.
// A symbol absent from the response means flat.
func (l *Ledger) brokerPosition(ctx context.Context, accountID, symbol string) (int64, error) {
	broker, account, err := l.directory.ForAccount(accountID)
	if err != nil {
		return 0, err
	}

	positions, err := broker.GetPositions(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("ledger: get positions for %s: %w", accountID, err)
	}

	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

// Apply records one position change for the activation's primary account.
// The write happens under a per-position distributed lock and re-reads the
// activation inside the critical section; the store write compare-and-swaps
// on the previous update timestamp and is retried on a lost race.
//
// A direction mismatch between the recorded position and the change is
// reported as a warning on the return value, never as an error: the order has
// already been placed and the ledger must reflect it.
func (l *Ledger) Apply(ctx context.Context, activationID, accountID, symbol string, ch Change) (int64, *domain.Warning, error) {
	unlock, err := l.locks.Acquire(ctx, positionLockKey(accountID, symbol), l.cfg.LockTTL)
	if err != nil {
		return 0, nil, fmt.Errorf("ledger: lock position %s/%s: %w", accountID, symbol, err)
	}
	defer unlock()

	var (
		newPos  int64
		warning *domain.Warning
	)

	for attempt := 0; ; attempt++ {
		fresh, err := l.activations.GetByID(ctx, activationID)
		if err != nil {
			return 0, nil, fmt.Errorf("ledger: reload activation %s: %w", activationID, err)
		}

		oldPos := fresh.LastKnownPosition
		newPos = oldPos + ch.Delta
		warning = directionWarning(oldPos, ch)

		upd := domain.PositionUpdate{
			ActivationID:      activationID,
			Position:          newPos,
			ExpectedUpdatedAt: fresh.LastPositionUpdate,
		}

		switch {
		case ch.Entry:
			// Opening or scaling in resets exit bookkeeping.
			upd.ExitType = ""
			upd.PartialExits = 0
		case newPos == 0:
			// The position is flat: the exit sequence is complete.
			upd.ExitType = ""
			upd.PartialExits = 0
		default:
			upd.ExitType = ch.ExitType
			upd.PartialExits = fresh.PartialExitsCount + 1
		}

		err = l.activations.UpdatePosition(ctx, upd)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrStaleWrite) && attempt < l.cfg.CASRetries {
			l.logger.Warn("position write lost compare-and-swap race, retrying",
				slog.String("activation_id", activationID),
				slog.Int("attempt", attempt+1))
			continue
		}
		return 0, nil, fmt.Errorf("ledger: update position %s: %w", activationID, err)
	}

	if err := l.positions.Set(ctx, accountID, symbol, newPos); err != nil {
		l.logger.Warn("position mirror write failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
	}

	l.logger.Info("position updated",
		slog.String("activation_id", activationID),
		slog.String("account_id", accountID),
		slog.String("symbol", symbol),
		slog.Int64("delta", ch.Delta),
		slog.Int64("position", newPos))

	return newPos, warning, nil
}

// directionWarning flags exits that contradict the recorded position: a sell
// exit while the ledger shows short or flat, a buy exit while it shows long
// or flat. Entries never warn, and the change is still applied either way.
func directionWarning(oldPos int64, ch Change) *domain.Warning {
	if ch.Entry {
		return nil
	}
	mismatch := false
	switch ch.Side {
	case domain.OrderSideSell:
		mismatch = oldPos <= 0
	case domain.OrderSideBuy:
		mismatch = oldPos >= 0
	}
	if !mismatch {
		return nil
	}
	return &domain.Warning{
		Code: domain.WarnDirectionMismatch,
		Message: fmt.Sprintf("recorded position %d conflicts with %s exit",
			oldPos, ch.Side),
	}
}

// SyncWithBroker reconciles one activation's persisted position against the
// broker's report. The broker wins: on a discrepancy the database and mirror
// are corrected and the report says so.
func (l *Ledger) SyncWithBroker(ctx context.Context, act domain.StrategyActivation) (SyncReport, error) {
	accountID := act.PrimaryAccountID()
	report := SyncReport{
		ActivationID: act.ID,
		AccountID:    accountID,
		Symbol:       act.Symbol,
		DBPosition:   act.LastKnownPosition,
	}

	brokerQty, err := l.brokerPosition(ctx, accountID, act.Symbol)
	if err != nil {
		return report, fmt.Errorf("ledger: sync %s: %w", act.ID, err)
	}
	report.BrokerPosition = brokerQty

	if brokerQty == act.LastKnownPosition {
		return report, nil
	}
	report.Discrepancy = true

	l.logger.Warn("position discrepancy detected",
		slog.String("activation_id", act.ID),
		slog.String("account_id", accountID),
		slog.String("symbol", act.Symbol),
		slog.Int64("db_position", act.LastKnownPosition),
		slog.Int64("broker_position", brokerQty))

	unlock, err := l.locks.Acquire(ctx, positionLockKey(accountID, act.Symbol), l.cfg.LockTTL)
	if err != nil {
		return report, fmt.Errorf("ledger: lock position %s/%s: %w", accountID, act.Symbol, err)
	}
	defer unlock()

	upd := domain.PositionUpdate{
		ActivationID: act.ID,
		Position:     brokerQty,
		ExitType:     act.LastExitType,
		PartialExits: act.PartialExitsCount,
	}
	if brokerQty == 0 {
		upd.ExitType = ""
		upd.PartialExits = 0
	}
	if err := l.activations.UpdatePosition(ctx, upd); err != nil {
		return report, fmt.Errorf("ledger: correct position %s: %w", act.ID, err)
	}
	report.Corrected = true

	if err := l.positions.Set(ctx, accountID, act.Symbol, brokerQty); err != nil {
		l.logger.Warn("position mirror write failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
	}
	return report, nil
}

// SyncAll reconciles every active activation, returning one report per
// activation. Individual failures are logged and skipped so one bad broker
// does not stall the loop.
func (l *Ledger) SyncAll(ctx context.Context) ([]SyncReport, error) {
	acts, err := l.activations.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list activations: %w", err)
	}

	reports := make([]SyncReport, 0, len(acts))
	for _, act := range acts {
		report, err := l.SyncWithBroker(ctx, act)
		if err != nil {
			l.logger.Error("activation sync failed",
				slog.String("activation_id", act.ID),
				slog.String("error", err.Error()))
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func positionLockKey(accountID, symbol string) string {
	return "position:" + accountID + ":" + symbol
}
