package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionUpdate is one ledger write against an activation's persisted
// position state.
type PositionUpdate struct {
	ActivationID string
	Position     int64

	// ExitType records the exit token that produced this write; empty for
	// entries.
	ExitType string

	// PartialExits is the new partial_exits_count value.
	PartialExits int

	// ExpectedUpdatedAt, when non-nil, makes the write a compare-and-swap:
	// the store must reject the update with ErrStaleWrite if the row's
	// last_position_update no longer matches.
	ExpectedUpdatedAt *time.Time
}

// ActivationStore persists strategy activations and their ledger state.
type ActivationStore interface {
	GetByID(ctx context.Context, id string) (StrategyActivation, error)
	GetBySource(ctx context.Context, sourceID string) (StrategyActivation, error)

	// FindActiveForSymbol returns the user's most recently triggered active
	// activation matching the symbol.
	FindActiveForSymbol(ctx context.Context, userID, symbol string) (StrategyActivation, error)

	// MostRecentActive returns the user's most recently created active
	// activation, the attribution fallback when no symbol match exists.
	MostRecentActive(ctx context.Context, userID string) (StrategyActivation, error)

	ListActive(ctx context.Context) ([]StrategyActivation, error)

	// UpdatePosition applies a ledger write, stamping last_position_update.
	UpdatePosition(ctx context.Context, upd PositionUpdate) error

	// TouchTriggered records that the activation just received a signal.
	TouchTriggered(ctx context.Context, id string, at time.Time) error
}

// TradeStore persists trades and their per-account executions.
type TradeStore interface {
	// CreateIfAbsent inserts the trade unless one with the same broker
	// position id already exists, in which case the existing trade is
	// returned with created=false.
	CreateIfAbsent(ctx context.Context, t Trade) (Trade, bool, error)

	GetByPositionID(ctx context.Context, positionID string) (Trade, error)

	// UpdateEntry re-averages entry price and quantity while a position is
	// still building.
	UpdateEntry(ctx context.Context, positionID string, totalQuantity int64, avgEntryPrice float64) error

	// Close transitions an open trade to closed. It returns false when the
	// trade was already closed, making close side effects exactly-once.
	Close(ctx context.Context, positionID string, exitPrice, realizedPnL float64, closedAt time.Time) (bool, error)

	InsertExecution(ctx context.Context, exec TradeExecution) error

	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)

	// ListClosedBefore and DeleteClosedBefore support retention archival.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// StrategyVersionStore persists immutable strategy versions and their cached
// live performance counters.
type StrategyVersionStore interface {
	Get(ctx context.Context, hash string) (StrategyVersion, error)

	// ApplyTradeOutcome folds one closed verified-live trade into the
	// version's counters in a single atomic statement.
	ApplyTradeOutcome(ctx context.Context, hash string, out TradeOutcome) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
