package domain

import "time"

// TradeStatus is the trade lifecycle state. OPEN -> CLOSED, no other states;
// a trade that never closes remains open indefinitely.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// ExecutionEnvironment classifies where a fill happened. Only live fills can
// ever be verified.
type ExecutionEnvironment string

const (
	EnvLive     ExecutionEnvironment = "live"
	EnvPaper    ExecutionEnvironment = "paper"
	EnvBacktest ExecutionEnvironment = "backtest"
)

// Trade is the persistent lifecycle record of one broker position, from the
// opening fill to flat. Created at most once per broker position id.
type Trade struct {
	ID          string
	UserID      string
	StrategyID  string
	VersionHash string

	PositionID string // broker-assigned, unique; dedup key for creation
	Symbol     string
	Side       OrderSide
	AccountID  string

	TotalQuantity     int64
	AverageEntryPrice float64
	ExitPrice         *float64
	RealizedPnL       *float64

	Status TradeStatus

	// IsVerifiedLive is true only when the originating fill carried both a
	// broker fill id and a broker execution timestamp, in a live environment.
	IsVerifiedLive bool
	Environment    ExecutionEnvironment

	OpenedAt        time.Time
	ClosedAt        *time.Time
	DurationSeconds *int64
}

// TradeExecution is one per-account fill belonging to a fan-out Trade. It has
// no lifecycle of its own.
type TradeExecution struct {
	ID        string
	TradeID   string
	AccountID string
	OrderID   string
	Side      OrderSide
	Quantity  int64
	FillPrice float64
	CreatedAt time.Time
}

// PositionEvent is a live position change reported by a broker fill, the
// input the trade lifecycle tracker consumes.
type PositionEvent struct {
	PositionID string
	AccountID  string
	Symbol     string
	Side       OrderSide
	Quantity   int64
	AvgPrice   float64
	ExitPrice  float64

	FillID     string
	ExecutedAt *time.Time

	Environment ExecutionEnvironment
	OccurredAt  time.Time
}

// VerifiedLive reports whether the event is eligible to mark a trade as
// verified-live: broker fill id, broker execution timestamp, live venue.
func (e PositionEvent) VerifiedLive() bool {
	return e.FillID != "" && e.ExecutedAt != nil && e.Environment == EnvLive
}
