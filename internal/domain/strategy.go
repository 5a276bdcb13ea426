package domain

import "time"

// StrategyVersion is an immutable, hash-identified revision of a trading
// algorithm. It accumulates cached performance counters sourced exclusively
// from closed, verified-live trades; the trade lifecycle tracker is the only
// writer, exactly once per closed trade.
type StrategyVersion struct {
	Hash       string
	StrategyID string

	LiveTotalTrades   int64
	LiveWinningTrades int64
	LiveTotalPnL      float64
	LiveWinRate       float64
	FirstLiveTradeAt  *time.Time
	LastLiveTradeAt   *time.Time

	CreatedAt time.Time
}

// TradeOutcome is the realized result folded into a version's counters when
// a verified-live trade closes.
type TradeOutcome struct {
	RealizedPnL float64
	Win         bool
	ClosedAt    time.Time
}
