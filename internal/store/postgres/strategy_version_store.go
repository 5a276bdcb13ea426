package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantive/signalbridge/internal/domain"
)

// StrategyVersionStore implements domain.StrategyVersionStore using
// PostgreSQL.
type StrategyVersionStore struct {
	pool *pgxpool.Pool
}

// NewStrategyVersionStore creates a new StrategyVersionStore backed by the
// given connection pool.
func NewStrategyVersionStore(pool *pgxpool.Pool) *StrategyVersionStore {
	return &StrategyVersionStore{pool: pool}
}

// Get retrieves a strategy version by its hash.
func (s *StrategyVersionStore) Get(ctx context.Context, hash string) (domain.StrategyVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT hash, strategy_id, live_total_trades, live_winning_trades,
		       live_total_pnl, live_win_rate, first_live_trade_at, last_live_trade_at, created_at
		FROM strategy_versions WHERE hash = $1`, hash)

	var v domain.StrategyVersion
	err := row.Scan(
		&v.Hash, &v.StrategyID, &v.LiveTotalTrades, &v.LiveWinningTrades,
		&v.LiveTotalPnL, &v.LiveWinRate, &v.FirstLiveTradeAt, &v.LastLiveTradeAt, &v.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyVersion{}, domain.ErrNotFound
		}
		return domain.StrategyVersion{}, fmt.Errorf("postgres: get strategy version %s: %w", hash, err)
	}
	return v, nil
}

// ApplyTradeOutcome folds one closed verified-live trade into the version's
// cached counters. A single UPDATE keeps the counters, win rate, and
// first/last trade timestamps consistent under concurrent closes.
func (s *StrategyVersionStore) ApplyTradeOutcome(ctx context.Context, hash string, out domain.TradeOutcome) error {
	win := 0
	if out.Win {
		win = 1
	}

	const query = `
		UPDATE strategy_versions SET
			live_total_trades   = live_total_trades + 1,
			live_winning_trades = live_winning_trades + $2,
			live_total_pnl      = live_total_pnl + $3,
			live_win_rate       = (live_winning_trades + $2)::DOUBLE PRECISION / (live_total_trades + 1),
			first_live_trade_at = COALESCE(first_live_trade_at, $4),
			last_live_trade_at  = GREATEST(COALESCE(last_live_trade_at, $4), $4)
		WHERE hash = $1`

	tag, err := s.pool.Exec(ctx, query, hash, win, out.RealizedPnL, out.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: apply trade outcome to %s: %w", hash, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.StrategyVersionStore = (*StrategyVersionStore)(nil)
