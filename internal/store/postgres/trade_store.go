package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantive/signalbridge/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, user_id, strategy_id, version_hash, position_id, symbol, side,
	account_id, total_quantity, average_entry_price, exit_price, realized_pnl,
	status, is_verified_live, environment, opened_at, closed_at, duration_seconds`

func scanTradeRow(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var side, status, env string

	err := row.Scan(
		&t.ID, &t.UserID, &t.StrategyID, &t.VersionHash, &t.PositionID, &t.Symbol, &side,
		&t.AccountID, &t.TotalQuantity, &t.AverageEntryPrice, &t.ExitPrice, &t.RealizedPnL,
		&status, &t.IsVerifiedLive, &env, &t.OpenedAt, &t.ClosedAt, &t.DurationSeconds,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	t.Environment = domain.ExecutionEnvironment(env)
	return t, nil
}

// CreateIfAbsent inserts the trade unless one with the same broker position
// id already exists. The unique index on position_id makes creation
// at-most-once; on conflict the existing row is returned unchanged.
func (s *TradeStore) CreateIfAbsent(ctx context.Context, t domain.Trade) (domain.Trade, bool, error) {
	const query = `
		INSERT INTO trades (
			id, user_id, strategy_id, version_hash, position_id, symbol, side,
			account_id, total_quantity, average_entry_price, exit_price, realized_pnl,
			status, is_verified_live, environment, opened_at, closed_at, duration_seconds, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, NOW()
		) ON CONFLICT (position_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.UserID, t.StrategyID, t.VersionHash, t.PositionID, t.Symbol, string(t.Side),
		t.AccountID, t.TotalQuantity, t.AverageEntryPrice, t.ExitPrice, t.RealizedPnL,
		string(t.Status), t.IsVerifiedLive, string(t.Environment), t.OpenedAt, t.ClosedAt, t.DurationSeconds,
	)
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("postgres: create trade %s: %w", t.PositionID, err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := s.GetByPositionID(ctx, t.PositionID)
		if err != nil {
			return domain.Trade{}, false, err
		}
		return existing, false, nil
	}
	return t, true, nil
}

// GetByPositionID retrieves the trade keyed by a broker position id.
func (s *TradeStore) GetByPositionID(ctx context.Context, positionID string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE position_id = $1`, positionID)

	t, err := scanTradeRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", positionID, err)
	}
	return t, nil
}

// UpdateEntry re-averages entry price and quantity while a position is still
// building. Closed trades are never touched.
func (s *TradeStore) UpdateEntry(ctx context.Context, positionID string, totalQuantity int64, avgEntryPrice float64) error {
	const query = `
		UPDATE trades SET
			total_quantity      = $2,
			average_entry_price = $3,
			updated_at          = NOW()
		WHERE position_id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, positionID, totalQuantity, avgEntryPrice)
	if err != nil {
		return fmt.Errorf("postgres: update trade entry %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close transitions an open trade to closed, recording exit price, realized
// PnL, close time, and duration. The status guard makes close exactly-once:
// it returns false when the trade was already closed.
func (s *TradeStore) Close(ctx context.Context, positionID string, exitPrice, realizedPnL float64, closedAt time.Time) (bool, error) {
	const query = `
		UPDATE trades SET
			status           = 'closed',
			exit_price       = $2,
			realized_pnl     = $3,
			closed_at        = $4,
			duration_seconds = EXTRACT(EPOCH FROM ($4 - opened_at))::BIGINT,
			updated_at       = NOW()
		WHERE position_id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, positionID, exitPrice, realizedPnL, closedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: close trade %s: %w", positionID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertExecution records one per-account fill of a fan-out trade.
func (s *TradeStore) InsertExecution(ctx context.Context, exec domain.TradeExecution) error {
	const query = `
		INSERT INTO trade_executions (id, trade_id, account_id, order_id, side, quantity, fill_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		exec.ID, exec.TradeID, exec.AccountID, exec.OrderID,
		string(exec.Side), exec.Quantity, exec.FillPrice, exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade execution %s: %w", exec.ID, err)
	}
	return nil
}

// ListByUser returns a user's trades with pagination and optional time
// filtering.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", userID, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListClosedBefore returns closed trades whose close time is strictly before
// the cutoff, oldest first (for archiving).
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE status = 'closed' AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades before: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan closed trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DeleteClosedBefore deletes closed trades older than the cutoff, returning
// the number deleted. Executions cascade.
func (s *TradeStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE status = 'closed' AND closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
