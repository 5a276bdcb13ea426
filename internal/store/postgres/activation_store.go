package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantive/signalbridge/internal/domain"
)

// ActivationStore implements domain.ActivationStore using PostgreSQL.
type ActivationStore struct {
	pool *pgxpool.Pool
}

// NewActivationStore creates a new ActivationStore backed by the given
// connection pool.
func NewActivationStore(pool *pgxpool.Pool) *ActivationStore {
	return &ActivationStore{pool: pool}
}

const activationSelectCols = `id, user_id, strategy_id, version_hash, source_id, symbol, mode,
	account_id, quantity, leader_account_id, leader_quantity, followers, max_position_size,
	last_known_position, last_position_update, last_exit_type, partial_exits_count,
	active, last_triggered_at, created_at`

func scanActivationRow(row pgx.Row) (domain.StrategyActivation, error) {
	var a domain.StrategyActivation
	var mode string
	var followersJSON []byte

	err := row.Scan(
		&a.ID, &a.UserID, &a.StrategyID, &a.VersionHash, &a.SourceID, &a.Symbol, &mode,
		&a.AccountID, &a.Quantity, &a.LeaderAccountID, &a.LeaderQuantity, &followersJSON, &a.MaxPositionSize,
		&a.LastKnownPosition, &a.LastPositionUpdate, &a.LastExitType, &a.PartialExitsCount,
		&a.Active, &a.LastTriggeredAt, &a.CreatedAt,
	)
	if err != nil {
		return domain.StrategyActivation{}, err
	}
	a.Mode = domain.ActivationMode(mode)
	if len(followersJSON) > 0 {
		if err := json.Unmarshal(followersJSON, &a.Followers); err != nil {
			return domain.StrategyActivation{}, fmt.Errorf("decode followers: %w", err)
		}
	}
	return a, nil
}

// GetByID retrieves an activation by its ID.
func (s *ActivationStore) GetByID(ctx context.Context, id string) (domain.StrategyActivation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+activationSelectCols+` FROM activations WHERE id = $1`, id)

	a, err := scanActivationRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyActivation{}, domain.ErrNotFound
		}
		return domain.StrategyActivation{}, fmt.Errorf("postgres: get activation %s: %w", id, err)
	}
	return a, nil
}

// GetBySource returns the active activation bound to a signal source.
func (s *ActivationStore) GetBySource(ctx context.Context, sourceID string) (domain.StrategyActivation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+activationSelectCols+` FROM activations
		 WHERE source_id = $1 AND active
		 ORDER BY created_at DESC
		 LIMIT 1`, sourceID)

	a, err := scanActivationRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyActivation{}, domain.ErrNotFound
		}
		return domain.StrategyActivation{}, fmt.Errorf("postgres: get activation by source %s: %w", sourceID, err)
	}
	return a, nil
}

// FindActiveForSymbol returns the user's most recently triggered active
// activation matching the given symbol.
func (s *ActivationStore) FindActiveForSymbol(ctx context.Context, userID, symbol string) (domain.StrategyActivation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+activationSelectCols+` FROM activations
		 WHERE user_id = $1 AND symbol = $2 AND active
		 ORDER BY last_triggered_at DESC NULLS LAST
		 LIMIT 1`, userID, symbol)

	a, err := scanActivationRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyActivation{}, domain.ErrNotFound
		}
		return domain.StrategyActivation{}, fmt.Errorf("postgres: find activation for %s/%s: %w", userID, symbol, err)
	}
	return a, nil
}

// MostRecentActive returns the user's most recently created active activation.
func (s *ActivationStore) MostRecentActive(ctx context.Context, userID string) (domain.StrategyActivation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+activationSelectCols+` FROM activations
		 WHERE user_id = $1 AND active
		 ORDER BY created_at DESC
		 LIMIT 1`, userID)

	a, err := scanActivationRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyActivation{}, domain.ErrNotFound
		}
		return domain.StrategyActivation{}, fmt.Errorf("postgres: most recent activation for %s: %w", userID, err)
	}
	return a, nil
}

// ListActive returns all active activations, used by the reconciliation loop.
func (s *ActivationStore) ListActive(ctx context.Context) ([]domain.StrategyActivation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activationSelectCols+` FROM activations WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active activations: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyActivation
	for rows.Next() {
		a, err := scanActivationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan activation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdatePosition applies a ledger write. When ExpectedUpdatedAt is set the
// statement is a compare-and-swap on last_position_update and returns
// domain.ErrStaleWrite if another writer got there first.
func (s *ActivationStore) UpdatePosition(ctx context.Context, upd domain.PositionUpdate) error {
	query := `
		UPDATE activations SET
			last_known_position  = $2,
			last_position_update = NOW(),
			last_exit_type       = $3,
			partial_exits_count  = $4,
			updated_at           = NOW()
		WHERE id = $1`
	args := []any{upd.ActivationID, upd.Position, upd.ExitType, upd.PartialExits}

	if upd.ExpectedUpdatedAt != nil {
		query += ` AND last_position_update = $5`
		args = append(args, *upd.ExpectedUpdatedAt)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", upd.ActivationID, err)
	}
	if tag.RowsAffected() == 0 {
		if upd.ExpectedUpdatedAt != nil {
			return domain.ErrStaleWrite
		}
		return domain.ErrNotFound
	}
	return nil
}

// TouchTriggered stamps the activation's last_triggered_at.
func (s *ActivationStore) TouchTriggered(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activations SET last_triggered_at = $2, updated_at = NOW() WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: touch activation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.ActivationStore = (*ActivationStore)(nil)
