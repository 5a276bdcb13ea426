package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
)

// TradeArchiveStore is the narrow slice of the trade store the archiver
// needs: time-ranged reads of closed trades and their retention delete.
type TradeArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Verifier checks that an uploaded archive actually landed before the
// archived rows are deleted from the primary store.
type Verifier interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves closed trades past their retention window out of Postgres
// and into object storage as JSONL, one file per cutoff month. Rows are
// deleted from the primary store only after the upload has been verified.
type Archiver struct {
	writer   domain.BlobWriter
	verifier Verifier
	trades   TradeArchiveStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	verifier Verifier,
	trades TradeArchiveStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:   writer,
		verifier: verifier,
		trades:   trades,
		audit:    audit,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// archivedTrade is the JSONL projection of one closed trade.
type archivedTrade struct {
	ID                string   `json:"id"`
	UserID            string   `json:"user_id"`
	StrategyID        string   `json:"strategy_id,omitempty"`
	VersionHash       string   `json:"version_hash,omitempty"`
	PositionID        string   `json:"position_id"`
	Symbol            string   `json:"symbol"`
	Side              string   `json:"side"`
	AccountID         string   `json:"account_id"`
	TotalQuantity     int64    `json:"total_quantity"`
	AverageEntryPrice float64  `json:"average_entry_price"`
	ExitPrice         *float64 `json:"exit_price,omitempty"`
	RealizedPnL       *float64 `json:"realized_pnl,omitempty"`
	IsVerifiedLive    bool     `json:"is_verified_live"`
	Environment       string   `json:"environment"`
	OpenedAt          string   `json:"opened_at"`
	ClosedAt          string   `json:"closed_at,omitempty"`
}

// ArchiveClosedTrades uploads every trade closed before the cutoff to
// archive/trades/YYYY-MM.jsonl, verifies the object exists, then deletes the
// archived rows. It returns the number of trades archived.
func (a *Archiver) ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalTradesJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	// Deleting rows before the archive is durable would lose trade history,
	// so confirm the object landed first.
	ok, err := a.verifier.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: verify archive %s: %w", path, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive %s missing after upload", path)
	}

	deleted, err := a.trades.DeleteClosedBefore(ctx, before)
	if err != nil {
		// The archive exists; the rows can be retried on the next sweep.
		return 0, fmt.Errorf("s3blob: delete archived trades: %w", err)
	}

	count := int64(len(trades))
	a.logger.Info("closed trades archived",
		slog.String("path", path),
		slog.Int64("archived", count),
		slog.Int64("deleted", deleted))

	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return count, nil
}

// Run sweeps on the given interval until the context is cancelled, archiving
// trades older than the retention window on each tick.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if _, err := a.ArchiveClosedTrades(ctx, cutoff); err != nil {
				a.logger.Error("archive sweep failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalTradesJSONL serializes trades as newline-delimited JSON, one compact
// line per trade.
func marshalTradesJSONL(trades []domain.Trade) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, t := range trades {
		rec := archivedTrade{
			ID:                t.ID,
			UserID:            t.UserID,
			StrategyID:        t.StrategyID,
			VersionHash:       t.VersionHash,
			PositionID:        t.PositionID,
			Symbol:            t.Symbol,
			Side:              string(t.Side),
			AccountID:         t.AccountID,
			TotalQuantity:     t.TotalQuantity,
			AverageEntryPrice: t.AverageEntryPrice,
			ExitPrice:         t.ExitPrice,
			RealizedPnL:       t.RealizedPnL,
			IsVerifiedLive:    t.IsVerifiedLive,
			Environment:       string(t.Environment),
			OpenedAt:          t.OpenedAt.UTC().Format(time.RFC3339),
		}
		if t.ClosedAt != nil {
			rec.ClosedAt = t.ClosedAt.UTC().Format(time.RFC3339)
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
