// Package lifecycle tracks trades from the opening broker fill to flat. A
// trade is created at most once per broker position id, attributed to a
// strategy activation, and closed exactly once; closes of verified-live
// trades fold into the strategy version's cached performance counters.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantive/signalbridge/internal/domain"
)

// TradesChannel is the bus channel trade lifecycle events are published on.
const TradesChannel = "trades"

// Attribution names the strategy a trade belongs to. Leave fields empty to
// let the tracker resolve attribution from the user's active activations.
type Attribution struct {
	StrategyID  string
	VersionHash string
}

// Tracker is the trade lifecycle service.
type Tracker struct {
	trades      domain.TradeStore
	activations domain.ActivationStore
	versions    domain.StrategyVersionStore
	bus         domain.SignalBus
	logger      *slog.Logger
}

// New creates a Tracker. The bus may be nil, in which case lifecycle events
// are not published.
func New(
	trades domain.TradeStore,
	activations domain.ActivationStore,
	versions domain.StrategyVersionStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Tracker {
	return &Tracker{
		trades:      trades,
		activations: activations,
		versions:    versions,
		bus:         bus,
		logger:      logger.With(slog.String("component", "lifecycle")),
	}
}

// tradeEvent is the JSON payload published on TradesChannel.
type tradeEvent struct {
	Type        string  `json:"type"`
	TradeID     string  `json:"trade_id"`
	PositionID  string  `json:"position_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Quantity    int64   `json:"quantity"`
	StrategyID  string  `json:"strategy_id,omitempty"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
}

// publish sends a lifecycle event on the trades channel, best effort.
func (t *Tracker) publish(ctx context.Context, ev tradeEvent) {
	if t.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.logger.Warn("trade event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := t.bus.Publish(ctx, TradesChannel, payload); err != nil {
		t.logger.Warn("trade event publish failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()))
	}
}

// RecordOpen creates the trade for a position-opening fill. Creation is
// idempotent on the broker position id: a duplicate event returns the
// existing trade with created=false and no side effects.
func (t *Tracker) RecordOpen(ctx context.Context, userID string, e domain.PositionEvent, attrib Attribution) (domain.Trade, bool, error) {
	if attrib.StrategyID == "" {
		attrib = t.resolveAttribution(ctx, userID, e.Symbol)
	}

	trade := domain.Trade{
		ID:                uuid.New().String(),
		UserID:            userID,
		StrategyID:        attrib.StrategyID,
		VersionHash:       attrib.VersionHash,
		PositionID:        e.PositionID,
		Symbol:            e.Symbol,
		Side:              e.Side,
		AccountID:         e.AccountID,
		TotalQuantity:     e.Quantity,
		AverageEntryPrice: e.AvgPrice,
		Status:            domain.TradeStatusOpen,
		IsVerifiedLive:    e.VerifiedLive(),
		Environment:       e.Environment,
		OpenedAt:          e.OccurredAt,
	}

	created, wasCreated, err := t.trades.CreateIfAbsent(ctx, trade)
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("lifecycle: open trade %s: %w", e.PositionID, err)
	}
	if wasCreated {
		t.logger.Info("trade opened",
			slog.String("trade_id", created.ID),
			slog.String("position_id", created.PositionID),
			slog.String("symbol", created.Symbol),
			slog.String("strategy_id", created.StrategyID),
			slog.Bool("verified_live", created.IsVerifiedLive))
		t.publish(ctx, tradeEvent{
			Type:       "trade_opened",
			TradeID:    created.ID,
			PositionID: created.PositionID,
			Symbol:     created.Symbol,
			Side:       string(created.Side),
			Quantity:   created.TotalQuantity,
			StrategyID: created.StrategyID,
		})
	}
	return created, wasCreated, nil
}

// resolveAttribution picks the strategy a new trade belongs to: the user's
// active activation for the symbol, falling back to the most recently created
// active activation, falling back to unattributed.
func (t *Tracker) resolveAttribution(ctx context.Context, userID, symbol string) Attribution {
	act, err := t.activations.FindActiveForSymbol(ctx, userID, symbol)
	if err == nil {
		return Attribution{StrategyID: act.StrategyID, VersionHash: act.VersionHash}
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.logger.Warn("symbol attribution lookup failed",
			slog.String("user_id", userID),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}

	act, err = t.activations.MostRecentActive(ctx, userID)
	if err == nil {
		return Attribution{StrategyID: act.StrategyID, VersionHash: act.VersionHash}
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.logger.Warn("fallback attribution lookup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
	return Attribution{}
}

// RecordEntry re-averages an open trade after a scale-in fill. The event's
// Quantity is the new total position size and AvgPrice the fill price of the
// added contracts; the stored entry price becomes the size-weighted average
// of the old basis and the new fill. Events that do not grow the position
// are ignored.
func (t *Tracker) RecordEntry(ctx context.Context, e domain.PositionEvent) error {
	trade, err := t.trades.GetByPositionID(ctx, e.PositionID)
	if err != nil {
		return fmt.Errorf("lifecycle: entry for unknown position %s: %w", e.PositionID, err)
	}
	if trade.Status == domain.TradeStatusClosed {
		return nil
	}
	added := e.Quantity - trade.TotalQuantity
	if added <= 0 {
		return nil
	}

	newAvg := (trade.AverageEntryPrice*float64(trade.TotalQuantity) + e.AvgPrice*float64(added)) / float64(e.Quantity)

	if err := t.trades.UpdateEntry(ctx, e.PositionID, e.Quantity, newAvg); err != nil {
		return fmt.Errorf("lifecycle: update entry %s: %w", e.PositionID, err)
	}
	t.logger.Info("trade entry re-averaged",
		slog.String("position_id", e.PositionID),
		slog.Int64("total_quantity", e.Quantity),
		slog.Float64("avg_entry_price", newAvg))
	return nil
}

// RecordExecution appends one per-account fill to a fan-out trade.
func (t *Tracker) RecordExecution(ctx context.Context, positionID string, e domain.PositionEvent, orderID string) error {
	trade, err := t.trades.GetByPositionID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("lifecycle: execution for unknown position %s: %w", positionID, err)
	}

	exec := domain.TradeExecution{
		ID:        uuid.New().String(),
		TradeID:   trade.ID,
		AccountID: e.AccountID,
		OrderID:   orderID,
		Side:      e.Side,
		Quantity:  e.Quantity,
		FillPrice: e.AvgPrice,
		CreatedAt: e.OccurredAt,
	}
	if err := t.trades.InsertExecution(ctx, exec); err != nil {
		return fmt.Errorf("lifecycle: record execution: %w", err)
	}
	return nil
}

// RecordClose closes the trade for a position-flattening fill, returning the
// realized PnL. Closing is exactly-once: a duplicate close event returns
// closed=false and performs no side effects. When a verified-live attributed
// trade closes, its realized outcome is folded into the strategy version's
// counters.
func (t *Tracker) RecordClose(ctx context.Context, e domain.PositionEvent) (bool, float64, error) {
	trade, err := t.trades.GetByPositionID(ctx, e.PositionID)
	if err != nil {
		return false, 0, fmt.Errorf("lifecycle: close for unknown position %s: %w", e.PositionID, err)
	}

	closedAt := e.OccurredAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	pnl := realizedPnL(trade, e.ExitPrice)

	closed, err := t.trades.Close(ctx, e.PositionID, e.ExitPrice, pnl, closedAt)
	if err != nil {
		return false, 0, fmt.Errorf("lifecycle: close trade %s: %w", e.PositionID, err)
	}
	if !closed {
		// Already closed by an earlier event.
		return false, 0, nil
	}

	t.logger.Info("trade closed",
		slog.String("trade_id", trade.ID),
		slog.String("position_id", trade.PositionID),
		slog.String("symbol", trade.Symbol),
		slog.Float64("realized_pnl", pnl))
	t.publish(ctx, tradeEvent{
		Type:        "trade_closed",
		TradeID:     trade.ID,
		PositionID:  trade.PositionID,
		Symbol:      trade.Symbol,
		Side:        string(trade.Side),
		Quantity:    trade.TotalQuantity,
		StrategyID:  trade.StrategyID,
		RealizedPnL: pnl,
	})

	if trade.IsVerifiedLive && trade.VersionHash != "" {
		out := domain.TradeOutcome{
			RealizedPnL: pnl,
			Win:         pnl > 0,
			ClosedAt:    closedAt,
		}
		if err := t.versions.ApplyTradeOutcome(ctx, trade.VersionHash, out); err != nil {
			// The trade is closed; a counter failure must not undo that.
			t.logger.Error("strategy version counter update failed",
				slog.String("version_hash", trade.VersionHash),
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()))
		}
	}
	return true, pnl, nil
}

// realizedPnL computes the realized result of a full close at exitPrice.
// Long trades profit when the exit exceeds the entry; short trades the
// opposite.
func realizedPnL(trade domain.Trade, exitPrice float64) float64 {
	diff := exitPrice - trade.AverageEntryPrice
	if trade.Side == domain.OrderSideSell {
		diff = -diff
	}
	return diff * float64(trade.TotalQuantity)
}
