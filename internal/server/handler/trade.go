package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantive/signalbridge/internal/domain"
)

// TradeService defines the methods that the trade handler requires.
type TradeService interface {
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error)
	GetByPositionID(ctx context.Context, positionID string) (domain.Trade, error)
}

// TradeHandler serves trade history endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trade"),
	}
}

// tradeView is the JSON projection of one trade.
type tradeView struct {
	ID                string   `json:"id"`
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
	Status            string   `json:"status"`
	IsVerifiedLive    bool     `json:"is_verified_live"`
	Environment       string   `json:"environment"`
	OpenedAt          string   `json:"opened_at"`
	ClosedAt          *string  `json:"closed_at,omitempty"`
}

func toTradeView(t domain.Trade) tradeView {
	v := tradeView{
		ID:                t.ID,
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
		Status:            string(t.Status),
		IsVerifiedLive:    t.IsVerifiedLive,
		Environment:       string(t.Environment),
		OpenedAt:          t.OpenedAt.UTC().Format(timeFormat),
	}
	if t.ClosedAt != nil {
		s := t.ClosedAt.UTC().Format(timeFormat)
		v.ClosedAt = &s
	}
	return v
}

// listTradesResponse wraps the list trades response.
type listTradesResponse struct {
	Trades []tradeView `json:"trades"`
}

// ListTrades returns the user's trades, newest first.
// GET /api/trades?user_id=...&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	trades, err := h.trades.ListByUser(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, toTradeView(t))
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: views})
}

// GetTrade returns one trade by its broker position id.
// GET /api/trades/{position_id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	positionID := pathParam(r, "position_id")
	if positionID == "" {
		writeError(w, http.StatusBadRequest, "position_id required")
		return
	}

	trade, err := h.trades.GetByPositionID(r.Context(), positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}

	writeJSON(w, http.StatusOK, toTradeView(trade))
}
