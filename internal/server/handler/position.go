package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantive/signalbridge/internal/domain"
	"github.com/quantive/signalbridge/internal/ledger"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	AccountPosition(ctx context.Context, accountID, symbol string) (int64, error)
	SyncAll(ctx context.Context) ([]ledger.SyncReport, error)
}

// PositionHandler serves position inspection and reconciliation endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

// positionResponse wraps one account position.
type positionResponse struct {
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Position  int64  `json:"position"`
}

// GetPosition returns the live signed position for one account and symbol,
// as reported by the account's broker.
// GET /api/positions/{account}/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	accountID := pathParam(r, "account")
	symbol := pathParam(r, "symbol")
	if accountID == "" || symbol == "" {
		writeError(w, http.StatusBadRequest, "account and symbol are required")
		return
	}

	qty, err := h.positions.AccountPosition(r.Context(), accountID, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownAccount) {
			writeError(w, http.StatusNotFound, "unknown account")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: position lookup failed",
			slog.String("account_id", accountID),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "broker position lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{
		AccountID: accountID,
		Symbol:    symbol,
		Position:  qty,
	})
}

// syncResponse wraps the reconciliation reports.
type syncResponse struct {
	Reports []ledger.SyncReport `json:"reports"`
}

// SyncPositions reconciles every active activation against its broker and
// returns one report per activation.
// POST /api/positions/sync
func (h *PositionHandler) SyncPositions(w http.ResponseWriter, r *http.Request) {
	reports, err := h.positions.SyncAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: position sync failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "position sync failed")
		return
	}

	if reports == nil {
		reports = []ledger.SyncReport{}
	}
	writeJSON(w, http.StatusOK, syncResponse{Reports: reports})
}
