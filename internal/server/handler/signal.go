package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
	"github.com/quantive/signalbridge/internal/metrics"
)

// Executor runs one signal through the execution pipeline.
type Executor interface {
	Execute(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error)
}

// SourceLimiter enforces the per-source signal budget. It returns
// domain.ErrRateLimited when the source exceeded its window.
type SourceLimiter interface {
	AllowSource(ctx context.Context, sourceID string) error
}

// SignalHandler accepts inbound webhook signals and hands them to the
// orchestrator.
type SignalHandler struct {
	executor Executor
	limiter  SourceLimiter
	logger   *slog.Logger

	// timeout bounds background execution of one accepted signal.
	timeout time.Duration
}

// NewSignalHandler creates a SignalHandler. A nil limiter disables per-source
// rate limiting; a non-positive timeout falls back to 30 seconds.
func NewSignalHandler(executor Executor, limiter SourceLimiter, timeout time.Duration, logger *slog.Logger) *SignalHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SignalHandler{
		executor: executor,
		limiter:  limiter,
		logger:   logHandler(logger, "signal"),
		timeout:  timeout,
	}
}

// signalRequest is the JSON body posted by signal sources.
type signalRequest struct {
	Action    string `json:"action"`
	ExitType  string `json:"exit_type"`
	Symbol    string `json:"symbol"`
	Timestamp string `json:"timestamp"` // RFC 3339; defaults to receipt time
	SourceID  string `json:"source_id"`
}

// Ingest accepts a trading signal and executes it in the background. The
// request is acknowledged with 202 once the payload validates and the source
// is within its rate budget (429 otherwise); the execution result is
// published on the executions channel and retrievable through the
// idempotency cache.
// POST /api/signal
func (h *SignalHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sig := domain.Signal{
		Action:   domain.SignalAction(strings.ToUpper(strings.TrimSpace(req.Action))),
		ExitType: strings.TrimSpace(req.ExitType),
		Symbol:   strings.TrimSpace(req.Symbol),
		SourceID: strings.TrimSpace(req.SourceID),
	}

	sig.Timestamp = time.Now().UTC()
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC 3339")
			return
		}
		sig.Timestamp = ts
	}

	if err := sig.Valid(); err != nil {
		writeError(w, http.StatusBadRequest, "signal failed validation: action, symbol and source_id are required")
		return
	}

	// The per-source budget is checked before acknowledging so an over-budget
	// sender sees the denial instead of a silent drop.
	if h.limiter != nil {
		if err := h.limiter.AllowSource(r.Context(), sig.SourceID); err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				metrics.IncSignal("rate_limited")
				writeError(w, http.StatusTooManyRequests, "source rate limit exceeded")
				return
			}
			// A limiter outage fails open; the idempotency guard still holds.
			h.logger.Warn("rate limit check failed",
				slog.String("source_id", sig.SourceID),
				slog.String("error", err.Error()))
		}
	}

	// Execute detached from the request context: the webhook sender has
	// already moved on, and a dropped connection must not abort live orders.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
		defer cancel()

		res, err := h.executor.Execute(ctx, sig)
		if err != nil {
			h.logger.Error("signal execution failed",
				slog.String("source_id", sig.SourceID),
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()))
			return
		}
		h.logger.Info("signal executed",
			slog.String("signal_key", res.SignalKey),
			slog.String("symbol", res.Symbol),
			slog.Bool("duplicate", res.Duplicate),
			slog.Int("placed", res.Placed()))
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"symbol":    sig.Symbol,
		"source_id": sig.SourceID,
	})
}
