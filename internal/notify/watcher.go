package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantive/signalbridge/internal/domain"
)

// Event types emitted by the watcher. Configure the Notifier's allowed list
// with these to pick which alerts operators receive.
const (
	EventOrderFailed     = "order_failed"
	EventExitWarning     = "exit_warning"
	EventSignalDuplicate = "signal_duplicate"
	EventSyncDiscrepancy = "sync_discrepancy"
)

// Watcher subscribes to the execution and reconciliation channels and turns
// noteworthy outcomes into operator notifications.
type Watcher struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewWatcher creates a Watcher.
func NewWatcher(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify-watcher")),
	}
}

// Run consumes bus messages until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	execCh, err := w.bus.Subscribe(ctx, "executions")
	if err != nil {
		return fmt.Errorf("notify: subscribe executions: %w", err)
	}
	syncCh, err := w.bus.Subscribe(ctx, "reconciliation")
	if err != nil {
		return fmt.Errorf("notify: subscribe reconciliation: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-execCh:
			if !ok {
				return fmt.Errorf("notify: executions channel closed")
			}
			w.handleExecution(ctx, data)
		case data, ok := <-syncCh:
			if !ok {
				return fmt.Errorf("notify: reconciliation channel closed")
			}
			w.handleSyncReport(ctx, data)
		}
	}
}

// handleExecution alerts on errored accounts, exit warnings, and suppressed
// duplicates within one execution result.
func (w *Watcher) handleExecution(ctx context.Context, data []byte) {
	var res domain.ExecutionResult
	if err := json.Unmarshal(data, &res); err != nil {
		w.logger.Warn("undecodable execution message",
			slog.String("error", err.Error()))
		return
	}

	if res.Duplicate {
		w.send(ctx, EventSignalDuplicate, "Duplicate signal suppressed",
			fmt.Sprintf("%s %s served from the idempotency cache", res.Action, res.Symbol))
		return
	}

	for _, o := range res.Outcomes {
		if o.Status == domain.OutcomeErrored {
			w.send(ctx, EventOrderFailed, "Order failed",
				fmt.Sprintf("%s %s on account %s: %s", res.Action, res.Symbol, o.AccountID, o.Error))
		}
		if o.Warning != nil {
			w.send(ctx, EventExitWarning, "Exit warning",
				fmt.Sprintf("%s on account %s: %s", o.Warning.Code, o.AccountID, o.Warning.Message))
		}
	}
}

// syncReportMsg mirrors the ledger's reconciliation report shape on the wire.
type syncReportMsg struct {
	ActivationID   string `json:"activation_id"`
	AccountID      string `json:"account_id"`
	Symbol         string `json:"symbol"`
	DBPosition     int64  `json:"db_position"`
	BrokerPosition int64  `json:"broker_position"`
	Discrepancy    bool   `json:"discrepancy"`
	Corrected      bool   `json:"corrected"`
}

func (w *Watcher) handleSyncReport(ctx context.Context, data []byte) {
	var reports []syncReportMsg
	if err := json.Unmarshal(data, &reports); err != nil {
		// Single-report payloads are also accepted.
		var one syncReportMsg
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			w.logger.Warn("undecodable reconciliation message",
				slog.String("error", err.Error()))
			return
		}
		reports = []syncReportMsg{one}
	}

	for _, r := range reports {
		if !r.Discrepancy {
			continue
		}
		state := "NOT corrected"
		if r.Corrected {
			state = "corrected"
		}
		w.send(ctx, EventSyncDiscrepancy, "Position discrepancy",
			fmt.Sprintf("%s %s: ledger %d vs broker %d (%s)",
				r.AccountID, r.Symbol, r.DBPosition, r.BrokerPosition, state))
	}
}

func (w *Watcher) send(ctx context.Context, event, title, message string) {
	if err := w.notifier.Notify(ctx, event, title, strings.TrimSpace(message)); err != nil {
		w.logger.Error("notification dispatch failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
