// Package orchestrator executes inbound signals end to end: guard checks,
// activation lookup, quantity calculation, order placement, ledger writes,
// and trade lifecycle updates, fanned out across the activation's accounts.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantive/signalbridge/internal/domain"
	"github.com/quantive/signalbridge/internal/exitcalc"
	"github.com/quantive/signalbridge/internal/guard"
	"github.com/quantive/signalbridge/internal/ledger"
	"github.com/quantive/signalbridge/internal/lifecycle"
	"github.com/quantive/signalbridge/internal/metrics"
)

// ExecutionsChannel is the bus channel execution results are published to.
const ExecutionsChannel = "executions"

// Directory resolves accounts to venue adapters, and venues to execution
// environments.
type Directory interface {
	ForAccount(accountID string) (domain.Broker, domain.Account, error)
	EnvironmentFor(account domain.Account) domain.ExecutionEnvironment
}

// target is one account the signal executes on, with its configured quantity.
type target struct {
	accountID string
	quantity  int64
}

// Orchestrator coordinates one signal execution across all of its accounts.
type Orchestrator struct {
	guard       *guard.Guard
	ledger      *ledger.Ledger
	tracker     *lifecycle.Tracker
	activations domain.ActivationStore
	directory   Directory
	audit       domain.AuditStore
	bus         domain.SignalBus
	logger      *slog.Logger
}

// New creates an Orchestrator.
func New(
	g *guard.Guard,
	l *ledger.Ledger,
	tracker *lifecycle.Tracker,
	activations domain.ActivationStore,
	directory Directory,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		guard:       g,
		ledger:      l,
		tracker:     tracker,
		activations: activations,
		directory:   directory,
		audit:       audit,
		bus:         bus,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Execute runs one signal through the full pipeline. The per-source rate
// limit is enforced at intake, before the signal reaches Execute. Duplicate
// deliveries within the idempotency window receive the first delivery's
// result with Duplicate set; per-account failures are isolated into their
// outcomes and never abort the remaining accounts.
func (o *Orchestrator) Execute(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error) {
	started := time.Now()

	if err := sig.Valid(); err != nil {
		metrics.IncSignal("invalid")
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: validate signal: %w", err)
	}

	key := guard.Fingerprint(sig)
	logger := o.logger.With(
		slog.String("signal_key", key),
		slog.String("source_id", sig.SourceID),
		slog.String("symbol", sig.Symbol),
		slog.String("action", string(sig.Action)),
		slog.String("exit_type", sig.ExitType))

	// Reserve the fingerprint before doing anything with side effects. The
	// marker is replaced with the real result once execution completes.
	marker := domain.ExecutionResult{
		SignalKey: key,
		Symbol:    sig.Symbol,
		Action:    sig.Action,
		StartedAt: started,
	}
	markerJSON, err := json.Marshal(marker)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: marshal marker: %w", err)
	}

	cached, hit, err := o.guard.CheckAndSet(ctx, key, markerJSON)
	if err != nil {
		metrics.IncSignal("error")
		return domain.ExecutionResult{}, err
	}
	if hit {
		metrics.IncSignal("duplicate")
		var result domain.ExecutionResult
		if err := json.Unmarshal(cached, &result); err != nil {
			logger.Warn("cached result unreadable", slog.String("error", err.Error()))
			result = marker
		}
		result.Duplicate = true
		return result, nil
	}

	act, err := o.activations.GetBySource(ctx, sig.SourceID)
	if err != nil {
		metrics.IncSignal("error")
		return domain.ExecutionResult{}, fmt.Errorf("orchestrator: activation for source %s: %w", sig.SourceID, err)
	}

	if err := o.activations.TouchTriggered(ctx, act.ID, started); err != nil {
		logger.Warn("touch triggered failed", slog.String("error", err.Error()))
	}

	targets := expandTargets(act)
	outcomes := make([]domain.AccountOutcome, len(targets))

	var g errgroup.Group
	for i, tg := range targets {
		g.Go(func() error {
			outcomes[i] = o.executeAccount(ctx, logger, sig, act, tg)
			return nil
		})
	}
	_ = g.Wait()

	result := domain.ExecutionResult{
		SignalKey:   key,
		Symbol:      sig.Symbol,
		Action:      sig.Action,
		Outcomes:    outcomes,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		logger.Error("marshal result failed", slog.String("error", err.Error()))
	} else {
		if err := o.guard.Store(ctx, key, resultJSON); err != nil {
			logger.Warn("store result failed", slog.String("error", err.Error()))
		}
		if err := o.bus.Publish(ctx, ExecutionsChannel, resultJSON); err != nil {
			logger.Warn("publish result failed", slog.String("error", err.Error()))
		}
	}

	if err := o.audit.Log(ctx, "signal_executed", map[string]any{
		"signal_key": key,
		"source_id":  sig.SourceID,
		"symbol":     sig.Symbol,
		"action":     string(sig.Action),
		"exit_type":  sig.ExitType,
		"placed":     result.Placed(),
		"accounts":   len(outcomes),
	}); err != nil {
		logger.Warn("audit log failed", slog.String("error", err.Error()))
	}

	metrics.IncSignal("executed")
	metrics.ObserveExecution(time.Since(started))

	logger.Info("signal executed",
		slog.Int("accounts", len(outcomes)),
		slog.Int("placed", result.Placed()),
		slog.Duration("took", time.Since(started)))

	return result, nil
}

// expandTargets lists the accounts a signal executes on. Leader/follower
// activations replay the signal independently on every account with that
// account's own configured quantity.
func expandTargets(act domain.StrategyActivation) []target {
	if act.Mode != domain.ModeLeaderFollower {
		return []target{{accountID: act.AccountID, quantity: act.Quantity}}
	}

	targets := make([]target, 0, 1+len(act.Followers))
	targets = append(targets, target{accountID: act.LeaderAccountID, quantity: act.LeaderQuantity})
	for _, f := range act.Followers {
		targets = append(targets, target{accountID: f.AccountID, quantity: f.Quantity})
	}
	return targets
}

// executeAccount runs the signal on one account. Every failure is captured
// in the returned outcome; nothing escapes as an error.
func (o *Orchestrator) executeAccount(ctx context.Context, logger *slog.Logger, sig domain.Signal, act domain.StrategyActivation, tg target) domain.AccountOutcome {
	outcome := domain.AccountOutcome{AccountID: tg.accountID}

	venue, account, err := o.directory.ForAccount(tg.accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountInactive) {
			outcome.Status = domain.OutcomeSkipped
			outcome.Reason = "account inactive"
			return outcome
		}
		outcome.Status = domain.OutcomeErrored
		outcome.Error = err.Error()
		return outcome
	}

	currentPos := o.ledger.CurrentPosition(ctx, act, tg.accountID)

	directive := exitcalc.Parse(sig.ExitType)
	calc := exitcalc.Calculate(sig.Action, directive, currentPos, tg.quantity)
	outcome.Warning = calc.Warning

	if calc.Quantity == 0 {
		outcome.Status = domain.OutcomeSkipped
		outcome.Reason = calc.Reason
		return outcome
	}

	qty, clampWarn, err := exitcalc.ValidateExitQuantity(sig.Action, calc.Quantity, currentPos, act.MaxPositionSize)
	if err != nil {
		outcome.Status = domain.OutcomeSkipped
		outcome.Reason = err.Error()
		return outcome
	}
	if outcome.Warning == nil {
		outcome.Warning = clampWarn
	}

	res, err := venue.PlaceOrder(ctx, account, domain.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     sig.Action.Side(),
		Quantity: qty,
	})
	if err != nil {
		metrics.IncOrderFailure(account.BrokerID)
		logger.Error("order placement failed",
			slog.String("account_id", tg.accountID),
			slog.String("broker", account.BrokerID),
			slog.String("error", err.Error()))
		outcome.Status = domain.OutcomeErrored
		outcome.Error = err.Error()
		return outcome
	}
	metrics.IncOrder(account.BrokerID, string(sig.Action.Side()))

	outcome.Status = domain.OutcomePlaced
	outcome.OrderID = res.OrderID
	outcome.Quantity = qty
	outcome.Reason = calc.Reason

	delta := qty
	if sig.Action == domain.ActionSell {
		delta = -qty
	}
	// Only an entry directive opens or scales a position; a BUY with an exit
	// token is an exit covering a short and keeps the exit bookkeeping.
	isEntry := directive.Kind == exitcalc.KindEntry

	newPos := currentPos + delta
	if tg.accountID == act.PrimaryAccountID() {
		pos, ledgerWarn, err := o.ledger.Apply(ctx, act.ID, tg.accountID, sig.Symbol, ledger.Change{
			Delta:    delta,
			Side:     sig.Action.Side(),
			ExitType: exitToken(directive, sig.ExitType),
			Entry:    isEntry,
		})
		if err != nil {
			// The order is live; a ledger failure downgrades to a warning on
			// the outcome rather than erasing the placement.
			logger.Error("ledger update failed",
				slog.String("account_id", tg.accountID),
				slog.String("error", err.Error()))
		} else {
			newPos = pos
		}
		if outcome.Warning == nil {
			outcome.Warning = ledgerWarn
		}
	}

	o.trackLifecycle(ctx, logger, act, account, sig, res, qty, currentPos, newPos)
	return outcome
}

// exitToken returns the token to persist in the ledger: empty for entries,
// the raw token otherwise.
func exitToken(d exitcalc.Directive, raw string) string {
	if d.Kind == exitcalc.KindEntry {
		return ""
	}
	return raw
}

// trackLifecycle feeds the fill into the trade tracker. Each account tracks
// its own trade keyed by its broker position id. Tracker failures are logged,
// never surfaced: the order already executed.
func (o *Orchestrator) trackLifecycle(
	ctx context.Context,
	logger *slog.Logger,
	act domain.StrategyActivation,
	account domain.Account,
	sig domain.Signal,
	res domain.OrderResult,
	qty, oldPos, newPos int64,
) {
	if res.PositionID == "" {
		return
	}

	event := domain.PositionEvent{
		PositionID:  res.PositionID,
		AccountID:   account.ID,
		Symbol:      sig.Symbol,
		Side:        sig.Action.Side(),
		Quantity:    qty,
		AvgPrice:    res.Price,
		ExitPrice:   res.Price,
		FillID:      res.FillID,
		ExecutedAt:  res.ExecutedAt,
		Environment: o.directory.EnvironmentFor(account),
		OccurredAt:  time.Now(),
	}
	attrib := lifecycle.Attribution{StrategyID: act.StrategyID, VersionHash: act.VersionHash}

	var err error
	switch {
	case oldPos == 0:
		_, _, err = o.tracker.RecordOpen(ctx, act.UserID, event, attrib)

	case sameSign(oldPos, newPos) && abs(newPos) > abs(oldPos):
		// Scale-in: re-average the open trade, then record the fill.
		entry := event
		entry.Quantity = abs(newPos)
		if err = o.tracker.RecordEntry(ctx, entry); err == nil {
			err = o.tracker.RecordExecution(ctx, res.PositionID, event, res.OrderID)
		}

	case newPos == 0:
		var closed bool
		var pnl float64
		closed, pnl, err = o.tracker.RecordClose(ctx, event)
		if err == nil && closed {
			metrics.IncTradeClosed(pnl)
		}

	case !sameSign(oldPos, newPos):
		// Sign flip: the old trade is done, a new one opens in the opposite
		// direction.
		var closed bool
		var pnl float64
		if closed, pnl, err = o.tracker.RecordClose(ctx, event); err == nil {
			if closed {
				metrics.IncTradeClosed(pnl)
			}
			reopen := event
			reopen.Quantity = abs(newPos)
			_, _, err = o.tracker.RecordOpen(ctx, act.UserID, reopen, attrib)
		}

	default:
		// Partial reduction: the trade record stays as opened.
		err = o.tracker.RecordExecution(ctx, res.PositionID, event, res.OrderID)
	}

	if err != nil {
		logger.Error("trade lifecycle update failed",
			slog.String("position_id", res.PositionID),
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()))
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
