// Package domain defines the core entities and contracts of the signal
// execution engine: inbound signals, strategy activations, positions, trades,
// and the cache/store/broker interfaces the rest of the system is built on.
package domain

import "time"

// SignalAction is the direction requested by an inbound signal.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
)

// Signal is a normalized inbound trading instruction. Signals are ephemeral:
// they are executed, never persisted.
type Signal struct {
	Action    SignalAction
	ExitType  string // raw exit-type token from the signal comment, may be empty
	Symbol    string
	Timestamp time.Time
	SourceID  string // webhook or strategy identifier the signal arrived from
}

// Valid performs basic shape validation before any side effect.
func (s Signal) Valid() error {
	if s.Action != ActionBuy && s.Action != ActionSell {
		return ErrInvalidSignal
	}
	if s.Symbol == "" || s.SourceID == "" {
		return ErrInvalidSignal
	}
	return nil
}

// WarningCode classifies a soft-validation finding. Warnings are carried on
// results rather than raised as errors, so the caller decides whether to act.
type WarningCode string

const (
	WarnDirectionMismatch WarningCode = "direction_mismatch"
	WarnOversizeExit      WarningCode = "oversize_exit"
	WarnUnknownExitType   WarningCode = "unknown_exit_type"
)

// Warning is a non-fatal validation finding attached to an execution outcome.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// OutcomeStatus is the per-account result of one signal execution.
type OutcomeStatus string

const (
	OutcomePlaced  OutcomeStatus = "placed"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeErrored OutcomeStatus = "errored"
)

// AccountOutcome records how one account fared during signal execution.
// Failures are isolated per account: one errored outcome never prevents the
// remaining accounts from being attempted.
type AccountOutcome struct {
	AccountID string        `json:"account_id"`
	Status    OutcomeStatus `json:"status"`
	OrderID   string        `json:"order_id,omitempty"`
	Quantity  int64         `json:"quantity"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Warning   *Warning      `json:"warning,omitempty"`
}

// ExecutionResult is the composite outcome of executing one signal across one
// or more accounts. It is also the value cached under the signal's
// idempotency key: a duplicate signal receives this result unchanged.
type ExecutionResult struct {
	SignalKey   string           `json:"signal_key"`
	Symbol      string           `json:"symbol"`
	Action      SignalAction     `json:"action"`
	Duplicate   bool             `json:"duplicate"`
	Outcomes    []AccountOutcome `json:"outcomes"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Placed returns the number of accounts on which an order was placed.
func (r ExecutionResult) Placed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomePlaced {
			n++
		}
	}
	return n
}
