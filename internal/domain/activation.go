package domain

import "time"

// ActivationMode selects how an activation maps a signal onto accounts.
type ActivationMode string

const (
	// ModeSingle executes on exactly one account with one configured quantity.
	ModeSingle ActivationMode = "single"
	// ModeLeaderFollower replays the signal independently on the leader and
	// each follower, each with its own quantity and its own live position.
	ModeLeaderFollower ActivationMode = "leader_follower"
)

// FollowerAccount is one follower in a leader/follower activation. Followers
// size independently; their quantities are never derived from the leader's.
type FollowerAccount struct {
	AccountID string `json:"account_id"`
	Quantity  int64  `json:"quantity"`
}

// StrategyActivation is the execution configuration that binds a signal
// source to broker accounts. It also carries the database-persisted side of
// the position ledger for its primary account.
type StrategyActivation struct {
	ID          string
	UserID      string
	StrategyID  string
	VersionHash string // immutable strategy version this activation runs
	SourceID    string // signal source bound to this activation
	Symbol      string
	Mode        ActivationMode

	// Single-account configuration.
	AccountID string
	Quantity  int64

	// Leader/follower configuration.
	LeaderAccountID string
	LeaderQuantity  int64
	Followers       []FollowerAccount

	// MaxPositionSize caps the resulting position on entries. Zero means
	// uncapped.
	MaxPositionSize int64

	// Ledger state for the primary account. The broker remains the ground
	// truth when the two disagree.
	LastKnownPosition  int64
	LastPositionUpdate *time.Time
	LastExitType       string
	PartialExitsCount  int

	Active          bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
}

// PrimaryAccountID returns the account whose ledger state this activation
// persists: the single account, or the leader in fan-out mode.
func (a StrategyActivation) PrimaryAccountID() string {
	if a.Mode == ModeLeaderFollower {
		return a.LeaderAccountID
	}
	return a.AccountID
}

// PositionFresh reports whether the persisted position was updated within
// the given freshness window and can be treated as authoritative.
func (a StrategyActivation) PositionFresh(window time.Duration, now time.Time) bool {
	if a.LastPositionUpdate == nil {
		return false
	}
	return now.Sub(*a.LastPositionUpdate) <= window
}
