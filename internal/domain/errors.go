package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidSignal   = errors.New("invalid signal")
	ErrInvalidQuantity = errors.New("invalid order quantity")
	ErrNoPosition      = errors.New("no position to exit")
	ErrLockHeld        = errors.New("lock already held")
	ErrUnknownAccount  = errors.New("unknown broker account")
	ErrAccountInactive = errors.New("broker account inactive")
	ErrUnknownBroker   = errors.New("unknown broker id")
	ErrStaleWrite      = errors.New("position changed since read")
)
