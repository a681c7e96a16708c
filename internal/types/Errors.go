package types

import "errors"

// Shared sentinel errors surfaced across component boundaries. Component
// specific failures live in their own packages; these are the ones callers
// of the engine's public operations match on.
var (
	ErrInsufficientAmount  = errors.New("amount must be positive")
	ErrBelowMinimum        = errors.New("contribution below minimum")
	ErrStalePrice          = errors.New("price oracle reports stale price")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrNotNeeded           = errors.New("rebalance not needed")
	ErrPaused              = errors.New("rebalancing paused by circuit breaker")
	ErrNotYetUnlocked      = errors.New("unbonding period has not elapsed")
	ErrAlreadyProcessed    = errors.New("withdrawal request already processed")
	ErrStakedExceedsPooled = errors.New("staked amount exceeds pooled amount")
	ErrOverflow            = errors.New("monetary value out of range")
)
