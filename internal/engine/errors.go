package engine

import "errors"

var (
	// ErrPoolNotFound is returned when the pool ID is unknown.
	ErrPoolNotFound = errors.New("engine: pool not found")

	// ErrPoolNotOpen is returned when a join targets a pool that is no
	// longer accepting commitments.
	ErrPoolNotOpen = errors.New("engine: pool is not open for joining")

	// ErrPoolLocked is returned when a leave targets a pool that has
	// entered Locking or later.
	ErrPoolLocked = errors.New("engine: pool is locked, commitments can no longer be withdrawn")

	// ErrTooLateToCancel is returned when cancellation arrives after
	// settlement has begun; external orders may already be in flight.
	ErrTooLateToCancel = errors.New("engine: too late to cancel, settlement in progress")

	// ErrPoolTerminal is returned when an operation targets a pool that
	// has already reached a terminal state.
	ErrPoolTerminal = errors.New("engine: pool already in a terminal state")
)
