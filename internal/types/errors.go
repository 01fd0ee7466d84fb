/*

Error taxonomy for the pool protocol core. Every failure is rejected before
any state mutation; callers decide on retry. Arithmetic saturation is not an
error (see internal/fixedpoint).

*/

package types

import "errors"

// Validation errors: bad parameter ranges, rejected before any state change.
var (
	ErrInvalidTickerDuration = errors.New("ticker duration must be 5, 10 or 15 minutes")
	ErrInvalidThreshold      = errors.New("deviation threshold must be in (0, 5000] basis points")
	ErrInvalidDelay          = errors.New("start delay out of range")
	ErrInvalidCandleSize     = errors.New("proposed candle size must be 5, 10 or 15 minutes")
	ErrZeroQuantity          = errors.New("trade quantity must be positive")
	ErrInvalidRandomness     = errors.New("randomness delivery must carry at least 2 values")
)

// State errors: operation invalid for the current pool state.
var (
	ErrPoolNotTradeable = errors.New("pool is not tradeable")
	ErrPoolLocked       = errors.New("pool is locked")
	ErrAlreadyLocked    = errors.New("pool is already locked")
	ErrPoolNotYetEnded  = errors.New("pool has not yet reached its end time")
	ErrPoolFinalized    = errors.New("pool is already finalized")
	ErrPoolNotActive    = errors.New("pool is not active in the registry")
)

// Resource errors: insufficient funds or drained reserves.
var (
	ErrInsufficientFunding = errors.New("treasury balance insufficient to seed pool")
	ErrZeroReserves        = errors.New("pool reserves are empty")
)

// Integrity errors: references to unknown or already-consumed entities.
var (
	ErrPoolNotFound     = errors.New("pool id not found")
	ErrNoPendingRequest = errors.New("no pending randomness request for pool")
	ErrInvalidTiming    = errors.New("pool start time violates the chaining window")
)
