package amm

import "errors"

var (
	// ErrInvalidAmount is returned when a deposit or withdrawal amount is not
	// strictly positive.
	ErrInvalidAmount = errors.New("amm: amount must be positive")
	// ErrInsufficientShares is returned when a withdrawal burns more shares
	// than the caller or the pool holds.
	ErrInsufficientShares = errors.New("amm: insufficient shares")
	// ErrDegeneratePool is returned for single-sided seeding of an empty pool
	// and for any change that would leave reserves and shares out of step.
	ErrDegeneratePool = errors.New("amm: degenerate pool")
	// ErrInvalidPool is returned when pool deployment parameters are invalid.
	ErrInvalidPool = errors.New("amm: invalid pool parameters")
	// ErrPoolMismatch is returned when a position is applied to another pool.
	ErrPoolMismatch = errors.New("amm: position does not belong to pool")
)
