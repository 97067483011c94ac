package lending

import "errors"

var (
	// ErrInvalidAmount is returned when a requested amount is zero or negative,
	// or exceeds what the caller owes.
	ErrInvalidAmount = errors.New("lending: amount must be positive")
	// ErrInsufficientLiquidity is returned when a withdraw or borrow exceeds the
	// unborrowed supply of a market.
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	// ErrExceedsBorrowPower is returned when a debt increase (or collateral
	// decrease) would leave the position above its borrow power.
	ErrExceedsBorrowPower = errors.New("lending: exceeds borrow power")
	// ErrInvalidParameters is returned when market listing parameters are
	// inconsistent.
	ErrInvalidParameters = errors.New("lending: invalid market parameters")
	// ErrMarketInactive is returned for supply and borrow against a deactivated
	// market.
	ErrMarketInactive = errors.New("lending: market inactive")
	// ErrInvalidPrice is returned when an injected oracle price is not positive.
	ErrInvalidPrice = errors.New("lending: price must be positive")
	// ErrNotLiquidatable is returned when liquidation is attempted on a
	// position whose health factor is at or above one.
	ErrNotLiquidatable = errors.New("lending: position not eligible for liquidation")
	// ErrPositionClosed is returned when a closed or liquidated position is
	// mutated.
	ErrPositionClosed = errors.New("lending: position closed")
	// ErrMarketMismatch is returned when a position is evaluated against a
	// market it does not belong to.
	ErrMarketMismatch = errors.New("lending: position does not belong to market")
)
