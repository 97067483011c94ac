package orchestrator

import (
	"errors"

	"defiledger/native/amm"
	nativecommon "defiledger/native/common"
	"defiledger/native/lending"
	"defiledger/services/lendingd/oracle"
	"defiledger/services/lendingd/storage"
)

var (
	// ErrInvalidRequest is returned when a request is missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotOwner is returned when a caller acts on another owner's position.
	ErrNotOwner = errors.New("position belongs to another owner")
	// ErrInsufficientBalance is returned when a withdrawal exceeds what the
	// caller supplied.
	ErrInsufficientBalance = errors.New("insufficient supplied balance")
	// ErrNotFound aliases the storage sentinel so callers need not import it.
	ErrNotFound = storage.ErrNotFound
	// ErrAlreadyExists aliases the storage sentinel.
	ErrAlreadyExists = storage.ErrAlreadyExists
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidRequest, "invalid_request"},
	{ErrNotOwner, "not_owner"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{nativecommon.ErrModulePaused, "paused"},
	{oracle.ErrPriceUnavailable, "price_unavailable"},
	{lending.ErrInvalidAmount, "invalid_amount"},
	{lending.ErrInsufficientLiquidity, "insufficient_liquidity"},
	{lending.ErrExceedsBorrowPower, "exceeds_borrow_power"},
	{lending.ErrInvalidParameters, "invalid_parameters"},
	{lending.ErrMarketInactive, "market_inactive"},
	{lending.ErrInvalidPrice, "invalid_price"},
	{lending.ErrNotLiquidatable, "not_liquidatable"},
	{lending.ErrPositionClosed, "position_closed"},
	{lending.ErrMarketMismatch, "market_mismatch"},
	{amm.ErrInvalidAmount, "invalid_amount"},
	{amm.ErrInsufficientShares, "insufficient_shares"},
	{amm.ErrDegeneratePool, "degenerate_pool"},
	{amm.ErrInvalidPool, "invalid_pool"},
	{amm.ErrPoolMismatch, "pool_mismatch"},
}

// Reason classifies err into a stable snake_case label for metrics and API
// responses. Unknown errors map to "internal".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
