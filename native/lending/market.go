package lending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NewMarket lists a market with zero balances after validating params.
func NewMarket(params MarketParams) (Market, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return Market{}, err
	}
	return Market{
		Symbol:                  params.Symbol,
		TotalSupplied:           decimal.Zero,
		TotalBorrowed:           decimal.Zero,
		CollateralFactorPct:     params.CollateralFactorPct,
		LiquidationThresholdPct: params.LiquidationThresholdPct,
		BaseSupplyRatePct:       params.BaseSupplyRatePct,
		BaseBorrowRatePct:       params.BaseBorrowRatePct,
		ReserveFactor:           params.ReserveFactor,
		Active:                  true,
	}, nil
}

// Params returns the listing parameters of the market.
func (m Market) Params() MarketParams {
	return MarketParams{
		Symbol:                  m.Symbol,
		CollateralFactorPct:     m.CollateralFactorPct,
		LiquidationThresholdPct: m.LiquidationThresholdPct,
		BaseSupplyRatePct:       m.BaseSupplyRatePct,
		BaseBorrowRatePct:       m.BaseBorrowRatePct,
		ReserveFactor:           m.ReserveFactor,
	}
}

// Available returns the liquidity that is supplied but not lent out.
func (m Market) Available() decimal.Decimal {
	return nonNegative(m.TotalSupplied.Sub(m.TotalBorrowed))
}

// Utilisation returns the borrowed share of supplied capital in [0,1].
func (m Market) Utilisation() decimal.Decimal {
	return Utilisation(m.TotalBorrowed, m.TotalSupplied)
}

// Supply adds liquidity. There is no supply cap.
func (m Market) Supply(amount decimal.Decimal) (Market, error) {
	if !positive(amount) {
		return m, ErrInvalidAmount
	}
	if !m.Active {
		return m, ErrMarketInactive
	}
	next := m
	next.TotalSupplied = m.TotalSupplied.Add(amount)
	return next, nil
}

// Withdraw removes liquidity. Only the unborrowed part of the supply can leave
// the market.
func (m Market) Withdraw(amount decimal.Decimal) (Market, error) {
	if !positive(amount) {
		return m, ErrInvalidAmount
	}
	if amount.GreaterThan(m.Available()) {
		return m, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientLiquidity, amount, m.Available())
	}
	next := m
	next.TotalSupplied = m.TotalSupplied.Sub(amount)
	return next, nil
}

// Borrow lends amount out of the available liquidity.
func (m Market) Borrow(amount decimal.Decimal) (Market, error) {
	if !positive(amount) {
		return m, ErrInvalidAmount
	}
	if !m.Active {
		return m, ErrMarketInactive
	}
	if amount.GreaterThan(m.Available()) {
		return m, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientLiquidity, amount, m.Available())
	}
	next := m
	next.TotalBorrowed = m.TotalBorrowed.Add(amount)
	return next, nil
}

// Repay returns borrowed liquidity to the market.
func (m Market) Repay(amount decimal.Decimal) (Market, error) {
	if !positive(amount) {
		return m, ErrInvalidAmount
	}
	if amount.GreaterThan(m.TotalBorrowed) {
		return m, fmt.Errorf("%w: repay %s exceeds outstanding %s", ErrInvalidAmount, amount, m.TotalBorrowed)
	}
	next := m
	next.TotalBorrowed = m.TotalBorrowed.Sub(amount)
	return next, nil
}

// Deactivate stops new supply and borrowing. Withdrawals and repayments stay
// open so positions can unwind.
func (m Market) Deactivate() Market {
	next := m
	next.Active = false
	return next
}

// Activate re-enables a deactivated market.
func (m Market) Activate() Market {
	next := m
	next.Active = true
	return next
}

// BorrowPower is the maximum USD value that may be borrowed against
// collateralValueUSD in market m.
func BorrowPower(collateralValueUSD decimal.Decimal, m Market) decimal.Decimal {
	if !positive(collateralValueUSD) {
		return decimal.Zero
	}
	return percentOf(collateralValueUSD, m.CollateralFactorPct)
}
