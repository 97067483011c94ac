package lending

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MarketParams captures the listing parameters for a new market. Percentages
// are expressed on a 0-100 scale; ReserveFactor on a 0-1 scale.
type MarketParams struct {
	Symbol                  string          `toml:"Symbol"`
	CollateralFactorPct     decimal.Decimal `toml:"CollateralFactorPct"`
	LiquidationThresholdPct decimal.Decimal `toml:"LiquidationThresholdPct"`
	BaseSupplyRatePct       decimal.Decimal `toml:"BaseSupplyRatePct"`
	BaseBorrowRatePct       decimal.Decimal `toml:"BaseBorrowRatePct"`
	ReserveFactor           decimal.Decimal `toml:"ReserveFactor"`
}

// Normalize trims and upper-cases the symbol.
func (p *MarketParams) Normalize() {
	if p == nil {
		return
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
}

// Validate checks the listing invariants. Collateral factor and liquidation
// threshold are fixed after listing, so this is the only place they are
// checked.
func (p MarketParams) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidParameters)
	}
	if p.CollateralFactorPct.IsNegative() || p.CollateralFactorPct.GreaterThan(hundred) {
		return fmt.Errorf("%w: collateral factor must be within [0,100]", ErrInvalidParameters)
	}
	if p.LiquidationThresholdPct.IsNegative() || p.LiquidationThresholdPct.GreaterThan(hundred) {
		return fmt.Errorf("%w: liquidation threshold must be within [0,100]", ErrInvalidParameters)
	}
	if p.LiquidationThresholdPct.LessThan(p.CollateralFactorPct) {
		return fmt.Errorf("%w: liquidation threshold below collateral factor", ErrInvalidParameters)
	}
	if p.BaseSupplyRatePct.IsNegative() || p.BaseBorrowRatePct.IsNegative() {
		return fmt.Errorf("%w: base rates must be non-negative", ErrInvalidParameters)
	}
	if p.ReserveFactor.IsNegative() || p.ReserveFactor.GreaterThan(one) {
		return fmt.Errorf("%w: reserve factor must be within [0,1]", ErrInvalidParameters)
	}
	return nil
}

// DefaultMarketParams returns conservative listing parameters for symbol.
func DefaultMarketParams(symbol string) MarketParams {
	return MarketParams{
		Symbol:                  strings.ToUpper(strings.TrimSpace(symbol)),
		CollateralFactorPct:     decimal.NewFromInt(75),
		LiquidationThresholdPct: decimal.NewFromInt(80),
		BaseSupplyRatePct:       decimal.NewFromInt(1),
		BaseBorrowRatePct:       decimal.NewFromInt(2),
		ReserveFactor:           decimal.Zero,
	}
}
