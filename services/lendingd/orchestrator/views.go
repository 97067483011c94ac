package orchestrator

import (
	"github.com/shopspring/decimal"

	"defiledger/native/amm"
	"defiledger/native/lending"
)

// MarketView is a market snapshot with its derived rates.
type MarketView struct {
	lending.Market
	Rates     lending.Rates   `json:"rates"`
	Available decimal.Decimal `json:"available"`
}

func newMarketView(m lending.Market) MarketView {
	return MarketView{Market: m, Rates: lending.MarketRates(m), Available: m.Available()}
}

// Health is the risk evaluation of a position at current prices.
type Health struct {
	HealthFactor       lending.HealthFactor     `json:"healthFactor"`
	Liquidatable       bool                     `json:"liquidatable"`
	LiquidationPrice   lending.LiquidationPrice `json:"liquidationPrice"`
	CollateralValueUSD decimal.Decimal          `json:"collateralValueUsd"`
	DebtValueUSD       decimal.Decimal          `json:"debtValueUsd"`
	BorrowPowerUSD     decimal.Decimal          `json:"borrowPowerUsd"`
}

func evaluate(p lending.BorrowPosition, m lending.Market, prices lending.Prices) Health {
	collateralValue := lending.CollateralValue(p, prices.Collateral)
	hf := lending.ComputeHealthFactor(p, prices.Collateral, prices.Debt, m)
	return Health{
		HealthFactor:       hf,
		Liquidatable:       hf.Liquidatable(),
		LiquidationPrice:   lending.ComputeLiquidationPrice(p, m, prices.Debt),
		CollateralValueUSD: collateralValue,
		DebtValueUSD:       lending.DebtValue(p, prices.Debt),
		BorrowPowerUSD:     lending.MaxBorrowable(collateralValue, m),
	}
}

// PositionView is a borrow position with its health at current prices.
// Health is nil when a price is unavailable.
type PositionView struct {
	lending.BorrowPosition
	Health *Health `json:"health,omitempty"`
}

// SupplyResult is the outcome of a supply or withdrawal.
type SupplyResult struct {
	Market  MarketView      `json:"market"`
	Owner   string          `json:"owner"`
	Balance decimal.Decimal `json:"balance"`
}

// LiquidationResult is the outcome of a liquidation.
type LiquidationResult struct {
	Position         lending.BorrowPosition `json:"position"`
	Liquidator       string                 `json:"liquidator"`
	HealthFactor     lending.HealthFactor   `json:"healthFactor"`
	DebtRepaid       decimal.Decimal        `json:"debtRepaid"`
	CollateralSeized decimal.Decimal        `json:"collateralSeized"`
	Market           MarketView             `json:"market"`
}

// PoolView is a pool snapshot with its price ratio.
type PoolView struct {
	amm.Pool
	PriceRatio decimal.Decimal `json:"priceRatio"`
}

func newPoolView(p amm.Pool) PoolView {
	return PoolView{Pool: p, PriceRatio: p.PriceRatio()}
}

// LiquidityQuote previews a deposit.
type LiquidityQuote struct {
	PoolID   string          `json:"poolId"`
	Shares   decimal.Decimal `json:"shares"`
	SharePct decimal.Decimal `json:"sharePct"`
}

// LiquidityPositionView is an owner's stake with its current share and value.
type LiquidityPositionView struct {
	amm.Position
	SharePct decimal.Decimal `json:"sharePct"`
	Value    amm.Withdrawal  `json:"value"`
}

// LiquidityResult is the outcome of adding or removing liquidity.
type LiquidityResult struct {
	Pool     PoolView              `json:"pool"`
	Position LiquidityPositionView `json:"position"`
	Minted   decimal.Decimal       `json:"minted"`
	Payout   *amm.Withdrawal       `json:"payout,omitempty"`
}
