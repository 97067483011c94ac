package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a tradable and borrowable token. PriceUSD is fed by an external
// oracle and is read-only to the lending core.
type Asset struct {
	Symbol   string          `json:"symbol"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
}

// Market captures the aggregate accounting state for a single asset. A Market
// value is a snapshot: ledger operations return a new value and never mutate
// the receiver.
type Market struct {
	// Symbol identifies the listed asset and doubles as the market id.
	Symbol string `json:"symbol"`
	// TotalSupplied is the aggregate liquidity deposited by suppliers.
	TotalSupplied decimal.Decimal `json:"totalSupplied"`
	// TotalBorrowed is the outstanding debt across all borrowers. It never
	// exceeds TotalSupplied.
	TotalBorrowed decimal.Decimal `json:"totalBorrowed"`
	// CollateralFactorPct bounds how much may be borrowed against collateral,
	// expressed in percent (0-100).
	CollateralFactorPct decimal.Decimal `json:"collateralFactorPct"`
	// LiquidationThresholdPct is the collateral share at which a position
	// becomes liquidatable, in percent. Always >= CollateralFactorPct.
	LiquidationThresholdPct decimal.Decimal `json:"liquidationThresholdPct"`
	// BaseSupplyRatePct is the advertised supply rate floor shown to users.
	BaseSupplyRatePct decimal.Decimal `json:"baseSupplyRatePct"`
	// BaseBorrowRatePct is the borrow APY at zero utilisation, in percent.
	BaseBorrowRatePct decimal.Decimal `json:"baseBorrowRatePct"`
	// ReserveFactor is the fraction (0-1) of borrower interest kept by the
	// protocol rather than paid to suppliers.
	ReserveFactor decimal.Decimal `json:"reserveFactor"`
	// Active is false once the market has been deactivated.
	Active bool `json:"active"`
}

// PositionStatus enumerates the lifecycle states of a borrow position.
type PositionStatus string

const (
	StatusOpen       PositionStatus = "OPEN"
	StatusLiquidated PositionStatus = "LIQUIDATED"
	StatusClosed     PositionStatus = "CLOSED"
)

// BorrowPosition records one borrower's collateral and debt against a market.
type BorrowPosition struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	// Market is the symbol of the debt asset's market.
	Market           string          `json:"market"`
	CollateralAsset  string          `json:"collateralAsset"`
	CollateralAmount decimal.Decimal `json:"collateralAmount"`
	DebtAmount       decimal.Decimal `json:"debtAmount"`
	Status           PositionStatus  `json:"status"`
	OpenedAt         time.Time       `json:"openedAt"`
}

// DebtAsset returns the symbol of the borrowed asset.
func (p BorrowPosition) DebtAsset() string { return p.Market }

// Open reports whether the position still accepts mutations.
func (p BorrowPosition) Open() bool { return p.Status == StatusOpen }

// Prices carries the USD prices a risk computation needs. Callers resolve them
// from the oracle before invoking the engine.
type Prices struct {
	Collateral decimal.Decimal `json:"collateral"`
	Debt       decimal.Decimal `json:"debt"`
}

func (p Prices) validate() error {
	if !positive(p.Collateral) || !positive(p.Debt) {
		return ErrInvalidPrice
	}
	return nil
}
