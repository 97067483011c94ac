package lending

import "github.com/shopspring/decimal"

// Rates is the utilisation-derived yield pair of a market. APYs are expressed
// in percent.
type Rates struct {
	Utilisation decimal.Decimal `json:"utilisation"`
	SupplyAPY   decimal.Decimal `json:"supplyApy"`
	BorrowAPY   decimal.Decimal `json:"borrowApy"`
}

// Utilisation computes U = totalBorrowed / totalSupplied clamped to [0,1].
// When no liquidity exists the utilisation is defined as zero.
func Utilisation(totalBorrowed, totalSupplied decimal.Decimal) decimal.Decimal {
	if !positive(totalSupplied) || !positive(totalBorrowed) {
		return decimal.Zero
	}
	return clampUnit(quo(totalBorrowed, totalSupplied))
}

// BorrowAPY grows linearly with utilisation: base * (1 + U). It is never
// negative.
func BorrowAPY(baseBorrowRatePct, utilisation decimal.Decimal) decimal.Decimal {
	base := nonNegative(baseBorrowRatePct)
	return base.Mul(one.Add(clampUnit(utilisation)))
}

// SupplyAPY pays suppliers the utilisation-weighted share of borrower interest
// left after the protocol reserve: borrowAPY * U * (1 - reserveFactor).
func SupplyAPY(borrowAPY, utilisation, reserveFactor decimal.Decimal) decimal.Decimal {
	u := clampUnit(utilisation)
	if u.IsZero() {
		return decimal.Zero
	}
	kept := one.Sub(clampUnit(reserveFactor))
	return nonNegative(borrowAPY).Mul(u).Mul(kept)
}

// ComputeRates derives (supplyAPY, borrowAPY) for the market snapshot. The
// function is pure: identical snapshots always produce identical rates.
func ComputeRates(m Market) (supplyAPY, borrowAPY decimal.Decimal) {
	rates := MarketRates(m)
	return rates.SupplyAPY, rates.BorrowAPY
}

// MarketRates is ComputeRates with the utilisation included.
func MarketRates(m Market) Rates {
	u := Utilisation(m.TotalBorrowed, m.TotalSupplied)
	borrow := BorrowAPY(m.BaseBorrowRatePct, u)
	return Rates{
		Utilisation: u,
		SupplyAPY:   SupplyAPY(borrow, u, m.ReserveFactor),
		BorrowAPY:   borrow,
	}
}
