package lending

import "github.com/shopspring/decimal"

// divisionPrecision is the number of fractional digits kept by every quotient
// computed in this package.
const divisionPrecision = 18

var (
	zero    = decimal.Zero
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

func quo(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, divisionPrecision)
}

// percentOf returns value * pct / 100.
func percentOf(value, pct decimal.Decimal) decimal.Decimal {
	return quo(value.Mul(pct), hundred)
}

func clampUnit(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(one) {
		return one
	}
	return v
}

func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func positive(v decimal.Decimal) bool {
	return v.Sign() > 0
}
