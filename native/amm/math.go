package amm

import "github.com/shopspring/decimal"

const divisionPrecision = 18

var hundred = decimal.NewFromInt(100)

func quo(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, divisionPrecision)
}

func positive(v decimal.Decimal) bool { return v.Sign() > 0 }
