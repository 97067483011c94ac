package lending

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustMarket(t *testing.T, params MarketParams) Market {
	t.Helper()
	m, err := NewMarket(params)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func ethMarket(t *testing.T) Market {
	t.Helper()
	return mustMarket(t, MarketParams{
		Symbol:                  "eth",
		CollateralFactorPct:     d("75"),
		LiquidationThresholdPct: d("80"),
		BaseSupplyRatePct:       d("1"),
		BaseBorrowRatePct:       d("4"),
		ReserveFactor:           d("0.1"),
	})
}

func assertDecimal(t *testing.T, name string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s: expected %s, got %s", name, want, got)
	}
}

func assertClose(t *testing.T, name string, got, want, tolerance decimal.Decimal) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(tolerance) {
		t.Fatalf("%s: expected %s within %s, got %s", name, want, tolerance, got)
	}
}
