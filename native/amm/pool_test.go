package amm

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func emptyPool(t *testing.T) Pool {
	t.Helper()
	p, err := NewPool(PoolParams{ID: "eth-usdc", TokenA: "eth", TokenB: "usdc", FeeRatePct: d("0.3")}, now)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func fundedPool(t *testing.T, reserveA, reserveB, shares string) Pool {
	t.Helper()
	p := emptyPool(t)
	p.ReserveA = d(reserveA)
	p.ReserveB = d(reserveB)
	p.TotalShares = d(shares)
	return p
}

func TestSeedEmptyPool(t *testing.T) {
	p := emptyPool(t)
	next, minted, err := p.AddLiquidity(d("100"), d("200"), now)
	if err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	if !minted.Equal(d("300")) {
		t.Fatalf("expected 300 shares, got %s", minted)
	}
	if !next.TotalShares.Equal(d("300")) {
		t.Fatalf("expected pool shares 300, got %s", next.TotalShares)
	}
	pos, err := NewPosition("alice", next.ID).ApplyDeposit(next.ID, minted, d("100"), d("200"))
	if err != nil {
		t.Fatalf("apply deposit: %v", err)
	}
	if share := UserShare(pos, next); !share.Equal(d("100")) {
		t.Fatalf("expected 100%% share, got %s", share)
	}
}

func TestProportionalDeposit(t *testing.T) {
	p := fundedPool(t, "1000", "500", "1000")
	next, minted, err := p.AddLiquidity(d("100"), d("50"), now)
	if err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	if !minted.Equal(d("100")) {
		t.Fatalf("expected 100 shares, got %s", minted)
	}
	if !next.ReserveA.Equal(d("1100")) || !next.ReserveB.Equal(d("550")) || !next.TotalShares.Equal(d("1100")) {
		t.Fatalf("unexpected pool totals %s/%s/%s", next.ReserveA, next.ReserveB, next.TotalShares)
	}
	if !p.TotalShares.Equal(d("1000")) {
		t.Fatalf("receiver mutated: %s", p.TotalShares)
	}
}

func TestShareMintingUsesScarcerSide(t *testing.T) {
	p := fundedPool(t, "1000", "500", "1000")
	cases := []struct{ a, b string }{
		{"100", "80"},
		{"300", "50"},
		{"1", "1000"},
		{"0.5", "0.25"},
	}
	for _, tc := range cases {
		a, b := d(tc.a), d(tc.b)
		minted, err := QuoteShares(p, a, b)
		if err != nil {
			t.Fatalf("quote %s/%s: %v", tc.a, tc.b, err)
		}
		byA := a.Div(p.ReserveA).Mul(p.TotalShares)
		byB := b.Div(p.ReserveB).Mul(p.TotalShares)
		if minted.GreaterThan(byA) || minted.GreaterThan(byB) {
			t.Fatalf("deposit %s/%s minted %s, above scarcer side (%s, %s)", tc.a, tc.b, minted, byA, byB)
		}
		if !minted.Equal(decimal.Min(byA, byB)) {
			t.Fatalf("deposit %s/%s minted %s, expected %s", tc.a, tc.b, minted, decimal.Min(byA, byB))
		}
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	tolerance := d("0.000000000001")
	for _, start := range []Pool{
		fundedPool(t, "1000", "500", "1000"),
		fundedPool(t, "3", "7777.77", "41.5"),
	} {
		amountA := d("12.5")
		amountB := amountA.Mul(start.PriceRatio())

		added, minted, err := start.AddLiquidity(amountA, amountB, now)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		_, out, err := added.RemoveLiquidity(minted, minted, now)
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if out.AmountA.Sub(amountA).Abs().GreaterThan(tolerance) {
			t.Fatalf("round trip A: deposited %s, received %s", amountA, out.AmountA)
		}
		if out.AmountB.Sub(amountB).Abs().GreaterThan(tolerance) {
			t.Fatalf("round trip B: deposited %s, received %s", amountB, out.AmountB)
		}
	}
}

func TestFullExitEmptiesPool(t *testing.T) {
	p := emptyPool(t)
	p, minted, err := p.AddLiquidity(d("3"), d("7"), now)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	p, _, err = p.AddLiquidity(d("1"), d("2"), now)
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	next, out, err := p.RemoveLiquidity(p.TotalShares, p.TotalShares, now)
	if err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if !next.Empty() || !next.ReserveA.IsZero() || !next.ReserveB.IsZero() {
		t.Fatalf("expected empty pool, got %s/%s/%s", next.ReserveA, next.ReserveB, next.TotalShares)
	}
	if !out.AmountA.Equal(d("4")) || !out.AmountB.Equal(d("9")) {
		t.Fatalf("expected full reserves paid out, got %s/%s", out.AmountA, out.AmountB)
	}
	if minted.IsZero() {
		t.Fatalf("seed minted nothing")
	}
}

func TestRemoveLiquidityChecksShares(t *testing.T) {
	p := fundedPool(t, "1000", "500", "1000")
	if _, _, err := p.RemoveLiquidity(d("11"), d("10"), now); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if _, _, err := p.RemoveLiquidity(d("5"), d("1001"), now); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares for held above total, got %v", err)
	}
	if _, _, err := p.RemoveLiquidity(decimal.Zero, d("10"), now); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	next, out, err := p.RemoveLiquidity(d("100"), d("100"), now)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !out.AmountA.Equal(d("100")) || !out.AmountB.Equal(d("50")) {
		t.Fatalf("unexpected payout %s/%s", out.AmountA, out.AmountB)
	}
	if !next.TotalShares.Equal(d("900")) {
		t.Fatalf("expected 900 shares left, got %s", next.TotalShares)
	}
}

func TestDegenerateDeposits(t *testing.T) {
	p := emptyPool(t)
	if _, _, err := p.AddLiquidity(d("100"), decimal.Zero, now); !errors.Is(err, ErrDegeneratePool) {
		t.Fatalf("expected ErrDegeneratePool for single-sided seed, got %v", err)
	}
	if _, err := QuoteShares(p, decimal.Zero, d("5")); !errors.Is(err, ErrDegeneratePool) {
		t.Fatalf("expected ErrDegeneratePool quote, got %v", err)
	}
	if _, _, err := p.AddLiquidity(decimal.Zero, decimal.Zero, now); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	funded := fundedPool(t, "1000", "500", "1000")
	if _, _, err := funded.AddLiquidity(d("-1"), d("5"), now); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	broken := fundedPool(t, "1000", "0", "1000")
	if _, err := QuoteShares(broken, d("1"), d("1")); !errors.Is(err, ErrDegeneratePool) {
		t.Fatalf("expected ErrDegeneratePool for inconsistent pool, got %v", err)
	}

	dust := fundedPool(t, "1", "1", "1000000000000000000000000")
	if _, _, err := dust.AddLiquidity(d("0.0000000000000000001"), d("1"), now); !errors.Is(err, ErrDegeneratePool) {
		t.Fatalf("expected ErrDegeneratePool for zero-share deposit, got %v", err)
	}
}

func TestPoolParamsValidate(t *testing.T) {
	cases := map[string]PoolParams{
		"missing id":    {TokenA: "A", TokenB: "B"},
		"same token":    {ID: "p", TokenA: "eth", TokenB: "ETH"},
		"missing token": {ID: "p", TokenA: "A"},
		"fee too high":  {ID: "p", TokenA: "A", TokenB: "B", FeeRatePct: d("101")},
		"negative fee":  {ID: "p", TokenA: "A", TokenB: "B", FeeRatePct: d("-1")},
	}
	for name, params := range cases {
		if _, err := NewPool(params, now); !errors.Is(err, ErrInvalidPool) {
			t.Fatalf("%s: expected ErrInvalidPool, got %v", name, err)
		}
	}
}
