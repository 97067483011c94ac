package lending

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var openedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBorrowPowerBoundary(t *testing.T) {
	m := mustMarket(t, DefaultMarketParams("USDC"))
	prices := Prices{Collateral: d("10000"), Debt: d("1")}

	pos, err := OpenPosition("p1", "alice", m, "eth", d("1"), d("7500"), prices, openedAt)
	if err != nil {
		t.Fatalf("borrow at exactly the borrow power: %v", err)
	}
	assertDecimal(t, "debt", pos.DebtAmount, d("7500"))
	if pos.CollateralAsset != "ETH" {
		t.Fatalf("expected collateral asset ETH, got %q", pos.CollateralAsset)
	}

	if _, err := OpenPosition("p2", "alice", m, "ETH", d("1"), d("7501"), prices, openedAt); !errors.Is(err, ErrExceedsBorrowPower) {
		t.Fatalf("expected ErrExceedsBorrowPower, got %v", err)
	}
}

func TestCheckBorrowRejectsAnyExcess(t *testing.T) {
	m := mustMarket(t, DefaultMarketParams("USDC"))
	prices := Prices{Collateral: d("10000"), Debt: d("1")}
	pos := BorrowPosition{ID: "p", Market: "USDC", CollateralAmount: d("1"), DebtAmount: d("7000"), Status: StatusOpen}

	if err := CheckBorrow(pos, d("500"), prices, m); err != nil {
		t.Fatalf("borrow up to the limit: %v", err)
	}
	epsilon := decimal.New(1, -divisionPrecision)
	if err := CheckBorrow(pos, d("500").Add(epsilon), prices, m); !errors.Is(err, ErrExceedsBorrowPower) {
		t.Fatalf("expected ErrExceedsBorrowPower for epsilon excess, got %v", err)
	}
}

func TestHealthFactorAndLiquidationPrice(t *testing.T) {
	m := mustMarket(t, MarketParams{
		Symbol:                  "USDC",
		CollateralFactorPct:     d("75"),
		LiquidationThresholdPct: d("80"),
		BaseBorrowRatePct:       d("2"),
	})
	pos := BorrowPosition{
		ID:               "p",
		Market:           "USDC",
		CollateralAsset:  "ETH",
		CollateralAmount: d("1"),
		DebtAmount:       d("30000"),
		Status:           StatusOpen,
	}

	hf := ComputeHealthFactor(pos, d("50000"), d("1"), m)
	if hf.IsInfinite() {
		t.Fatalf("expected finite health factor")
	}
	assertClose(t, "health factor", hf.Value(), d("1.3333"), d("0.0001"))
	if hf.Liquidatable() {
		t.Fatalf("healthy position reported liquidatable")
	}

	lp := ComputeLiquidationPrice(pos, m, d("1"))
	if lp.Degenerate {
		t.Fatalf("unexpected degenerate liquidation price")
	}
	assertDecimal(t, "liquidation price", lp.Price, d("37500"))

	atPrice := ComputeHealthFactor(pos, lp.Price, d("1"), m)
	assertClose(t, "health factor at liquidation price", atPrice.Value(), one, d("0.000000000001"))

	below := ComputeHealthFactor(pos, lp.Price.Sub(one), d("1"), m)
	if !below.Liquidatable() {
		t.Fatalf("expected health factor %s below one to be liquidatable", below)
	}
	above := ComputeHealthFactor(pos, lp.Price.Add(one), d("1"), m)
	if above.Liquidatable() {
		t.Fatalf("expected health factor %s above one to be healthy", above)
	}
}

func TestHealthFactorExactlyOneIsNotLiquidatable(t *testing.T) {
	hf := NewHealthFactor(one)
	if hf.Liquidatable() {
		t.Fatalf("health factor of exactly one must not be liquidatable")
	}
}

func TestHealthFactorInfiniteWithoutDebt(t *testing.T) {
	m := ethMarket(t)
	pos := BorrowPosition{Market: "ETH", CollateralAmount: d("5"), DebtAmount: decimal.Zero, Status: StatusOpen}
	hf := ComputeHealthFactor(pos, d("100"), d("1"), m)
	if !hf.IsInfinite() {
		t.Fatalf("expected infinite health factor, got %s", hf)
	}
	if hf.Liquidatable() {
		t.Fatalf("debt-free position reported liquidatable")
	}
	if !math.IsInf(hf.Float64(), 1) {
		t.Fatalf("expected +Inf float, got %v", hf.Float64())
	}
	if hf.Cmp(NewHealthFactor(d("1000000"))) <= 0 {
		t.Fatalf("expected infinity to compare above finite values")
	}
}

func TestHealthFactorJSON(t *testing.T) {
	for _, hf := range []HealthFactor{InfiniteHealth(), NewHealthFactor(d("1.25"))} {
		raw, err := json.Marshal(hf)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded HealthFactor
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if decoded.Cmp(hf) != 0 {
			t.Fatalf("expected %s after decode, got %s", hf, decoded)
		}
	}
}

func TestLiquidationPriceDegenerate(t *testing.T) {
	m := ethMarket(t)
	pos := BorrowPosition{Market: "ETH", CollateralAmount: decimal.Zero, DebtAmount: d("10"), Status: StatusOpen}
	lp := ComputeLiquidationPrice(pos, m, d("1"))
	if !lp.Degenerate {
		t.Fatalf("expected degenerate liquidation price")
	}
	assertDecimal(t, "price", lp.Price, decimal.Zero)
}

func TestPositionLifecycle(t *testing.T) {
	m := mustMarket(t, DefaultMarketParams("USDC"))
	prices := Prices{Collateral: d("2000"), Debt: d("1")}

	pos, err := OpenPosition("p", "bob", m, "ETH", d("1"), d("1000"), prices, openedAt)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pos, err = pos.IncreaseDebt(d("500"), prices, m)
	if err != nil {
		t.Fatalf("increase debt: %v", err)
	}
	assertDecimal(t, "debt", pos.DebtAmount, d("1500"))

	if _, err := pos.IncreaseDebt(d("1"), prices, m); !errors.Is(err, ErrExceedsBorrowPower) {
		t.Fatalf("expected ErrExceedsBorrowPower, got %v", err)
	}
	if _, err := pos.RemoveCollateral(d("0.5"), prices, m); !errors.Is(err, ErrExceedsBorrowPower) {
		t.Fatalf("expected collateral removal to be blocked, got %v", err)
	}

	pos, err = pos.AddCollateral(d("1"))
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	pos, err = pos.RemoveCollateral(d("0.5"), prices, m)
	if err != nil {
		t.Fatalf("remove collateral: %v", err)
	}
	assertDecimal(t, "collateral", pos.CollateralAmount, d("1.5"))

	if _, err := pos.RepayDebt(d("1500.01")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected over-repay to fail, got %v", err)
	}
	pos, err = pos.RepayDebt(d("500"))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if pos.Status != StatusOpen {
		t.Fatalf("expected open position after partial repay, got %s", pos.Status)
	}
	pos, err = pos.RepayDebt(d("1000"))
	if err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if pos.Status != StatusClosed {
		t.Fatalf("expected closed position, got %s", pos.Status)
	}
	if _, err := pos.AddCollateral(d("1")); !errors.Is(err, ErrPositionClosed) {
		t.Fatalf("expected ErrPositionClosed, got %v", err)
	}
}

func TestLiquidateRequiresUnhealthyPosition(t *testing.T) {
	m := mustMarket(t, DefaultMarketParams("USDC"))
	pos := BorrowPosition{
		ID:               "p",
		Market:           "USDC",
		CollateralAsset:  "ETH",
		CollateralAmount: d("1"),
		DebtAmount:       d("30000"),
		Status:           StatusOpen,
	}

	if _, err := pos.Liquidate(Prices{Collateral: d("50000"), Debt: d("1")}, m); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}

	res, err := pos.Liquidate(Prices{Collateral: d("37000"), Debt: d("1")}, m)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Position.Status != StatusLiquidated {
		t.Fatalf("expected liquidated status, got %s", res.Position.Status)
	}
	assertDecimal(t, "debt repaid", res.DebtRepaid, d("30000"))
	assertDecimal(t, "collateral seized", res.CollateralSeized, d("1"))
	assertDecimal(t, "remaining debt", res.Position.DebtAmount, decimal.Zero)
	if !res.HealthFactor.Liquidatable() {
		t.Fatalf("expected recorded health factor below one")
	}

	if _, err := res.Position.Liquidate(Prices{Collateral: d("1"), Debt: d("1")}, m); !errors.Is(err, ErrPositionClosed) {
		t.Fatalf("expected ErrPositionClosed on second liquidation, got %v", err)
	}
}

func TestRiskOperationsRejectBadInputs(t *testing.T) {
	m := mustMarket(t, DefaultMarketParams("USDC"))
	other := mustMarket(t, DefaultMarketParams("DAI"))
	pos := BorrowPosition{Market: "USDC", CollateralAmount: d("1"), DebtAmount: d("1"), Status: StatusOpen}

	if err := CheckBorrow(pos, d("1"), Prices{Collateral: decimal.Zero, Debt: d("1")}, m); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := pos.IncreaseDebt(d("1"), Prices{Collateral: d("1"), Debt: d("1")}, other); !errors.Is(err, ErrMarketMismatch) {
		t.Fatalf("expected ErrMarketMismatch, got %v", err)
	}
	if _, err := OpenPosition("p", "o", m.Deactivate(), "ETH", d("1"), d("1"), Prices{Collateral: d("10"), Debt: d("1")}, openedAt); !errors.Is(err, ErrMarketInactive) {
		t.Fatalf("expected ErrMarketInactive, got %v", err)
	}
	if _, err := OpenPosition("p", "o", m, "ETH", decimal.Zero, d("1"), Prices{Collateral: d("10"), Debt: d("1")}, openedAt); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := pos.RemoveCollateral(d("2"), Prices{Collateral: d("10"), Debt: d("1")}, m); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount when removing more than pledged, got %v", err)
	}
}
