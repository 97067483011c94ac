package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"defiledger/native/amm"
	nativecommon "defiledger/native/common"
	"defiledger/native/lending"
	"defiledger/services/lendingd/oracle"
	"defiledger/services/lendingd/storage"
)

type fixture struct {
	orch   *Orchestrator
	store  *storage.Storage
	book   *oracle.PriceBook
	pauses *nativecommon.PauseSet
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN(uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:  store,
		book:   oracle.NewPriceBook(0),
		pauses: nativecommon.NewPauseSet(),
		clock:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.orch = New(store, f.book,
		WithPauses(f.pauses),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithMetrics(nil),
		WithClock(func() time.Time { return f.clock }),
	)
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func (f *fixture) price(t *testing.T, symbol, price string) {
	t.Helper()
	f.clock = f.clock.Add(time.Second)
	_, err := f.book.Set(context.Background(), symbol, d(price), f.clock)
	require.NoError(t, err)
}

func (f *fixture) market(t *testing.T, symbol, cf, lt string) {
	t.Helper()
	params := lending.DefaultMarketParams(symbol)
	params.CollateralFactorPct = d(cf)
	params.LiquidationThresholdPct = d(lt)
	_, err := f.orch.ListMarket(context.Background(), params)
	require.NoError(t, err)
}

func (f *fixture) supply(t *testing.T, owner, symbol, amount string) {
	t.Helper()
	_, err := f.orch.Supply(context.Background(), SupplyRequest{Owner: owner, Market: symbol, Amount: d(amount)})
	require.NoError(t, err)
}

// usdcDesk lists a USDC market (CF 75, LT 80) funded with 100k and prices
// USDC at 1, ETH at 2000 and BTC at 50000.
func usdcDesk(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.market(t, "USDC", "75", "80")
	f.price(t, "USDC", "1")
	f.price(t, "ETH", "2000")
	f.price(t, "BTC", "50000")
	f.supply(t, "lender", "USDC", "100000")
	return f
}

func journalCount(t *testing.T, f *fixture) int {
	t.Helper()
	entries, err := f.orch.Journal(context.Background(), storage.JournalFilter{Limit: 1000})
	require.NoError(t, err)
	return len(entries)
}

func TestListMarketRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.market(t, "ETH", "75", "80")

	_, err := f.orch.ListMarket(context.Background(), lending.DefaultMarketParams("eth"))
	require.ErrorIs(t, err, ErrAlreadyExists)

	params := lending.DefaultMarketParams("DAI")
	params.CollateralFactorPct = d("90")
	_, err = f.orch.ListMarket(context.Background(), params)
	require.ErrorIs(t, err, lending.ErrInvalidParameters)

	markets, err := f.orch.Markets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.True(t, markets[0].Active)
	requireDecimal(t, "0", markets[0].Rates.Utilisation)
}

func TestSupplyAndWithdrawTrackBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.market(t, "USDC", "75", "80")
	f.supply(t, "alice", "USDC", "1000")
	f.supply(t, "bob", "USDC", "500")

	_, err := f.orch.Withdraw(ctx, SupplyRequest{Owner: "alice", Market: "USDC", Amount: d("1200")})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	res, err := f.orch.Withdraw(ctx, SupplyRequest{Owner: "alice", Market: "usdc", Amount: d("400")})
	require.NoError(t, err)
	requireDecimal(t, "600", res.Balance)
	requireDecimal(t, "1100", res.Market.TotalSupplied)

	_, err = f.orch.Supply(ctx, SupplyRequest{Owner: "alice", Market: "USDC", Amount: d("0")})
	require.ErrorIs(t, err, lending.ErrInvalidAmount)
	_, err = f.orch.Supply(ctx, SupplyRequest{Owner: "alice", Market: "DOGE", Amount: d("1")})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.orch.Supply(ctx, SupplyRequest{Market: "USDC", Amount: d("1")})
	require.ErrorIs(t, err, ErrInvalidRequest)

	balance, err := f.store.SupplyBalance(ctx, "alice", "USDC")
	require.NoError(t, err)
	requireDecimal(t, "600", balance)
}

func TestWithdrawLimitedToAvailableLiquidity(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()

	_, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "carol", Market: "USDC", CollateralAsset: "BTC",
		CollateralAmount: d("3"), Amount: d("99000"),
	})
	require.NoError(t, err)

	_, err = f.orch.Withdraw(ctx, SupplyRequest{Owner: "lender", Market: "USDC", Amount: d("1001")})
	require.ErrorIs(t, err, lending.ErrInsufficientLiquidity)

	res, err := f.orch.Withdraw(ctx, SupplyRequest{Owner: "lender", Market: "USDC", Amount: d("1000")})
	require.NoError(t, err)
	requireDecimal(t, "0", res.Market.Available)
	requireDecimal(t, "1", res.Market.Rates.Utilisation)
}

func TestBorrowBeyondPowerCommitsNothing(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()
	before := journalCount(t, f)

	// 5 ETH at 2000 is 10,000 of collateral: 7,500 of borrow power.
	_, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "ETH",
		CollateralAmount: d("5"), Amount: d("7501"),
	})
	require.ErrorIs(t, err, lending.ErrExceedsBorrowPower)

	market, err := f.orch.Market(ctx, "USDC")
	require.NoError(t, err)
	requireDecimal(t, "0", market.TotalBorrowed)
	positions, err := f.orch.Positions(ctx, storage.PositionFilter{Owner: "alice"})
	require.NoError(t, err)
	require.Empty(t, positions)
	require.Equal(t, before, journalCount(t, f))

	view, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "ETH",
		CollateralAmount: d("5"), Amount: d("7500"),
	})
	require.NoError(t, err)
	require.Equal(t, lending.StatusOpen, view.Status)
	require.NotNil(t, view.Health)
	requireDecimal(t, "7500", view.Health.BorrowPowerUSD)
	requireDecimal(t, "1.066666666666666667", view.Health.HealthFactor.Value())
	require.Equal(t, before+1, journalCount(t, f))
}

func TestHealthFactorAndLiquidation(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()

	view, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "BTC",
		CollateralAmount: d("1"), Amount: d("30000"),
	})
	require.NoError(t, err)
	require.NotNil(t, view.Health)
	requireDecimal(t, "1.333333333333333333", view.Health.HealthFactor.Value())
	requireDecimal(t, "37500", view.Health.LiquidationPrice.Price)
	require.False(t, view.Health.Liquidatable)

	_, err = f.orch.Liquidate(ctx, LiquidateRequest{Liquidator: "keeper", PositionID: view.ID})
	require.ErrorIs(t, err, lending.ErrNotLiquidatable)

	// exactly at the liquidation price the health factor is one
	f.price(t, "BTC", "37500")
	_, err = f.orch.Liquidate(ctx, LiquidateRequest{Liquidator: "keeper", PositionID: view.ID})
	require.ErrorIs(t, err, lending.ErrNotLiquidatable)

	f.price(t, "BTC", "37000")
	current, err := f.orch.Position(ctx, view.ID)
	require.NoError(t, err)
	require.True(t, current.Health.Liquidatable)

	res, err := f.orch.Liquidate(ctx, LiquidateRequest{Liquidator: "keeper", PositionID: view.ID})
	require.NoError(t, err)
	require.Equal(t, lending.StatusLiquidated, res.Position.Status)
	requireDecimal(t, "30000", res.DebtRepaid)
	requireDecimal(t, "1", res.CollateralSeized)
	requireDecimal(t, "0", res.Market.TotalBorrowed)
	require.True(t, res.HealthFactor.Liquidatable())

	_, err = f.orch.Position(ctx, view.ID)
	require.ErrorIs(t, err, ErrNotFound)

	entries, err := f.orch.Journal(ctx, storage.JournalFilter{Entity: view.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "liquidate", entries[0].Operation)
}

func TestRepayClosesPosition(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()

	view, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "ETH",
		CollateralAmount: d("1"), Amount: d("1000"),
	})
	require.NoError(t, err)

	_, err = f.orch.Repay(ctx, PositionRequest{Owner: "mallory", PositionID: view.ID, Amount: d("1")})
	require.ErrorIs(t, err, ErrNotOwner)

	partial, err := f.orch.Repay(ctx, PositionRequest{Owner: "alice", PositionID: view.ID, Amount: d("400")})
	require.NoError(t, err)
	requireDecimal(t, "600", partial.DebtAmount)

	_, err = f.orch.Repay(ctx, PositionRequest{Owner: "alice", PositionID: view.ID, Amount: d("601")})
	require.ErrorIs(t, err, lending.ErrInvalidAmount)

	closed, err := f.orch.Repay(ctx, PositionRequest{Owner: "alice", PositionID: view.ID, Amount: d("600")})
	require.NoError(t, err)
	require.Equal(t, lending.StatusClosed, closed.Status)
	require.Nil(t, closed.Health)

	_, err = f.orch.Position(ctx, view.ID)
	require.ErrorIs(t, err, ErrNotFound)
	market, err := f.orch.Market(ctx, "USDC")
	require.NoError(t, err)
	requireDecimal(t, "0", market.TotalBorrowed)
}

func TestIncreaseDebtAndCollateral(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()

	view, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "ETH",
		CollateralAmount: d("1"), Amount: d("1000"),
	})
	require.NoError(t, err)

	_, err = f.orch.Borrow(ctx, BorrowRequest{Owner: "alice", Market: "USDC", PositionID: view.ID, Amount: d("501")})
	require.ErrorIs(t, err, lending.ErrExceedsBorrowPower)

	grown, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", PositionID: view.ID,
		CollateralAmount: d("1"), Amount: d("1500"),
	})
	require.NoError(t, err)
	requireDecimal(t, "2500", grown.DebtAmount)
	requireDecimal(t, "2", grown.CollateralAmount)

	_, err = f.orch.RemoveCollateral(ctx, PositionRequest{Owner: "alice", PositionID: view.ID, Amount: d("0.4")})
	require.ErrorIs(t, err, lending.ErrExceedsBorrowPower)

	added, err := f.orch.AddCollateral(ctx, PositionRequest{Owner: "alice", PositionID: view.ID, Amount: d("1")})
	require.NoError(t, err)
	requireDecimal(t, "3", added.CollateralAmount)

	removed, err := f.orch.RemoveCollateral(ctx, PositionRequest{Owner: "alice", PositionID: view.ID, Amount: d("1")})
	require.NoError(t, err)
	requireDecimal(t, "2", removed.CollateralAmount)

	market, err := f.orch.Market(ctx, "USDC")
	require.NoError(t, err)
	requireDecimal(t, "2500", market.TotalBorrowed)
}

func TestIncreaseDebtWithCollateralHonoursCollateralPause(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()

	view, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "ETH",
		CollateralAmount: d("1"), Amount: d("1000"),
	})
	require.NoError(t, err)

	f.pauses.Set(lending.PauseScope("USDC", lending.ActionCollateral), true)
	_, err = f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", PositionID: view.ID,
		CollateralAmount: d("1"), Amount: d("100"),
	})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	grown, err := f.orch.Borrow(ctx, BorrowRequest{Owner: "alice", Market: "USDC", PositionID: view.ID, Amount: d("100")})
	require.NoError(t, err)
	requireDecimal(t, "1100", grown.DebtAmount)
	requireDecimal(t, "1", grown.CollateralAmount)
}

func TestMissingPriceRejectsBorrow(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()

	_, err := f.orch.Borrow(ctx, BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "SOL",
		CollateralAmount: d("10"), Amount: d("1"),
	})
	require.ErrorIs(t, err, oracle.ErrPriceUnavailable)
	require.Equal(t, "price_unavailable", Reason(err))

	market, err := f.orch.Market(ctx, "USDC")
	require.NoError(t, err)
	requireDecimal(t, "0", market.TotalBorrowed)
}

func TestPausesAndInactiveMarkets(t *testing.T) {
	f := usdcDesk(t)
	ctx := context.Background()
	borrow := BorrowRequest{
		Owner: "alice", Market: "USDC", CollateralAsset: "ETH",
		CollateralAmount: d("1"), Amount: d("100"),
	}

	f.pauses.Set(lending.PauseScope("USDC", lending.ActionBorrow), true)
	_, err := f.orch.Borrow(ctx, borrow)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	f.supply(t, "lender", "USDC", "1")

	f.pauses.Set(lending.PauseScope("USDC", lending.ActionBorrow), false)
	f.pauses.Set(lending.ModuleName, true)
	_, err = f.orch.Supply(ctx, SupplyRequest{Owner: "lender", Market: "USDC", Amount: d("1")})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	f.pauses.Set(lending.ModuleName, false)

	view, err := f.orch.Borrow(ctx, borrow)
	require.NoError(t, err)

	_, err = f.orch.SetMarketActive(ctx, "USDC", false)
	require.NoError(t, err)
	_, err = f.orch.Supply(ctx, SupplyRequest{Owner: "lender", Market: "USDC", Amount: d("1")})
	require.ErrorIs(t, err, lending.ErrMarketInactive)
	_, err = f.orch.Borrow(ctx, borrow)
	require.ErrorIs(t, err, lending.ErrMarketInactive)

	_, err = f.orch.Repay(ctx, PositionRequest{Owner: "alice", PositionID: view.ID, Amount: d("100")})
	require.NoError(t, err)
	_, err = f.orch.Withdraw(ctx, SupplyRequest{Owner: "lender", Market: "USDC", Amount: d("10")})
	require.NoError(t, err)
}

func TestLiquidityLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.DeployPool(ctx, amm.PoolParams{ID: "eth-usdc", TokenA: "eth", TokenB: "usdc", FeeRatePct: d("0.3")})
	require.NoError(t, err)
	_, err = f.orch.DeployPool(ctx, amm.PoolParams{ID: "eth-usdc", TokenA: "ETH", TokenB: "USDC"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	seeded, err := f.orch.AddLiquidity(ctx, LiquidityRequest{Owner: "alice", PoolID: "eth-usdc", AmountA: d("100"), AmountB: d("200")})
	require.NoError(t, err)
	requireDecimal(t, "300", seeded.Minted)
	requireDecimal(t, "100", seeded.Position.SharePct)
	requireDecimal(t, "2", seeded.Pool.PriceRatio)

	quote, err := f.orch.QuoteLiquidity(ctx, "eth-usdc", d("10"), d("20"))
	require.NoError(t, err)
	requireDecimal(t, "30", quote.Shares)
	requireDecimal(t, "9.090909090909090909", quote.SharePct)

	added, err := f.orch.AddLiquidity(ctx, LiquidityRequest{Owner: "bob", PoolID: "eth-usdc", AmountA: d("10"), AmountB: d("20")})
	require.NoError(t, err)
	requireDecimal(t, "30", added.Minted)
	requireDecimal(t, "330", added.Pool.TotalShares)
	requireDecimal(t, "110", added.Pool.ReserveA)
	requireDecimal(t, "220", added.Pool.ReserveB)

	_, err = f.orch.RemoveLiquidity(ctx, LiquidityRequest{Owner: "bob", PoolID: "eth-usdc", Shares: d("31")})
	require.ErrorIs(t, err, amm.ErrInsufficientShares)
	_, err = f.orch.RemoveLiquidity(ctx, LiquidityRequest{Owner: "carol", PoolID: "eth-usdc", Shares: d("1")})
	require.ErrorIs(t, err, amm.ErrInsufficientShares)

	out, err := f.orch.RemoveLiquidity(ctx, LiquidityRequest{Owner: "bob", PoolID: "eth-usdc", Shares: d("30")})
	require.NoError(t, err)
	require.NotNil(t, out.Payout)
	requireDecimal(t, "10", out.Payout.AmountA)
	requireDecimal(t, "20", out.Payout.AmountB)
	_, err = f.orch.LiquidityPosition(ctx, "bob", "eth-usdc")
	require.ErrorIs(t, err, ErrNotFound)

	exit, err := f.orch.RemoveLiquidity(ctx, LiquidityRequest{Owner: "alice", PoolID: "eth-usdc", Shares: d("300")})
	require.NoError(t, err)
	require.True(t, exit.Pool.Empty())
	requireDecimal(t, "0", exit.Pool.ReserveA)
	requireDecimal(t, "0", exit.Pool.ReserveB)
}

func TestLiquidityPausedPerPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a-b", "c-d"} {
		_, err := f.orch.DeployPool(ctx, amm.PoolParams{ID: id, TokenA: id[:1], TokenB: id[2:]})
		require.NoError(t, err)
	}
	f.pauses.Set("amm/a-b/add", true)

	_, err := f.orch.AddLiquidity(ctx, LiquidityRequest{Owner: "alice", PoolID: "a-b", AmountA: d("1"), AmountB: d("1")})
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	_, err = f.orch.AddLiquidity(ctx, LiquidityRequest{Owner: "alice", PoolID: "c-d", AmountA: d("1"), AmountB: d("1")})
	require.NoError(t, err)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	markets := []lending.MarketParams{lending.DefaultMarketParams("ETH"), lending.DefaultMarketParams("USDC")}
	pools := []amm.PoolParams{{ID: "eth-usdc", TokenA: "ETH", TokenB: "USDC"}}

	created, err := f.orch.Bootstrap(ctx, markets, pools)
	require.NoError(t, err)
	require.Equal(t, 3, created)

	created, err = f.orch.Bootstrap(ctx, markets, pools)
	require.NoError(t, err)
	require.Zero(t, created)

	bad := lending.DefaultMarketParams("")
	_, err = f.orch.Bootstrap(ctx, []lending.MarketParams{bad}, nil)
	require.ErrorIs(t, err, lending.ErrInvalidParameters)
}
