package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"defiledger/native/lending"
	"defiledger/services/lendingd/storage"
)

// ListMarket creates a market with zero balances.
func (o *Orchestrator) ListMarket(ctx context.Context, params lending.MarketParams) (view MarketView, err error) {
	params.Normalize()
	ctx, done := o.begin(ctx, "list_market", attribute.String("market", params.Symbol))
	defer done(&err)

	market, err := lending.NewMarket(params)
	if err != nil {
		return MarketView{}, err
	}
	unlock := o.locks.Lock(marketKey(market.Symbol))
	defer unlock()

	err = o.store.Commit(ctx, storage.Mutation{
		NewMarkets: []lending.Market{market},
		Journal: []storage.JournalEntry{o.journal("list_market", market.Symbol, "", map[string]any{
			"collateralFactorPct":     market.CollateralFactorPct,
			"liquidationThresholdPct": market.LiquidationThresholdPct,
			"baseSupplyRatePct":       market.BaseSupplyRatePct,
			"baseBorrowRatePct":       market.BaseBorrowRatePct,
			"reserveFactor":           market.ReserveFactor,
		})},
	})
	if err != nil {
		return MarketView{}, err
	}
	o.recordMarket(market)
	return newMarketView(market), nil
}

// DefaultReserveFactor is the reserve factor for listings that leave it unset.
func (o *Orchestrator) DefaultReserveFactor() decimal.Decimal {
	return o.reserveFactor
}

// SetMarketActive activates or deactivates a market. Markets are never
// deleted.
func (o *Orchestrator) SetMarketActive(ctx context.Context, symbol string, active bool) (view MarketView, err error) {
	symbol = normalizeSymbol(symbol)
	ctx, done := o.begin(ctx, "set_market_active", attribute.String("market", symbol), attribute.Bool("active", active))
	defer done(&err)

	unlock := o.locks.Lock(marketKey(symbol))
	defer unlock()

	market, err := o.store.Market(ctx, symbol)
	if err != nil {
		return MarketView{}, err
	}
	if active {
		market = market.Activate()
	} else {
		market = market.Deactivate()
	}
	err = o.store.Commit(ctx, storage.Mutation{
		Markets: []lending.Market{market},
		Journal: []storage.JournalEntry{o.journal("set_market_active", symbol, "", map[string]any{"active": active})},
	})
	if err != nil {
		return MarketView{}, err
	}
	return newMarketView(market), nil
}

// Market returns a market with its current rates.
func (o *Orchestrator) Market(ctx context.Context, symbol string) (MarketView, error) {
	market, err := o.store.Market(ctx, normalizeSymbol(symbol))
	if err != nil {
		return MarketView{}, err
	}
	return newMarketView(market), nil
}

// Markets lists every market with its current rates.
func (o *Orchestrator) Markets(ctx context.Context) ([]MarketView, error) {
	markets, err := o.store.Markets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, newMarketView(m))
	}
	return out, nil
}

// SupplyRequest moves liquidity into or out of a market.
type SupplyRequest struct {
	Owner  string          `json:"owner"`
	Market string          `json:"market"`
	Amount decimal.Decimal `json:"amount"`
}

func (r *SupplyRequest) normalize() error {
	r.Owner = strings.TrimSpace(r.Owner)
	r.Market = normalizeSymbol(r.Market)
	if r.Owner == "" || r.Market == "" {
		return fmt.Errorf("%w: owner and market required", ErrInvalidRequest)
	}
	return nil
}

// Supply deposits liquidity into a market and credits the owner's balance.
func (o *Orchestrator) Supply(ctx context.Context, req SupplyRequest) (result SupplyResult, err error) {
	ctx, done := o.begin(ctx, "supply", attribute.String("market", normalizeSymbol(req.Market)))
	defer done(&err)

	if err := req.normalize(); err != nil {
		return SupplyResult{}, err
	}
	if err := o.guard(lending.PauseScopes(req.Market, lending.ActionSupply)); err != nil {
		return SupplyResult{}, err
	}
	unlock := o.locks.Lock(marketKey(req.Market))
	defer unlock()

	market, err := o.store.Market(ctx, req.Market)
	if err != nil {
		return SupplyResult{}, err
	}
	next, err := market.Supply(req.Amount)
	if err != nil {
		return SupplyResult{}, err
	}
	balance, err := o.store.SupplyBalance(ctx, req.Owner, req.Market)
	if err != nil {
		return SupplyResult{}, err
	}
	balance = balance.Add(req.Amount)

	err = o.store.Commit(ctx, storage.Mutation{
		Markets:  []lending.Market{next},
		Supplies: []storage.SupplyBalance{{Owner: req.Owner, Market: req.Market, Amount: balance}},
		Journal:  []storage.JournalEntry{o.journal("supply", req.Market, req.Owner, map[string]any{"amount": req.Amount})},
	})
	if err != nil {
		return SupplyResult{}, err
	}
	o.recordMarket(next)
	return SupplyResult{Market: newMarketView(next), Owner: req.Owner, Balance: balance}, nil
}

// Withdraw removes liquidity the owner previously supplied. Only unborrowed
// liquidity can leave the market.
func (o *Orchestrator) Withdraw(ctx context.Context, req SupplyRequest) (result SupplyResult, err error) {
	ctx, done := o.begin(ctx, "withdraw", attribute.String("market", normalizeSymbol(req.Market)))
	defer done(&err)

	if err := req.normalize(); err != nil {
		return SupplyResult{}, err
	}
	if err := o.guard(lending.PauseScopes(req.Market, lending.ActionWithdraw)); err != nil {
		return SupplyResult{}, err
	}
	unlock := o.locks.Lock(marketKey(req.Market))
	defer unlock()

	market, err := o.store.Market(ctx, req.Market)
	if err != nil {
		return SupplyResult{}, err
	}
	next, err := market.Withdraw(req.Amount)
	if err != nil {
		return SupplyResult{}, err
	}
	balance, err := o.store.SupplyBalance(ctx, req.Owner, req.Market)
	if err != nil {
		return SupplyResult{}, err
	}
	if req.Amount.GreaterThan(balance) {
		return SupplyResult{}, fmt.Errorf("%w: requested %s, supplied %s", ErrInsufficientBalance, req.Amount, balance)
	}
	balance = balance.Sub(req.Amount)

	err = o.store.Commit(ctx, storage.Mutation{
		Markets:  []lending.Market{next},
		Supplies: []storage.SupplyBalance{{Owner: req.Owner, Market: req.Market, Amount: balance}},
		Journal:  []storage.JournalEntry{o.journal("withdraw", req.Market, req.Owner, map[string]any{"amount": req.Amount})},
	})
	if err != nil {
		return SupplyResult{}, err
	}
	o.recordMarket(next)
	return SupplyResult{Market: newMarketView(next), Owner: req.Owner, Balance: balance}, nil
}
