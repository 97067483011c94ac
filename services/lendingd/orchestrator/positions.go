package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"defiledger/native/lending"
	"defiledger/services/lendingd/storage"
)

// BorrowRequest opens a position, or draws more debt on an existing one when
// PositionID is set. CollateralAsset is only read when opening.
type BorrowRequest struct {
	Owner            string          `json:"owner"`
	Market           string          `json:"market"`
	PositionID       string          `json:"positionId,omitempty"`
	CollateralAsset  string          `json:"collateralAsset,omitempty"`
	CollateralAmount decimal.Decimal `json:"collateralAmount"`
	Amount           decimal.Decimal `json:"amount"`
}

// PositionRequest adjusts an existing position by Amount.
type PositionRequest struct {
	Owner      string          `json:"owner"`
	PositionID string          `json:"positionId"`
	Amount     decimal.Decimal `json:"amount"`
}

// LiquidateRequest closes an unhealthy position on behalf of Liquidator.
type LiquidateRequest struct {
	Liquidator string `json:"liquidator"`
	PositionID string `json:"positionId"`
}

// Borrow opens a position or increases its debt. The borrow power check runs
// before the market ledger is touched, and the position and market are
// committed together.
func (o *Orchestrator) Borrow(ctx context.Context, req BorrowRequest) (view PositionView, err error) {
	req.Market = normalizeSymbol(req.Market)
	req.Owner = strings.TrimSpace(req.Owner)
	ctx, done := o.begin(ctx, "borrow", attribute.String("market", req.Market))
	defer done(&err)

	if req.Owner == "" || req.Market == "" {
		return PositionView{}, fmt.Errorf("%w: owner and market required", ErrInvalidRequest)
	}
	if err := o.guard(lending.PauseScopes(req.Market, lending.ActionBorrow)); err != nil {
		return PositionView{}, err
	}
	if strings.TrimSpace(req.PositionID) != "" {
		if req.CollateralAmount.Sign() > 0 {
			if err := o.guard(lending.PauseScopes(req.Market, lending.ActionCollateral)); err != nil {
				return PositionView{}, err
			}
		}
		return o.increaseDebt(ctx, req)
	}

	collateralAsset := normalizeSymbol(req.CollateralAsset)
	if collateralAsset == "" {
		return PositionView{}, fmt.Errorf("%w: collateral asset required", ErrInvalidRequest)
	}
	prices, err := o.prices.Prices(collateralAsset, req.Market)
	if err != nil {
		return PositionView{}, err
	}

	unlock := o.locks.Lock(marketKey(req.Market))
	defer unlock()

	market, err := o.store.Market(ctx, req.Market)
	if err != nil {
		return PositionView{}, err
	}
	pos, err := lending.OpenPosition(o.newID(), req.Owner, market, collateralAsset, req.CollateralAmount, req.Amount, prices, o.now())
	if err != nil {
		return PositionView{}, err
	}
	next, err := market.Borrow(req.Amount)
	if err != nil {
		return PositionView{}, err
	}
	err = o.store.Commit(ctx, storage.Mutation{
		Markets:   []lending.Market{next},
		Positions: []lending.BorrowPosition{pos},
		Journal: []storage.JournalEntry{o.journal("borrow", pos.ID, pos.Owner, map[string]any{
			"market":           pos.Market,
			"collateralAsset":  pos.CollateralAsset,
			"collateralAmount": pos.CollateralAmount,
			"amount":           req.Amount,
			"opened":           true,
		})},
	})
	if err != nil {
		return PositionView{}, err
	}
	o.recordMarket(next)
	return withHealth(pos, next, prices), nil
}

func (o *Orchestrator) increaseDebt(ctx context.Context, req BorrowRequest) (PositionView, error) {
	current, err := o.peekPosition(ctx, req.PositionID, req.Owner)
	if err != nil {
		return PositionView{}, err
	}
	if current.Market != req.Market {
		return PositionView{}, fmt.Errorf("%w: position %s borrows %s", lending.ErrMarketMismatch, current.ID, current.Market)
	}
	prices, err := o.prices.Prices(current.CollateralAsset, current.Market)
	if err != nil {
		return PositionView{}, err
	}

	unlock := o.locks.Lock(marketKey(current.Market))
	defer unlock()

	market, pos, err := o.loadLocked(ctx, current.ID)
	if err != nil {
		return PositionView{}, err
	}
	if req.CollateralAmount.Sign() > 0 {
		if pos, err = pos.AddCollateral(req.CollateralAmount); err != nil {
			return PositionView{}, err
		}
	}
	pos, err = pos.IncreaseDebt(req.Amount, prices, market)
	if err != nil {
		return PositionView{}, err
	}
	next, err := market.Borrow(req.Amount)
	if err != nil {
		return PositionView{}, err
	}
	err = o.store.Commit(ctx, storage.Mutation{
		Markets:   []lending.Market{next},
		Positions: []lending.BorrowPosition{pos},
		Journal: []storage.JournalEntry{o.journal("borrow", pos.ID, pos.Owner, map[string]any{
			"market":           pos.Market,
			"collateralAmount": req.CollateralAmount,
			"amount":           req.Amount,
		})},
	})
	if err != nil {
		return PositionView{}, err
	}
	o.recordMarket(next)
	return withHealth(pos, next, prices), nil
}

// Repay reduces a position's debt and returns the liquidity to the market.
// A fully repaid position is closed and removed.
func (o *Orchestrator) Repay(ctx context.Context, req PositionRequest) (view PositionView, err error) {
	ctx, done := o.begin(ctx, "repay", attribute.String("position", req.PositionID))
	defer done(&err)

	current, err := o.peekPosition(ctx, req.PositionID, req.Owner)
	if err != nil {
		return PositionView{}, err
	}
	if err := o.guard(lending.PauseScopes(current.Market, lending.ActionRepay)); err != nil {
		return PositionView{}, err
	}

	unlock := o.locks.Lock(marketKey(current.Market))
	defer unlock()

	market, pos, err := o.loadLocked(ctx, current.ID)
	if err != nil {
		return PositionView{}, err
	}
	pos, err = pos.RepayDebt(req.Amount)
	if err != nil {
		return PositionView{}, err
	}
	next, err := market.Repay(req.Amount)
	if err != nil {
		return PositionView{}, err
	}
	mutation := storage.Mutation{
		Markets: []lending.Market{next},
		Journal: []storage.JournalEntry{o.journal("repay", pos.ID, pos.Owner, map[string]any{
			"market": pos.Market,
			"amount": req.Amount,
			"closed": pos.Status == lending.StatusClosed,
		})},
	}
	if pos.Status == lending.StatusClosed {
		mutation.DeletePositions = []string{pos.ID}
	} else {
		mutation.Positions = []lending.BorrowPosition{pos}
	}
	if err := o.store.Commit(ctx, mutation); err != nil {
		return PositionView{}, err
	}
	o.recordMarket(next)
	return o.viewPosition(pos, next), nil
}

// AddCollateral pledges more collateral to a position.
func (o *Orchestrator) AddCollateral(ctx context.Context, req PositionRequest) (view PositionView, err error) {
	ctx, done := o.begin(ctx, "add_collateral", attribute.String("position", req.PositionID))
	defer done(&err)

	current, err := o.peekPosition(ctx, req.PositionID, req.Owner)
	if err != nil {
		return PositionView{}, err
	}
	if err := o.guard(lending.PauseScopes(current.Market, lending.ActionCollateral)); err != nil {
		return PositionView{}, err
	}

	unlock := o.locks.Lock(marketKey(current.Market))
	defer unlock()

	market, pos, err := o.loadLocked(ctx, current.ID)
	if err != nil {
		return PositionView{}, err
	}
	pos, err = pos.AddCollateral(req.Amount)
	if err != nil {
		return PositionView{}, err
	}
	err = o.store.Commit(ctx, storage.Mutation{
		Positions: []lending.BorrowPosition{pos},
		Journal: []storage.JournalEntry{o.journal("add_collateral", pos.ID, pos.Owner, map[string]any{
			"asset":  pos.CollateralAsset,
			"amount": req.Amount,
		})},
	})
	if err != nil {
		return PositionView{}, err
	}
	return o.viewPosition(pos, market), nil
}

// RemoveCollateral releases collateral as long as the remainder still covers
// the debt within the market's borrow power.
func (o *Orchestrator) RemoveCollateral(ctx context.Context, req PositionRequest) (view PositionView, err error) {
	ctx, done := o.begin(ctx, "remove_collateral", attribute.String("position", req.PositionID))
	defer done(&err)

	current, err := o.peekPosition(ctx, req.PositionID, req.Owner)
	if err != nil {
		return PositionView{}, err
	}
	if err := o.guard(lending.PauseScopes(current.Market, lending.ActionCollateral)); err != nil {
		return PositionView{}, err
	}
	prices, err := o.prices.Prices(current.CollateralAsset, current.Market)
	if err != nil {
		return PositionView{}, err
	}

	unlock := o.locks.Lock(marketKey(current.Market))
	defer unlock()

	market, pos, err := o.loadLocked(ctx, current.ID)
	if err != nil {
		return PositionView{}, err
	}
	pos, err = pos.RemoveCollateral(req.Amount, prices, market)
	if err != nil {
		return PositionView{}, err
	}
	err = o.store.Commit(ctx, storage.Mutation{
		Positions: []lending.BorrowPosition{pos},
		Journal: []storage.JournalEntry{o.journal("remove_collateral", pos.ID, pos.Owner, map[string]any{
			"asset":  pos.CollateralAsset,
			"amount": req.Amount,
		})},
	})
	if err != nil {
		return PositionView{}, err
	}
	return withHealth(pos, market, prices), nil
}

// Liquidate closes a position whose health factor is below one. The
// liquidator repays the whole debt and receives the whole collateral.
func (o *Orchestrator) Liquidate(ctx context.Context, req LiquidateRequest) (result LiquidationResult, err error) {
	ctx, done := o.begin(ctx, "liquidate", attribute.String("position", req.PositionID))
	defer done(&err)

	liquidator := strings.TrimSpace(req.Liquidator)
	if liquidator == "" {
		return LiquidationResult{}, fmt.Errorf("%w: liquidator required", ErrInvalidRequest)
	}
	current, err := o.peekPosition(ctx, req.PositionID, "")
	if err != nil {
		return LiquidationResult{}, err
	}
	if err := o.guard(lending.PauseScopes(current.Market, lending.ActionLiquidate)); err != nil {
		return LiquidationResult{}, err
	}
	prices, err := o.prices.Prices(current.CollateralAsset, current.Market)
	if err != nil {
		return LiquidationResult{}, err
	}

	unlock := o.locks.Lock(marketKey(current.Market))
	defer unlock()

	market, pos, err := o.loadLocked(ctx, current.ID)
	if err != nil {
		return LiquidationResult{}, err
	}
	liq, err := pos.Liquidate(prices, market)
	if err != nil {
		return LiquidationResult{}, err
	}
	next, err := market.Repay(liq.DebtRepaid)
	if err != nil {
		return LiquidationResult{}, err
	}
	err = o.store.Commit(ctx, storage.Mutation{
		Markets:         []lending.Market{next},
		DeletePositions: []string{pos.ID},
		Journal: []storage.JournalEntry{o.journal("liquidate", pos.ID, pos.Owner, map[string]any{
			"market":           pos.Market,
			"liquidator":       liquidator,
			"healthFactor":     liq.HealthFactor,
			"debtRepaid":       liq.DebtRepaid,
			"collateralAsset":  pos.CollateralAsset,
			"collateralSeized": liq.CollateralSeized,
			"collateralPrice":  prices.Collateral,
			"debtPrice":        prices.Debt,
		})},
	})
	if err != nil {
		return LiquidationResult{}, err
	}
	o.recordMarket(next)
	o.metrics.RecordLiquidation(next.Symbol)
	return LiquidationResult{
		Position:         liq.Position,
		Liquidator:       liquidator,
		HealthFactor:     liq.HealthFactor,
		DebtRepaid:       liq.DebtRepaid,
		CollateralSeized: liq.CollateralSeized,
		Market:           newMarketView(next),
	}, nil
}

// Position returns a position with its health at current prices.
func (o *Orchestrator) Position(ctx context.Context, id string) (PositionView, error) {
	pos, err := o.store.Position(ctx, strings.TrimSpace(id))
	if err != nil {
		return PositionView{}, err
	}
	market, err := o.store.Market(ctx, pos.Market)
	if err != nil {
		return PositionView{}, err
	}
	return o.viewPosition(pos, market), nil
}

// Positions lists open positions matching filter, each with its health.
func (o *Orchestrator) Positions(ctx context.Context, filter storage.PositionFilter) ([]PositionView, error) {
	filter.Market = normalizeSymbol(filter.Market)
	positions, err := o.store.Positions(ctx, filter)
	if err != nil {
		return nil, err
	}
	markets := make(map[string]lending.Market)
	out := make([]PositionView, 0, len(positions))
	for _, pos := range positions {
		market, ok := markets[pos.Market]
		if !ok {
			market, err = o.store.Market(ctx, pos.Market)
			if err != nil {
				return nil, err
			}
			markets[pos.Market] = market
		}
		out = append(out, o.viewPosition(pos, market))
	}
	return out, nil
}

// peekPosition reads a position outside any lock. Its market and assets never
// change, so callers use it to pick the lock and resolve prices, then re-read
// it under the lock with loadLocked.
func (o *Orchestrator) peekPosition(ctx context.Context, id, owner string) (lending.BorrowPosition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return lending.BorrowPosition{}, fmt.Errorf("%w: position id required", ErrInvalidRequest)
	}
	pos, err := o.store.Position(ctx, id)
	if err != nil {
		return lending.BorrowPosition{}, err
	}
	if owner = strings.TrimSpace(owner); owner != "" && pos.Owner != owner {
		return lending.BorrowPosition{}, ErrNotOwner
	}
	if !pos.Open() {
		return lending.BorrowPosition{}, lending.ErrPositionClosed
	}
	return pos, nil
}

func (o *Orchestrator) loadLocked(ctx context.Context, id string) (lending.Market, lending.BorrowPosition, error) {
	pos, err := o.store.Position(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// closed or liquidated while waiting for the lock
		return lending.Market{}, lending.BorrowPosition{}, fmt.Errorf("%w: position %s", lending.ErrPositionClosed, id)
	}
	if err != nil {
		return lending.Market{}, lending.BorrowPosition{}, err
	}
	market, err := o.store.Market(ctx, pos.Market)
	if err != nil {
		return lending.Market{}, lending.BorrowPosition{}, err
	}
	return market, pos, nil
}

// viewPosition attaches health when both prices are available.
func (o *Orchestrator) viewPosition(pos lending.BorrowPosition, market lending.Market) PositionView {
	if !pos.Open() {
		return PositionView{BorrowPosition: pos}
	}
	prices, err := o.prices.Prices(pos.CollateralAsset, pos.Market)
	if err != nil {
		return PositionView{BorrowPosition: pos}
	}
	return withHealth(pos, market, prices)
}

func withHealth(pos lending.BorrowPosition, market lending.Market, prices lending.Prices) PositionView {
	health := evaluate(pos, market, prices)
	return PositionView{BorrowPosition: pos, Health: &health}
}
