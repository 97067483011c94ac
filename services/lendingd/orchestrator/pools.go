package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"defiledger/native/amm"
	"defiledger/services/lendingd/storage"
)

// LiquidityRequest adds (AmountA, AmountB) to a pool, or burns Shares from it.
type LiquidityRequest struct {
	Owner   string          `json:"owner"`
	PoolID  string          `json:"poolId"`
	AmountA decimal.Decimal `json:"amountA"`
	AmountB decimal.Decimal `json:"amountB"`
	Shares  decimal.Decimal `json:"shares"`
}

func (r *LiquidityRequest) normalize() error {
	r.Owner = strings.TrimSpace(r.Owner)
	r.PoolID = strings.TrimSpace(r.PoolID)
	if r.Owner == "" || r.PoolID == "" {
		return fmt.Errorf("%w: owner and pool required", ErrInvalidRequest)
	}
	return nil
}

// DeployPool creates an empty pool.
func (o *Orchestrator) DeployPool(ctx context.Context, params amm.PoolParams) (view PoolView, err error) {
	params.Normalize()
	ctx, done := o.begin(ctx, "deploy_pool", attribute.String("pool", params.ID))
	defer done(&err)

	pool, err := amm.NewPool(params, o.now())
	if err != nil {
		return PoolView{}, err
	}
	unlock := o.locks.Lock(poolKey(pool.ID))
	defer unlock()

	err = o.store.Commit(ctx, storage.Mutation{
		NewPools: []amm.Pool{pool},
		Journal: []storage.JournalEntry{o.journal("deploy_pool", pool.ID, "", map[string]any{
			"tokenA":     pool.TokenA,
			"tokenB":     pool.TokenB,
			"feeRatePct": pool.FeeRatePct,
		})},
	})
	if err != nil {
		return PoolView{}, err
	}
	o.recordPool(pool)
	return newPoolView(pool), nil
}

// Pool returns a pool snapshot.
func (o *Orchestrator) Pool(ctx context.Context, id string) (PoolView, error) {
	pool, err := o.store.Pool(ctx, strings.TrimSpace(id))
	if err != nil {
		return PoolView{}, err
	}
	return newPoolView(pool), nil
}

// Pools lists every pool.
func (o *Orchestrator) Pools(ctx context.Context) ([]PoolView, error) {
	pools, err := o.store.Pools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PoolView, 0, len(pools))
	for _, p := range pools {
		out = append(out, newPoolView(p))
	}
	return out, nil
}

// QuoteLiquidity previews the shares a deposit would mint and the resulting
// ownership percentage. Nothing is written.
func (o *Orchestrator) QuoteLiquidity(ctx context.Context, poolID string, amountA, amountB decimal.Decimal) (LiquidityQuote, error) {
	pool, err := o.store.Pool(ctx, strings.TrimSpace(poolID))
	if err != nil {
		return LiquidityQuote{}, err
	}
	next, shares, err := pool.AddLiquidity(amountA, amountB, o.now())
	if err != nil {
		return LiquidityQuote{}, err
	}
	prospective, err := amm.NewPosition("", next.ID).ApplyDeposit(next.ID, shares, amountA, amountB)
	if err != nil {
		return LiquidityQuote{}, err
	}
	return LiquidityQuote{
		PoolID:   pool.ID,
		Shares:   shares,
		SharePct: amm.UserShare(prospective, next),
	}, nil
}

// AddLiquidity deposits both assets, mints shares and credits them to the
// owner's position.
func (o *Orchestrator) AddLiquidity(ctx context.Context, req LiquidityRequest) (result LiquidityResult, err error) {
	ctx, done := o.begin(ctx, "add_liquidity", attribute.String("pool", strings.TrimSpace(req.PoolID)))
	defer done(&err)

	if err := req.normalize(); err != nil {
		return LiquidityResult{}, err
	}
	if err := o.guard(amm.PauseScopes(req.PoolID, amm.ActionAdd)); err != nil {
		return LiquidityResult{}, err
	}
	unlock := o.locks.Lock(poolKey(req.PoolID))
	defer unlock()

	pool, pos, err := o.loadLiquidity(ctx, req.Owner, req.PoolID)
	if err != nil {
		return LiquidityResult{}, err
	}
	next, minted, err := pool.AddLiquidity(req.AmountA, req.AmountB, o.now())
	if err != nil {
		return LiquidityResult{}, err
	}
	pos, err = pos.ApplyDeposit(next.ID, minted, req.AmountA, req.AmountB)
	if err != nil {
		return LiquidityResult{}, err
	}
	err = o.store.Commit(ctx, storage.Mutation{
		Pools:     []amm.Pool{next},
		Liquidity: []amm.Position{pos},
		Journal: []storage.JournalEntry{o.journal("add_liquidity", next.ID, req.Owner, map[string]any{
			"amountA": req.AmountA,
			"amountB": req.AmountB,
			"minted":  minted,
		})},
	})
	if err != nil {
		return LiquidityResult{}, err
	}
	o.recordPool(next)
	return LiquidityResult{
		Pool:     newPoolView(next),
		Position: viewLiquidity(pos, next),
		Minted:   minted,
	}, nil
}

// RemoveLiquidity burns the owner's shares and pays out both assets pro rata.
// A position left without shares is removed.
func (o *Orchestrator) RemoveLiquidity(ctx context.Context, req LiquidityRequest) (result LiquidityResult, err error) {
	ctx, done := o.begin(ctx, "remove_liquidity", attribute.String("pool", strings.TrimSpace(req.PoolID)))
	defer done(&err)

	if err := req.normalize(); err != nil {
		return LiquidityResult{}, err
	}
	if err := o.guard(amm.PauseScopes(req.PoolID, amm.ActionRemove)); err != nil {
		return LiquidityResult{}, err
	}
	unlock := o.locks.Lock(poolKey(req.PoolID))
	defer unlock()

	pool, pos, err := o.loadLiquidity(ctx, req.Owner, req.PoolID)
	if err != nil {
		return LiquidityResult{}, err
	}
	next, payout, err := pool.RemoveLiquidity(req.Shares, pos.Shares, o.now())
	if err != nil {
		return LiquidityResult{}, err
	}
	pos, err = pos.ApplyWithdrawal(next.ID, payout)
	if err != nil {
		return LiquidityResult{}, err
	}
	mutation := storage.Mutation{
		Pools: []amm.Pool{next},
		Journal: []storage.JournalEntry{o.journal("remove_liquidity", next.ID, req.Owner, map[string]any{
			"shares":  payout.Shares,
			"amountA": payout.AmountA,
			"amountB": payout.AmountB,
		})},
	}
	if pos.Empty() {
		mutation.DeleteLiquidity = []storage.LiquidityKey{{Owner: pos.Owner, PoolID: pos.PoolID}}
	} else {
		mutation.Liquidity = []amm.Position{pos}
	}
	if err := o.store.Commit(ctx, mutation); err != nil {
		return LiquidityResult{}, err
	}
	o.recordPool(next)
	return LiquidityResult{
		Pool:     newPoolView(next),
		Position: viewLiquidity(pos, next),
		Minted:   decimal.Zero,
		Payout:   &payout,
	}, nil
}

// LiquidityPosition returns an owner's stake with its share and current value.
func (o *Orchestrator) LiquidityPosition(ctx context.Context, owner, poolID string) (LiquidityPositionView, error) {
	pool, err := o.store.Pool(ctx, strings.TrimSpace(poolID))
	if err != nil {
		return LiquidityPositionView{}, err
	}
	pos, err := o.store.LiquidityPosition(ctx, strings.TrimSpace(owner), pool.ID)
	if err != nil {
		return LiquidityPositionView{}, err
	}
	return viewLiquidity(pos, pool), nil
}

// loadLiquidity loads the pool and the owner's position, starting an empty
// position on first deposit.
func (o *Orchestrator) loadLiquidity(ctx context.Context, owner, poolID string) (amm.Pool, amm.Position, error) {
	pool, err := o.store.Pool(ctx, poolID)
	if err != nil {
		return amm.Pool{}, amm.Position{}, err
	}
	pos, err := o.store.LiquidityPosition(ctx, owner, pool.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return pool, amm.NewPosition(owner, pool.ID), nil
	}
	if err != nil {
		return amm.Pool{}, amm.Position{}, err
	}
	return pool, pos, nil
}

func viewLiquidity(pos amm.Position, pool amm.Pool) LiquidityPositionView {
	value, err := pos.Value(pool)
	if err != nil {
		value = amm.Withdrawal{Shares: decimal.Zero, AmountA: decimal.Zero, AmountB: decimal.Zero}
	}
	return LiquidityPositionView{
		Position: pos,
		SharePct: amm.UserShare(pos, pool),
		Value:    value,
	}
}
