package amm

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pool is a two-asset liquidity pool snapshot. Either every balance is zero
// (empty pool) or every balance is positive. Ledger operations return a new
// value and never mutate the receiver.
type Pool struct {
	ID          string          `json:"id"`
	TokenA      string          `json:"tokenA"`
	TokenB      string          `json:"tokenB"`
	ReserveA    decimal.Decimal `json:"reserveA"`
	ReserveB    decimal.Decimal `json:"reserveB"`
	TotalShares decimal.Decimal `json:"totalShares"`
	// FeeRatePct is recorded for display. Swaps are not routed through the
	// pool so the fee never accrues.
	FeeRatePct decimal.Decimal `json:"feeRatePct"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// PoolParams describes a pool at deployment time.
type PoolParams struct {
	ID         string          `toml:"ID"`
	TokenA     string          `toml:"TokenA"`
	TokenB     string          `toml:"TokenB"`
	FeeRatePct decimal.Decimal `toml:"FeeRatePct"`
}

// Normalize trims identifiers and upper-cases token symbols.
func (p *PoolParams) Normalize() {
	if p == nil {
		return
	}
	p.ID = strings.TrimSpace(p.ID)
	p.TokenA = strings.ToUpper(strings.TrimSpace(p.TokenA))
	p.TokenB = strings.ToUpper(strings.TrimSpace(p.TokenB))
}

// Validate checks deployment parameters.
func (p PoolParams) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidPool)
	}
	if p.TokenA == "" || p.TokenB == "" {
		return fmt.Errorf("%w: both tokens required", ErrInvalidPool)
	}
	if p.TokenA == p.TokenB {
		return fmt.Errorf("%w: tokens must differ", ErrInvalidPool)
	}
	if p.FeeRatePct.IsNegative() || p.FeeRatePct.GreaterThan(hundred) {
		return fmt.Errorf("%w: fee rate must be within [0,100]", ErrInvalidPool)
	}
	return nil
}

// NewPool deploys an empty pool.
func NewPool(params PoolParams, now time.Time) (Pool, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return Pool{}, err
	}
	return Pool{
		ID:          params.ID,
		TokenA:      params.TokenA,
		TokenB:      params.TokenB,
		ReserveA:    decimal.Zero,
		ReserveB:    decimal.Zero,
		TotalShares: decimal.Zero,
		FeeRatePct:  params.FeeRatePct,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Empty reports whether the pool holds no liquidity.
func (p Pool) Empty() bool { return p.TotalShares.IsZero() }

// Validate checks that reserves and shares are either all zero or all
// positive.
func (p Pool) Validate() error {
	if p.ReserveA.IsNegative() || p.ReserveB.IsNegative() || p.TotalShares.IsNegative() {
		return fmt.Errorf("%w: negative balance", ErrDegeneratePool)
	}
	a, b, s := p.ReserveA.IsZero(), p.ReserveB.IsZero(), p.TotalShares.IsZero()
	if a != b || b != s {
		return fmt.Errorf("%w: reserves %s/%s with %s shares", ErrDegeneratePool, p.ReserveA, p.ReserveB, p.TotalShares)
	}
	return nil
}

// PriceRatio returns reserveB per unit of reserveA, or zero for an empty pool.
func (p Pool) PriceRatio() decimal.Decimal {
	return quo(p.ReserveB, p.ReserveA)
}

// QuoteShares returns the shares a deposit of (amountA, amountB) would mint.
// Seeding an empty pool mints amountA + amountB; afterwards the scarcer side
// of the deposit decides: min(amountA/reserveA, amountB/reserveB) * shares.
func QuoteShares(p Pool, amountA, amountB decimal.Decimal) (decimal.Decimal, error) {
	if !positive(amountA) || !positive(amountB) {
		if p.Empty() {
			return decimal.Zero, fmt.Errorf("%w: empty pool requires both assets", ErrDegeneratePool)
		}
		return decimal.Zero, ErrInvalidAmount
	}
	if err := p.Validate(); err != nil {
		return decimal.Zero, err
	}
	if p.Empty() {
		return amountA.Add(amountB), nil
	}
	ratio := decimal.Min(quo(amountA, p.ReserveA), quo(amountB, p.ReserveB))
	return ratio.Mul(p.TotalShares).Truncate(divisionPrecision), nil
}

// AddLiquidity deposits both assets and returns the updated pool together with
// the minted shares.
func (p Pool) AddLiquidity(amountA, amountB decimal.Decimal, now time.Time) (Pool, decimal.Decimal, error) {
	if !positive(amountA) || !positive(amountB) {
		if p.Empty() && (positive(amountA) || positive(amountB)) {
			return p, decimal.Zero, fmt.Errorf("%w: empty pool requires both assets", ErrDegeneratePool)
		}
		return p, decimal.Zero, ErrInvalidAmount
	}
	minted, err := QuoteShares(p, amountA, amountB)
	if err != nil {
		return p, decimal.Zero, err
	}
	if !positive(minted) {
		return p, decimal.Zero, fmt.Errorf("%w: deposit mints no shares", ErrDegeneratePool)
	}
	next := p
	next.ReserveA = p.ReserveA.Add(amountA)
	next.ReserveB = p.ReserveB.Add(amountB)
	next.TotalShares = p.TotalShares.Add(minted)
	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return p, decimal.Zero, err
	}
	return next, minted, nil
}

// Withdrawal is the payout of burning shares.
type Withdrawal struct {
	Shares  decimal.Decimal `json:"shares"`
	AmountA decimal.Decimal `json:"amountA"`
	AmountB decimal.Decimal `json:"amountB"`
}

// QuoteWithdrawal returns the pro-rata payout for burning shares without
// checking ownership.
func QuoteWithdrawal(p Pool, shares decimal.Decimal) (Withdrawal, error) {
	if !positive(shares) {
		return Withdrawal{}, ErrInvalidAmount
	}
	if shares.GreaterThan(p.TotalShares) {
		return Withdrawal{}, fmt.Errorf("%w: pool has %s shares", ErrInsufficientShares, p.TotalShares)
	}
	if shares.Equal(p.TotalShares) {
		return Withdrawal{Shares: shares, AmountA: p.ReserveA, AmountB: p.ReserveB}, nil
	}
	return Withdrawal{
		Shares:  shares,
		AmountA: p.ReserveA.Mul(shares).DivRound(p.TotalShares, divisionPrecision),
		AmountB: p.ReserveB.Mul(shares).DivRound(p.TotalShares, divisionPrecision),
	}, nil
}

// RemoveLiquidity burns shares out of held and pays out the pro-rata reserves.
// Burning every outstanding share empties the pool exactly.
func (p Pool) RemoveLiquidity(shares, held decimal.Decimal, now time.Time) (Pool, Withdrawal, error) {
	if !positive(shares) {
		return p, Withdrawal{}, ErrInvalidAmount
	}
	if shares.GreaterThan(held) {
		return p, Withdrawal{}, fmt.Errorf("%w: requested %s, held %s", ErrInsufficientShares, shares, held)
	}
	if held.GreaterThan(p.TotalShares) {
		return p, Withdrawal{}, fmt.Errorf("%w: held %s exceeds pool total %s", ErrInsufficientShares, held, p.TotalShares)
	}
	out, err := QuoteWithdrawal(p, shares)
	if err != nil {
		return p, Withdrawal{}, err
	}
	next := p
	next.ReserveA = p.ReserveA.Sub(out.AmountA)
	next.ReserveB = p.ReserveB.Sub(out.AmountB)
	next.TotalShares = p.TotalShares.Sub(shares)
	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return p, Withdrawal{}, err
	}
	return next, out, nil
}
