package amm

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position is one owner's stake in a pool. DepositedA and DepositedB are the
// cost basis of the remaining shares.
type Position struct {
	Owner      string          `json:"owner"`
	PoolID     string          `json:"poolId"`
	Shares     decimal.Decimal `json:"shares"`
	DepositedA decimal.Decimal `json:"depositedA"`
	DepositedB decimal.Decimal `json:"depositedB"`
}

// NewPosition returns an empty position for owner in pool.
func NewPosition(owner, poolID string) Position {
	return Position{
		Owner:      owner,
		PoolID:     poolID,
		Shares:     decimal.Zero,
		DepositedA: decimal.Zero,
		DepositedB: decimal.Zero,
	}
}

// Empty reports whether the position holds no shares and should be deleted.
func (p Position) Empty() bool { return !positive(p.Shares) }

// ApplyDeposit records minted shares and their cost.
func (p Position) ApplyDeposit(poolID string, minted, amountA, amountB decimal.Decimal) (Position, error) {
	if p.PoolID != poolID {
		return p, ErrPoolMismatch
	}
	next := p
	next.Shares = p.Shares.Add(minted)
	next.DepositedA = p.DepositedA.Add(amountA)
	next.DepositedB = p.DepositedB.Add(amountB)
	return next, nil
}

// ApplyWithdrawal burns shares and reduces the cost basis pro rata.
func (p Position) ApplyWithdrawal(poolID string, w Withdrawal) (Position, error) {
	if p.PoolID != poolID {
		return p, ErrPoolMismatch
	}
	if w.Shares.GreaterThan(p.Shares) {
		return p, fmt.Errorf("%w: requested %s, held %s", ErrInsufficientShares, w.Shares, p.Shares)
	}
	next := p
	next.Shares = p.Shares.Sub(w.Shares)
	if next.Shares.IsZero() {
		next.DepositedA = decimal.Zero
		next.DepositedB = decimal.Zero
		return next, nil
	}
	keep := quo(next.Shares, p.Shares)
	next.DepositedA = p.DepositedA.Mul(keep).Round(divisionPrecision)
	next.DepositedB = p.DepositedB.Mul(keep).Round(divisionPrecision)
	return next, nil
}

// UserShare returns the position's percentage ownership of the pool.
func UserShare(pos Position, p Pool) decimal.Decimal {
	if !positive(p.TotalShares) {
		return decimal.Zero
	}
	return quo(pos.Shares.Mul(hundred), p.TotalShares)
}

// Value returns the assets the position would receive if fully withdrawn now.
func (p Position) Value(pool Pool) (Withdrawal, error) {
	if p.Empty() {
		return Withdrawal{Shares: decimal.Zero, AmountA: decimal.Zero, AmountB: decimal.Zero}, nil
	}
	return QuoteWithdrawal(pool, p.Shares)
}
