package storage

import (
	"time"

	"defiledger/native/amm"
	"defiledger/native/lending"
)

func marketRecord(m lending.Market, now time.Time) MarketRecord {
	return MarketRecord{
		Symbol:                  m.Symbol,
		TotalSupplied:           m.TotalSupplied,
		TotalBorrowed:           m.TotalBorrowed,
		CollateralFactorPct:     m.CollateralFactorPct,
		LiquidationThresholdPct: m.LiquidationThresholdPct,
		BaseSupplyRatePct:       m.BaseSupplyRatePct,
		BaseBorrowRatePct:       m.BaseBorrowRatePct,
		ReserveFactor:           m.ReserveFactor,
		Active:                  m.Active,
		UpdatedAt:               now,
	}
}

func (r MarketRecord) market() lending.Market {
	return lending.Market{
		Symbol:                  r.Symbol,
		TotalSupplied:           r.TotalSupplied,
		TotalBorrowed:           r.TotalBorrowed,
		CollateralFactorPct:     r.CollateralFactorPct,
		LiquidationThresholdPct: r.LiquidationThresholdPct,
		BaseSupplyRatePct:       r.BaseSupplyRatePct,
		BaseBorrowRatePct:       r.BaseBorrowRatePct,
		ReserveFactor:           r.ReserveFactor,
		Active:                  r.Active,
	}
}

func poolRecord(p amm.Pool) PoolRecord {
	return PoolRecord{
		ID:          p.ID,
		TokenA:      p.TokenA,
		TokenB:      p.TokenB,
		ReserveA:    p.ReserveA,
		ReserveB:    p.ReserveB,
		TotalShares: p.TotalShares,
		FeeRatePct:  p.FeeRatePct,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (r PoolRecord) pool() amm.Pool {
	return amm.Pool{
		ID:          r.ID,
		TokenA:      r.TokenA,
		TokenB:      r.TokenB,
		ReserveA:    r.ReserveA,
		ReserveB:    r.ReserveB,
		TotalShares: r.TotalShares,
		FeeRatePct:  r.FeeRatePct,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func positionRecord(p lending.BorrowPosition, now time.Time) BorrowPositionRecord {
	return BorrowPositionRecord{
		ID:               p.ID,
		Owner:            p.Owner,
		Market:           p.Market,
		CollateralAsset:  p.CollateralAsset,
		CollateralAmount: p.CollateralAmount,
		DebtAmount:       p.DebtAmount,
		Status:           string(p.Status),
		OpenedAt:         p.OpenedAt,
		UpdatedAt:        now,
	}
}

func (r BorrowPositionRecord) position() lending.BorrowPosition {
	return lending.BorrowPosition{
		ID:               r.ID,
		Owner:            r.Owner,
		Market:           r.Market,
		CollateralAsset:  r.CollateralAsset,
		CollateralAmount: r.CollateralAmount,
		DebtAmount:       r.DebtAmount,
		Status:           lending.PositionStatus(r.Status),
		OpenedAt:         r.OpenedAt.UTC(),
	}
}

func liquidityRecord(p amm.Position, now time.Time) LiquidityPositionRecord {
	return LiquidityPositionRecord{
		Owner:      p.Owner,
		PoolID:     p.PoolID,
		Shares:     p.Shares,
		DepositedA: p.DepositedA,
		DepositedB: p.DepositedB,
		UpdatedAt:  now,
	}
}

func (r LiquidityPositionRecord) position() amm.Position {
	return amm.Position{
		Owner:      r.Owner,
		PoolID:     r.PoolID,
		Shares:     r.Shares,
		DepositedA: r.DepositedA,
		DepositedB: r.DepositedB,
	}
}
