package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Decimal columns are stored as text so sqlite and postgres round-trip every
// digit.

// MarketRecord persists a lending market aggregate.
type MarketRecord struct {
	Symbol                  string          `gorm:"primaryKey;size:32"`
	TotalSupplied           decimal.Decimal `gorm:"type:text;not null"`
	TotalBorrowed           decimal.Decimal `gorm:"type:text;not null"`
	CollateralFactorPct     decimal.Decimal `gorm:"type:text;not null"`
	LiquidationThresholdPct decimal.Decimal `gorm:"type:text;not null"`
	BaseSupplyRatePct       decimal.Decimal `gorm:"type:text;not null"`
	BaseBorrowRatePct       decimal.Decimal `gorm:"type:text;not null"`
	ReserveFactor           decimal.Decimal `gorm:"type:text;not null"`
	Active                  bool            `gorm:"not null"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (MarketRecord) TableName() string { return "markets" }

// PoolRecord persists a liquidity pool aggregate.
type PoolRecord struct {
	ID          string          `gorm:"primaryKey;size:64"`
	TokenA      string          `gorm:"size:32;not null"`
	TokenB      string          `gorm:"size:32;not null"`
	ReserveA    decimal.Decimal `gorm:"type:text;not null"`
	ReserveB    decimal.Decimal `gorm:"type:text;not null"`
	TotalShares decimal.Decimal `gorm:"type:text;not null"`
	FeeRatePct  decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PoolRecord) TableName() string { return "pools" }

// BorrowPositionRecord persists an open borrow position.
type BorrowPositionRecord struct {
	ID               string          `gorm:"primaryKey;size:36"`
	Owner            string          `gorm:"size:128;index"`
	Market           string          `gorm:"size:32;index"`
	CollateralAsset  string          `gorm:"size:32"`
	CollateralAmount decimal.Decimal `gorm:"type:text;not null"`
	DebtAmount       decimal.Decimal `gorm:"type:text;not null"`
	Status           string          `gorm:"size:16;index"`
	OpenedAt         time.Time
	UpdatedAt        time.Time
}

func (BorrowPositionRecord) TableName() string { return "borrow_positions" }

// LiquidityPositionRecord persists an owner's stake in a pool.
type LiquidityPositionRecord struct {
	Owner      string          `gorm:"primaryKey;size:128"`
	PoolID     string          `gorm:"primaryKey;size:64"`
	Shares     decimal.Decimal `gorm:"type:text;not null"`
	DepositedA decimal.Decimal `gorm:"type:text;not null"`
	DepositedB decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt  time.Time
}

func (LiquidityPositionRecord) TableName() string { return "liquidity_positions" }

// SupplyBalance tracks how much an owner has supplied to a market.
type SupplyBalance struct {
	Owner     string          `gorm:"primaryKey;size:128"`
	Market    string          `gorm:"primaryKey;size:32"`
	Amount    decimal.Decimal `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (SupplyBalance) TableName() string { return "supply_balances" }

// JournalEntry is the append-only audit trail of committed operations.
type JournalEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Operation string    `gorm:"size:32;index" json:"operation"`
	Entity    string    `gorm:"size:64;index" json:"entity"`
	Owner     string    `gorm:"size:128;index" json:"owner,omitempty"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

func (JournalEntry) TableName() string { return "journal" }

// PriceSample records an injected oracle price.
type PriceSample struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	Symbol     string          `gorm:"size:32;index"`
	Price      decimal.Decimal `gorm:"type:text;not null"`
	ObservedAt time.Time       `gorm:"index"`
	CreatedAt  time.Time
}

func (PriceSample) TableName() string { return "price_samples" }

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MarketRecord{},
		&PoolRecord{},
		&BorrowPositionRecord{},
		&LiquidityPositionRecord{},
		&SupplyBalance{},
		&JournalEntry{},
		&PriceSample{},
	)
}
