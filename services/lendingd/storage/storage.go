package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"defiledger/native/amm"
	"defiledger/native/lending"
	"defiledger/services/lendingd/oracle"
)

var (
	// ErrPathRequired is returned when the database DSN is missing.
	ErrPathRequired = errors.New("lendingd storage dsn must be configured")
	// ErrNotFound is returned when a market, pool or position does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when listing a market or pool twice.
	ErrAlreadyExists = errors.New("already exists")
)

// Storage wraps the lendingd persistence layer.
type Storage struct {
	db  *gorm.DB
	now func() time.Time
}

// Open initialises the backing store and applies migrations. Postgres URLs
// select the postgres driver; everything else is SQLite.
func Open(dsn string) (*Storage, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if !isPostgres(dsn) {
		// SQLite allows a single writer; queue callers on one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("query %s: %w", fmt.Sprintf(format, args...), err)
}

// Market loads a market snapshot by symbol.
func (s *Storage) Market(ctx context.Context, symbol string) (lending.Market, error) {
	if s == nil {
		return lending.Market{}, fmt.Errorf("storage not configured")
	}
	var rec MarketRecord
	if err := s.db.WithContext(ctx).First(&rec, "symbol = ?", symbol).Error; err != nil {
		return lending.Market{}, notFound(err, "market %s", symbol)
	}
	return rec.market(), nil
}

// Markets lists every market ordered by symbol.
func (s *Storage) Markets(ctx context.Context) ([]lending.Market, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	var recs []MarketRecord
	if err := s.db.WithContext(ctx).Order("symbol").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	out := make([]lending.Market, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.market())
	}
	return out, nil
}

// Pool loads a pool snapshot by id.
func (s *Storage) Pool(ctx context.Context, id string) (amm.Pool, error) {
	if s == nil {
		return amm.Pool{}, fmt.Errorf("storage not configured")
	}
	var rec PoolRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return amm.Pool{}, notFound(err, "pool %s", id)
	}
	return rec.pool(), nil
}

// Pools lists every pool ordered by id.
func (s *Storage) Pools(ctx context.Context) ([]amm.Pool, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	var recs []PoolRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	out := make([]amm.Pool, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.pool())
	}
	return out, nil
}

// Position loads a borrow position by id.
func (s *Storage) Position(ctx context.Context, id string) (lending.BorrowPosition, error) {
	if s == nil {
		return lending.BorrowPosition{}, fmt.Errorf("storage not configured")
	}
	var rec BorrowPositionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return lending.BorrowPosition{}, notFound(err, "position %s", id)
	}
	return rec.position(), nil
}

// PositionFilter narrows a position listing. Empty fields match everything.
type PositionFilter struct {
	Owner  string
	Market string
}

// Positions lists borrow positions ordered by opening time.
func (s *Storage) Positions(ctx context.Context, filter PositionFilter) ([]lending.BorrowPosition, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	query := s.db.WithContext(ctx).Model(&BorrowPositionRecord{})
	if owner := strings.TrimSpace(filter.Owner); owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if market := strings.TrimSpace(filter.Market); market != "" {
		query = query.Where("market = ?", market)
	}
	var recs []BorrowPositionRecord
	if err := query.Order("opened_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]lending.BorrowPosition, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.position())
	}
	return out, nil
}

// LiquidityPosition loads an owner's stake in a pool.
func (s *Storage) LiquidityPosition(ctx context.Context, owner, poolID string) (amm.Position, error) {
	if s == nil {
		return amm.Position{}, fmt.Errorf("storage not configured")
	}
	var rec LiquidityPositionRecord
	if err := s.db.WithContext(ctx).First(&rec, "owner = ? AND pool_id = ?", owner, poolID).Error; err != nil {
		return amm.Position{}, notFound(err, "liquidity position %s/%s", poolID, owner)
	}
	return rec.position(), nil
}

// SupplyBalance returns how much owner has supplied to market, zero if none.
func (s *Storage) SupplyBalance(ctx context.Context, owner, market string) (decimal.Decimal, error) {
	if s == nil {
		return decimal.Zero, fmt.Errorf("storage not configured")
	}
	var rec SupplyBalance
	err := s.db.WithContext(ctx).First(&rec, "owner = ? AND market = ?", owner, market).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query supply balance: %w", err)
	}
	return rec.Amount, nil
}

// JournalFilter narrows a journal listing.
type JournalFilter struct {
	Entity string
	Owner  string
	Since  time.Time
	Limit  int
}

// Journal returns the newest journal entries first.
func (s *Storage) Journal(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	query := s.db.WithContext(ctx).Model(&JournalEntry{})
	if entity := strings.TrimSpace(filter.Entity); entity != "" {
		query = query.Where("entity = ?", entity)
	}
	if owner := strings.TrimSpace(filter.Owner); owner != "" {
		query = query.Where("owner = ?", owner)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entries []JournalEntry
	if err := query.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return entries, nil
}

// RecordPrice stores an accepted oracle quote.
func (s *Storage) RecordPrice(ctx context.Context, quote oracle.Quote) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	sample := PriceSample{Symbol: quote.Symbol, Price: quote.PriceUSD, ObservedAt: quote.ObservedAt.UTC()}
	if err := s.db.WithContext(ctx).Create(&sample).Error; err != nil {
		return fmt.Errorf("insert price sample: %w", err)
	}
	return nil
}

// LatestPrices returns the newest sample per symbol.
func (s *Storage) LatestPrices(ctx context.Context) ([]oracle.Quote, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	latest := s.db.Model(&PriceSample{}).Select("symbol, MAX(observed_at) AS observed_at").Group("symbol")
	var samples []PriceSample
	err := s.db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON latest.symbol = price_samples.symbol AND latest.observed_at = price_samples.observed_at", latest).
		Order("price_samples.symbol, price_samples.id DESC").
		Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("query latest prices: %w", err)
	}
	out := make([]oracle.Quote, 0, len(samples))
	seen := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		if _, ok := seen[sample.Symbol]; ok {
			continue
		}
		seen[sample.Symbol] = struct{}{}
		out = append(out, oracle.Quote{Symbol: sample.Symbol, PriceUSD: sample.Price, ObservedAt: sample.ObservedAt.UTC()})
	}
	return out, nil
}

// LiquidityKey identifies a liquidity position.
type LiquidityKey struct {
	Owner  string
	PoolID string
}

// Mutation is the full set of writes produced by one ledger operation. Commit
// applies it atomically.
type Mutation struct {
	NewMarkets      []lending.Market
	Markets         []lending.Market
	NewPools        []amm.Pool
	Pools           []amm.Pool
	Positions       []lending.BorrowPosition
	DeletePositions []string
	Liquidity       []amm.Position
	DeleteLiquidity []LiquidityKey
	Supplies        []SupplyBalance
	Journal         []JournalEntry
}

// NewJournalEntry builds a journal entry with a fresh id.
func NewJournalEntry(operation, entity, owner, details string) JournalEntry {
	return JournalEntry{
		ID:        uuid.New(),
		Operation: operation,
		Entity:    entity,
		Owner:     owner,
		Details:   details,
	}
}

// Commit applies every write of m in a single transaction. Nothing is written
// when any step fails.
func (s *Storage) Commit(ctx context.Context, m Mutation) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, market := range m.NewMarkets {
			rec := marketRecord(market, now)
			rec.CreatedAt = now
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if res.Error != nil {
				return fmt.Errorf("insert market %s: %w", market.Symbol, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: market %s", ErrAlreadyExists, market.Symbol)
			}
		}
		for _, market := range m.Markets {
			rec := marketRecord(market, now)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
				return fmt.Errorf("save market %s: %w", market.Symbol, err)
			}
		}
		for _, pool := range m.NewPools {
			rec := poolRecord(pool)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if res.Error != nil {
				return fmt.Errorf("insert pool %s: %w", pool.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: pool %s", ErrAlreadyExists, pool.ID)
			}
		}
		for _, pool := range m.Pools {
			rec := poolRecord(pool)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
				return fmt.Errorf("save pool %s: %w", pool.ID, err)
			}
		}
		for _, pos := range m.Positions {
			rec := positionRecord(pos, now)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
				return fmt.Errorf("save position %s: %w", pos.ID, err)
			}
		}
		for _, id := range m.DeletePositions {
			if err := tx.Delete(&BorrowPositionRecord{}, "id = ?", id).Error; err != nil {
				return fmt.Errorf("delete position %s: %w", id, err)
			}
		}
		for _, pos := range m.Liquidity {
			rec := liquidityRecord(pos, now)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
				return fmt.Errorf("save liquidity position %s/%s: %w", pos.PoolID, pos.Owner, err)
			}
		}
		for _, key := range m.DeleteLiquidity {
			if err := tx.Delete(&LiquidityPositionRecord{}, "owner = ? AND pool_id = ?", key.Owner, key.PoolID).Error; err != nil {
				return fmt.Errorf("delete liquidity position %s/%s: %w", key.PoolID, key.Owner, err)
			}
		}
		for _, balance := range m.Supplies {
			if balance.Amount.Sign() <= 0 {
				if err := tx.Delete(&SupplyBalance{}, "owner = ? AND market = ?", balance.Owner, balance.Market).Error; err != nil {
					return fmt.Errorf("delete supply balance: %w", err)
				}
				continue
			}
			rec := balance
			rec.UpdatedAt = now
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
				return fmt.Errorf("save supply balance: %w", err)
			}
		}
		for _, entry := range m.Journal {
			rec := entry
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = now
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("append journal: %w", err)
			}
		}
		return nil
	})
}
