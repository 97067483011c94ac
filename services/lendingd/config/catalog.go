package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"defiledger/native/amm"
	"defiledger/native/lending"
)

// Catalog lists the markets and pools created at boot.
type Catalog struct {
	Markets []MarketEntry    `toml:"Markets"`
	Pools   []amm.PoolParams `toml:"Pools"`
}

// MarketEntry is a catalog market. ReserveFactor is optional and falls back
// to the service default.
type MarketEntry struct {
	Symbol                  string           `toml:"Symbol"`
	CollateralFactorPct     decimal.Decimal  `toml:"CollateralFactorPct"`
	LiquidationThresholdPct decimal.Decimal  `toml:"LiquidationThresholdPct"`
	BaseSupplyRatePct       decimal.Decimal  `toml:"BaseSupplyRatePct"`
	BaseBorrowRatePct       decimal.Decimal  `toml:"BaseBorrowRatePct"`
	ReserveFactor           *decimal.Decimal `toml:"ReserveFactor"`
}

// Params converts the entry into listing parameters.
func (e MarketEntry) Params(defaultReserveFactor decimal.Decimal) lending.MarketParams {
	rf := defaultReserveFactor
	if e.ReserveFactor != nil {
		rf = *e.ReserveFactor
	}
	params := lending.MarketParams{
		Symbol:                  e.Symbol,
		CollateralFactorPct:     e.CollateralFactorPct,
		LiquidationThresholdPct: e.LiquidationThresholdPct,
		BaseSupplyRatePct:       e.BaseSupplyRatePct,
		BaseBorrowRatePct:       e.BaseBorrowRatePct,
		ReserveFactor:           rf,
	}
	params.Normalize()
	return params
}

// LoadCatalog decodes a TOML catalog and validates every entry.
func LoadCatalog(path string, defaultReserveFactor decimal.Decimal) (Catalog, error) {
	var catalog Catalog
	meta, err := toml.DecodeFile(path, &catalog)
	if err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Catalog{}, fmt.Errorf("catalog: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := catalog.Validate(defaultReserveFactor); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

// Validate checks every entry and rejects duplicate symbols or pool ids.
func (c Catalog) Validate(defaultReserveFactor decimal.Decimal) error {
	seenMarkets := make(map[string]struct{}, len(c.Markets))
	for i, entry := range c.Markets {
		params := entry.Params(defaultReserveFactor)
		if err := params.Validate(); err != nil {
			return fmt.Errorf("catalog market %d: %w", i, err)
		}
		if _, ok := seenMarkets[params.Symbol]; ok {
			return fmt.Errorf("catalog: duplicate market %s", params.Symbol)
		}
		seenMarkets[params.Symbol] = struct{}{}
	}
	seenPools := make(map[string]struct{}, len(c.Pools))
	for i, pool := range c.Pools {
		pool.Normalize()
		if err := pool.Validate(); err != nil {
			return fmt.Errorf("catalog pool %d: %w", i, err)
		}
		if _, ok := seenPools[pool.ID]; ok {
			return fmt.Errorf("catalog: duplicate pool %s", pool.ID)
		}
		seenPools[pool.ID] = struct{}{}
	}
	return nil
}

// MarketParams returns the normalised listing parameters of every market.
func (c Catalog) MarketParams(defaultReserveFactor decimal.Decimal) []lending.MarketParams {
	out := make([]lending.MarketParams, 0, len(c.Markets))
	for _, entry := range c.Markets {
		out = append(out, entry.Params(defaultReserveFactor))
	}
	return out
}

// PoolParams returns the normalised deployment parameters of every pool.
func (c Catalog) PoolParams() []amm.PoolParams {
	out := make([]amm.PoolParams, 0, len(c.Pools))
	for _, pool := range c.Pools {
		pool.Normalize()
		out = append(out, pool)
	}
	return out
}
