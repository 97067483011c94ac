package config

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"defiledger/native/amm"
	"defiledger/native/lending"
)

const sampleCatalog = `
[[Markets]]
Symbol = "eth"
CollateralFactorPct = "75"
LiquidationThresholdPct = "80"
BaseSupplyRatePct = "1"
BaseBorrowRatePct = "3"

[[Markets]]
Symbol = "USDC"
CollateralFactorPct = 85
LiquidationThresholdPct = 90
BaseSupplyRatePct = 2
BaseBorrowRatePct = 4
ReserveFactor = "0.2"

[[Pools]]
ID = "eth-usdc"
TokenA = "eth"
TokenB = "usdc"
FeeRatePct = "0.3"
`

func TestLoadCatalog(t *testing.T) {
	path := writeFile(t, "catalog.toml", sampleCatalog)
	defaultRF := decimal.RequireFromString("0.1")

	catalog, err := LoadCatalog(path, defaultRF)
	require.NoError(t, err)

	markets := catalog.MarketParams(defaultRF)
	require.Len(t, markets, 2)
	require.Equal(t, "ETH", markets[0].Symbol)
	require.True(t, markets[0].ReserveFactor.Equal(defaultRF))
	require.True(t, markets[1].CollateralFactorPct.Equal(decimal.NewFromInt(85)))
	require.True(t, markets[1].ReserveFactor.Equal(decimal.RequireFromString("0.2")))

	pools := catalog.PoolParams()
	require.Len(t, pools, 1)
	require.Equal(t, "ETH", pools[0].TokenA)
	require.Equal(t, "USDC", pools[0].TokenB)
}

func TestLoadCatalogRejectsInvalidEntries(t *testing.T) {
	path := writeFile(t, "catalog.toml", `
[[Markets]]
Symbol = "ETH"
CollateralFactorPct = "90"
LiquidationThresholdPct = "80"
`)
	_, err := LoadCatalog(path, decimal.Zero)
	require.True(t, errors.Is(err, lending.ErrInvalidParameters), "got %v", err)

	path = writeFile(t, "catalog.toml", `
[[Pools]]
ID = "self"
TokenA = "ETH"
TokenB = "eth"
`)
	_, err = LoadCatalog(path, decimal.Zero)
	require.True(t, errors.Is(err, amm.ErrInvalidPool), "got %v", err)
}

func TestLoadCatalogRejectsDuplicatesAndUnknownKeys(t *testing.T) {
	path := writeFile(t, "catalog.toml", `
[[Markets]]
Symbol = "ETH"
[[Markets]]
Symbol = "eth"
`)
	_, err := LoadCatalog(path, decimal.Zero)
	require.ErrorContains(t, err, "duplicate market ETH")

	path = writeFile(t, "catalog.toml", `
[[Markets]]
Symbol = "ETH"
Colateral = "1"
`)
	_, err = LoadCatalog(path, decimal.Zero)
	require.ErrorContains(t, err, "unknown keys")
}
