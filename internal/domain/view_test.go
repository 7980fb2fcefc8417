package domain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssetView(t *testing.T) {
	asset := Asset{ID: "WETH", Symbol: "WETH", Decimals: 18, PurchaseAmount: big.NewInt(100_000_000), MaxPurchases: 5, Enabled: true}
	stable := Stablecoin{Symbol: "USDC", Decimals: 6}

	s := NewTrackerState()
	s.PurchaseCount = 1
	s.AllTimeHigh = new(big.Int).Mul(big.NewInt(4000), Pow10(18))
	s.CurrentPrice = new(big.Int).Mul(big.NewInt(3900), Pow10(18))
	s.TotalSpent = big.NewInt(100_000_000)

	v := NewAssetView(asset, stable, *s)
	assert.Equal(t, PhaseMonitoring, v.Phase)
	assert.Equal(t, "-2.50", v.PriceChangeFromATH)
	assert.Equal(t, "100", v.TotalSpent)
	assert.Equal(t, "100", v.PurchaseAmount)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"priceChangeFromATH":"-2.50"`)
}

func TestNewAssetView_NoPriceYet(t *testing.T) {
	v := NewAssetView(Asset{ID: "WBTC", MaxPurchases: 3}, Stablecoin{Decimals: 6}, *NewTrackerState())
	assert.Empty(t, v.PriceChangeFromATH)
	assert.Equal(t, "0", v.Balance)
}
