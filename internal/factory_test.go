package internal

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/dipbuyer/config"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
)

var (
	usdc = domain.Stablecoin{Symbol: "USDC", Token: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6}
	weth = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	link = common.HexToAddress("0xf97f4df75117a78c1A5a0DBb814Af92458539FB4")
)

func simConfig(wethPrice string) config.Config {
	return config.Config{
		Mode:  config.ModeSimulate,
		Chain: config.ChainConfig{Stablecoin: usdc},
		Assets: []config.AssetConfig{
			{ID: "WETH", Symbol: "WETH", Token: weth, Decimals: 18, Enabled: true},
			{ID: "LINK", Symbol: "LINK", Token: link, Decimals: 18, Enabled: true},
		},
		Simulate: config.SimulateConfig{
			StableBalance: decimal.NewFromInt(10000),
			Prices:        map[string]decimal.Decimal{"WETH": decimal.RequireFromString(wethPrice)},
		},
	}
}

func TestConnector_Simulate(t *testing.T) {
	ctx := context.Background()
	c := NewConnector(nil)

	client, err := c.Connect(ctx, simConfig("4000"))
	require.NoError(t, err)

	balance, err := client.BalanceOf(ctx, usdc.Token)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10_000_000_000), balance)

	// 1 WETH quotes 4000 USDC
	out, err := client.Quote(ctx, weth, usdc.Token, domain.Pow10(18), 500)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(4_000_000_000), out)

	_, err = client.Quote(ctx, link, usdc.Token, domain.Pow10(18), 3000)
	assert.Error(t, err, "asset without a simulated price has no pool")
}

func TestConnector_SimulateReusesWallet(t *testing.T) {
	ctx := context.Background()
	c := NewConnector(nil)

	first, err := c.Connect(ctx, simConfig("4000"))
	require.NoError(t, err)
	second, err := c.Connect(ctx, simConfig("3500"))
	require.NoError(t, err)
	assert.Same(t, first, second)

	out, err := second.Quote(ctx, weth, usdc.Token, domain.Pow10(18), 500)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3_500_000_000), out)
}

func TestConnector_Live(t *testing.T) {
	cfg := simConfig("4000")
	cfg.Mode = config.ModeLive
	cfg.Chain.PrivateKey = "not-a-key"

	_, err := NewConnector(nil).Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to chain")
}

func TestConnector_UnknownMode(t *testing.T) {
	cfg := simConfig("4000")
	cfg.Mode = "paper"

	_, err := NewConnector(nil).Connect(context.Background(), cfg)
	assert.Error(t, err)
}
