package simulate

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"go.uber.org/zap"
)

var (
	usdc = domain.Stablecoin{Symbol: "USDC", Token: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6}
	wbtc = common.HexToAddress("0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f")
)

func newTestExchange(t *testing.T) *Exchange {
	t.Helper()
	ex := NewExchange(usdc, zap.NewNop())
	p, err := domain.ParseUnits("100000", domain.PriceDecimals)
	require.NoError(t, err)
	ex.ListToken(wbtc, 8, p)
	ex.SetBalance(usdc.Token, big.NewInt(10_000_000_000))
	return ex
}

func TestExchange_Quote(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	out, err := ex.Quote(ctx, usdc.Token, wbtc, big.NewInt(1_000_000_000), 3000)
	require.NoError(t, err)
	assert.Equal(t, "1000000", out.String(), "1000 USDC buys 0.01 WBTC")

	out, err = ex.Quote(ctx, wbtc, usdc.Token, big.NewInt(1_000_000), 3000)
	require.NoError(t, err)
	assert.Equal(t, "1000000000", out.String())

	_, err = ex.Quote(ctx, usdc.Token, common.HexToAddress("0x01"), big.NewInt(1), 3000)
	require.ErrorContains(t, err, "Pool not found")
}

func TestExchange_SwapRequiresAllowance(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	params := domain.SwapParams{TokenIn: usdc.Token, TokenOut: wbtc, Fee: 3000, AmountIn: big.NewInt(1_000_000_000)}
	_, err := ex.Swap(ctx, params)
	require.ErrorContains(t, err, "STF")

	tx, err := ex.Approve(ctx, usdc.Token, ex.Router(), domain.MaxUint256)
	require.NoError(t, err)
	_, err = tx.Wait(ctx)
	require.NoError(t, err)

	tx, err = ex.Swap(ctx, params)
	require.NoError(t, err)
	out, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000000", out.String())

	usdcBalance, _ := ex.BalanceOf(ctx, usdc.Token)
	wbtcBalance, _ := ex.BalanceOf(ctx, wbtc)
	assert.Equal(t, "9000000000", usdcBalance.String())
	assert.Equal(t, "1000000", wbtcBalance.String())
	assert.Len(t, ex.Swaps(), 1)
	assert.Equal(t, 1, ex.Approvals())
}

func TestExchange_SwapSlippage(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	_, err := ex.Approve(ctx, usdc.Token, ex.Router(), domain.MaxUint256)
	require.NoError(t, err)

	_, err = ex.Swap(ctx, domain.SwapParams{
		TokenIn:      usdc.Token,
		TokenOut:     wbtc,
		AmountIn:     big.NewInt(1_000_000_000),
		MinAmountOut: big.NewInt(1_000_001),
	})
	require.ErrorContains(t, err, "Too little received")

	usdcBalance, _ := ex.BalanceOf(ctx, usdc.Token)
	assert.Equal(t, "10000000000", usdcBalance.String(), "failed swap leaves balances untouched")
}

func TestExchange_SwapInsufficientBalance(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()
	ex.SetBalance(usdc.Token, big.NewInt(10))

	_, err := ex.Approve(ctx, usdc.Token, ex.Router(), domain.MaxUint256)
	require.NoError(t, err)

	_, err = ex.Swap(ctx, domain.SwapParams{TokenIn: usdc.Token, TokenOut: wbtc, AmountIn: big.NewInt(1_000_000)})
	require.ErrorContains(t, err, "STF")
}
