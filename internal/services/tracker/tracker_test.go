package tracker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dipbuyer/internal/clients/simulate"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"go.uber.org/zap"
)

var (
	usdc = domain.Stablecoin{Symbol: "USDC", Token: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6}
	wbtc = common.HexToAddress("0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f")
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) levels(level domain.Level) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	tracker *Tracker
	ex      *simulate.Exchange
	events  *recorder
	saves   int
	saveErr error
}

func usd(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := domain.ParseUnits(s, domain.PriceDecimals)
	require.NoError(t, err)
	return v
}

func wbtcAsset(maxPurchases int) domain.Asset {
	return domain.Asset{
		ID:             "WBTC",
		Symbol:         "WBTC",
		Token:          wbtc,
		Decimals:       8,
		PurchaseAmount: big.NewInt(1_000_000_000),
		MaxPurchases:   maxPurchases,
		DropBps:        200,
		FeeTier:        3000,
		Enabled:        true,
	}
}

func newFixture(t *testing.T, maxPurchases int) *fixture {
	t.Helper()

	ex := simulate.NewExchange(usdc, zap.NewNop())
	ex.ListToken(wbtc, 8, usd(t, "100000"))
	ex.SetBalance(usdc.Token, big.NewInt(10_000_000_000))

	f := &fixture{ex: ex, events: &recorder{}}
	tr, err := New(zap.NewNop(), wbtcAsset(maxPurchases), usdc, 100, ex, ex, f.events, func(context.Context) error {
		f.saves++
		return f.saveErr
	})
	require.NoError(t, err)
	f.tracker = tr

	return f
}

func (f *fixture) setPrice(t *testing.T, p string) {
	f.ex.SetPrice(wbtc, usd(t, p))
}

func TestNew_Validation(t *testing.T) {
	ex := simulate.NewExchange(usdc, nil)

	_, err := New(nil, wbtcAsset(0), usdc, 100, ex, ex, nil, nil)
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(nil, wbtcAsset(1), usdc, 10_000, ex, ex, nil, nil)
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(nil, wbtcAsset(1), usdc, 100, nil, ex, nil, nil)
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestTracker_FirstEvaluatePurchasesUnconditionally(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	require.Equal(t, domain.PhaseAwaitingFirstPurchase, f.tracker.Phase())

	event, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, domain.ActionBuy, event.Action)
	assert.Equal(t, "1000000", event.AmountOut.String())

	state := f.tracker.State()
	assert.Equal(t, 1, state.PurchaseCount)
	assert.Equal(t, domain.PhaseMonitoring, f.tracker.Phase())
	assert.Equal(t, state.LastPurchasePrice.String(), state.AllTimeHigh.String())
	assert.Equal(t, "1000000000", state.TotalSpent.String())
	assert.Equal(t, "100000.0000", domain.FormatPrice(state.AverageCost, 4))
	assert.Equal(t, "1000000", state.HeldBalance.String())
	assert.Equal(t, 1, f.saves)
	assert.Equal(t, 1, f.ex.Approvals())
	assert.Len(t, f.events.levels(domain.LevelSuccess), 1)

	swaps := f.ex.Swaps()
	require.Len(t, swaps, 1)
	assert.Equal(t, "990000", swaps[0].MinAmountOut.String(), "1% slippage floor")
}

func TestTracker_DrawdownTrigger(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)

	f.setPrice(t, "98500")
	event, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.Nil(t, event, "1.5% drop stays below the 2% threshold")
	assert.Equal(t, 1, f.tracker.State().PurchaseCount)

	f.setPrice(t, "97900")
	event, err = f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.NotNil(t, event, "2.1% drop triggers")

	state := f.tracker.State()
	assert.Equal(t, 2, state.PurchaseCount)
	assert.Equal(t, state.LastPurchasePrice.String(), state.AllTimeHigh.String())
	assert.Equal(t, "97900", domain.FormatPrice(state.AllTimeHigh, 0))
	assert.Equal(t, 1, f.ex.Approvals(), "max allowance is reused")
	assert.Equal(t, 2, f.saves)
}

func TestTracker_AllTimeHighFollowsPriceUp(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)

	f.setPrice(t, "110000")
	event, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.Nil(t, event)
	assert.Equal(t, "110000", domain.FormatPrice(f.tracker.State().AllTimeHigh, 0))
	assert.Equal(t, "100000", domain.FormatPrice(f.tracker.State().LastPurchasePrice, 0))

	// 107700 is above the last purchase price but 2.09% under the ATH
	f.setPrice(t, "107700")
	event, err = f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.NotNil(t, event, "drawdown is measured from the ATH, not the last purchase")
}

func TestTracker_MaxPurchasesExhausts(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseExhausted, f.tracker.Phase())

	f.setPrice(t, "50000")
	f.ex.FailQuotes(errors.New("must not be called"))
	for i := 0; i < 3; i++ {
		event, err := f.tracker.Evaluate(ctx)
		require.NoError(t, err)
		require.Nil(t, event)
	}
	assert.Equal(t, 1, f.tracker.State().PurchaseCount)
	assert.Len(t, f.ex.Swaps(), 1)
}

func TestTracker_RestoreGoesStraightToMonitoring(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	require.NoError(t, f.tracker.Restore(domain.AssetSnapshot{
		ID:                "WBTC",
		LastPurchasePrice: usd(t, "100000"),
		AllTimeHigh:       usd(t, "100000"),
		PurchaseCount:     3,
		TotalSpent:        big.NewInt(3_000_000_000),
	}))
	require.Equal(t, domain.PhaseMonitoring, f.tracker.Phase())

	event, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.Nil(t, event, "no first-purchase after restore")
	assert.Empty(t, f.ex.Swaps())

	err = f.tracker.Restore(domain.AssetSnapshot{ID: "WETH"})
	require.Error(t, err)
}

func TestTracker_RestoreWithoutATHSeedsFromFirstPrice(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	require.NoError(t, f.tracker.Restore(domain.AssetSnapshot{ID: "WBTC", PurchaseCount: 2, TotalSpent: big.NewInt(1)}))

	event, err := f.tracker.Evaluate(ctx)
	require.NoError(t, err)
	require.Nil(t, event)
	assert.Equal(t, "100000", domain.FormatPrice(f.tracker.State().AllTimeHigh, 0))
}

func TestTracker_RestoreExhausted(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, f.tracker.Restore(domain.AssetSnapshot{ID: "WBTC", PurchaseCount: 3, TotalSpent: big.NewInt(1)}))
	require.Equal(t, domain.PhaseExhausted, f.tracker.Phase())
}

func TestTracker_PurchaseFailuresLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		target error
	}{
		{
			name:   "insufficient funds",
			setup:  func(f *fixture) { f.ex.SetBalance(usdc.Token, big.NewInt(500_000_000)) },
			target: domain.ErrInsufficientFunds,
		},
		{
			name:   "approval",
			setup:  func(f *fixture) { f.ex.FailApprovals(errors.New("user rejected")) },
			target: domain.ErrApprovalFailed,
		},
		{
			name:   "quote",
			setup:  func(f *fixture) { f.ex.FailQuotes(errors.New("rpc down")) },
			target: domain.ErrQuote,
		},
		{
			name:   "slippage",
			setup:  func(f *fixture) { f.ex.FailSwaps(errors.New("execution reverted: Too little received")) },
			target: domain.ErrSwapFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10)
			tt.setup(f)

			before := f.tracker.State()
			_, err := f.tracker.Purchase(context.Background())
			require.ErrorIs(t, err, tt.target)

			after := f.tracker.State()
			assert.Equal(t, before.PurchaseCount, after.PurchaseCount)
			assert.Equal(t, before.TotalSpent.String(), after.TotalSpent.String())
			assert.Nil(t, after.AllTimeHigh)
			assert.Zero(t, f.saves)
			assert.NotEmpty(t, f.events.levels(domain.LevelError))
		})
	}
}

func TestTracker_SwapErrorKind(t *testing.T) {
	f := newFixture(t, 10)
	f.ex.FailSwaps(errors.New("Pool not found"))

	_, err := f.tracker.Purchase(context.Background())
	var swapErr *domain.SwapError
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, domain.SwapFailurePoolUnavailable, swapErr.Kind)
}

func TestTracker_StoreFailureKeepsPurchase(t *testing.T) {
	f := newFixture(t, 10)
	f.saveErr = errors.New("disk full")

	event, err := f.tracker.Purchase(context.Background())
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 1, f.tracker.State().PurchaseCount)
	assert.NotEmpty(t, f.events.levels(domain.LevelError))
}

func TestTracker_Sell(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid percentage", func(t *testing.T) {
		f := newFixture(t, 10)
		for _, pct := range []int{0, -5, 101, 150} {
			_, err := f.tracker.Sell(ctx, pct)
			require.ErrorIs(t, err, domain.ErrInvalidPercentage)
		}
	})

	t.Run("nothing to sell", func(t *testing.T) {
		f := newFixture(t, 10)
		_, err := f.tracker.Sell(ctx, 50)
		require.ErrorIs(t, err, domain.ErrNothingToSell)
	})

	t.Run("partial sell with profit", func(t *testing.T) {
		f := newFixture(t, 10)
		_, err := f.tracker.Purchase(ctx)
		require.NoError(t, err)

		f.setPrice(t, "110000")
		event, err := f.tracker.Sell(ctx, 50)
		require.NoError(t, err)
		require.NotNil(t, event)

		assert.Equal(t, domain.ActionSell, event.Action)
		assert.Equal(t, "500000", event.AmountIn.String())
		assert.Equal(t, "550000000", event.AmountOut.String())
		assert.Equal(t, "110000", domain.FormatPrice(event.Price, 0))
		require.NotNil(t, event.PnLBps)
		assert.Equal(t, int64(1000), *event.PnLBps)

		state := f.tracker.State()
		assert.Equal(t, 1, state.PurchaseCount, "sell never touches purchase history")
		assert.Equal(t, "500000", state.HeldBalance.String())
		assert.Equal(t, "100000", domain.FormatPrice(state.AllTimeHigh, 0))
		assert.Equal(t, 2, f.ex.Approvals(), "asset token approved for the router")
	})

	t.Run("allowed when exhausted", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.tracker.Evaluate(ctx)
		require.NoError(t, err)
		require.Equal(t, domain.PhaseExhausted, f.tracker.Phase())

		_, err = f.tracker.Sell(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, "0", f.tracker.State().HeldBalance.String())
	})
}

type mockQuoter struct {
	mock.Mock
}

func (m *mockQuoter) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) (*big.Int, error) {
	args := m.Called(ctx, tokenIn, tokenOut, amountIn, fee)
	out, _ := args.Get(0).(*big.Int)
	return out, args.Error(1)
}

func TestTracker_ZeroQuoteIsQuoteError(t *testing.T) {
	q := &mockQuoter{}
	q.On("Quote", mock.Anything, usdc.Token, wbtc, mock.Anything, uint32(3000)).Return(big.NewInt(0), nil)

	ex := simulate.NewExchange(usdc, nil)
	tr, err := New(zap.NewNop(), wbtcAsset(5), usdc, 100, q, ex, nil, nil)
	require.NoError(t, err)

	_, err = tr.GetPrice(context.Background())
	require.ErrorIs(t, err, domain.ErrQuote)
	q.AssertExpectations(t)
}
