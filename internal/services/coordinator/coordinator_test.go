package coordinator

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/dipbuyer/config"
	"github.com/vadiminshakov/dipbuyer/internal/clients/simulate"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"github.com/vadiminshakov/dipbuyer/internal/storage/statestore"
	"go.uber.org/zap"
)

var (
	usdc = domain.Stablecoin{Symbol: "USDC", Token: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6}
	wbtc = common.HexToAddress("0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f")
	weth = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
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

func (r *recorder) find(level domain.Level, kind domain.EventKind) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Level == level && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func price(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := domain.ParseUnits(s, domain.PriceDecimals)
	require.NoError(t, err)
	return v
}

func testConfig(maxPurchases int, amounts ...int64) config.Config {
	cfg := config.Config{
		Mode:              config.ModeSimulate,
		Chain:             config.ChainConfig{Stablecoin: usdc},
		DropPercentage:    decimal.NewFromInt(2),
		CheckInterval:     time.Hour,
		SlippageTolerance: decimal.NewFromInt(1),
	}
	tokens := []struct {
		id       string
		token    common.Address
		decimals uint8
	}{{"WBTC", wbtc, 8}, {"WETH", weth, 18}}

	for i, amount := range amounts {
		cfg.Assets = append(cfg.Assets, config.AssetConfig{
			ID:             tokens[i].id,
			Symbol:         tokens[i].id,
			Token:          tokens[i].token,
			Decimals:       tokens[i].decimals,
			PurchaseAmount: decimal.NewFromInt(amount),
			MaxPurchases:   maxPurchases,
			FeeTier:        3000,
			Enabled:        true,
		})
	}

	return cfg
}

type fixture struct {
	c      *Coordinator
	ex     *simulate.Exchange
	client ChainClient
	store  statestore.Store
	events *recorder
	cycles chan time.Duration
}

func newFixture(t *testing.T, cfg config.Config, stableBalance int64) *fixture {
	t.Helper()

	ex := simulate.NewExchange(usdc, zap.NewNop())
	ex.ListToken(wbtc, 8, price(t, "100000"))
	ex.ListToken(weth, 18, price(t, "4000"))
	ex.SetBalance(usdc.Token, new(big.Int).Mul(big.NewInt(stableBalance), big.NewInt(1_000_000)))

	store, err := statestore.NewFileStore(filepath.Join(t.TempDir(), "bot-state.json"))
	require.NoError(t, err)

	f := &fixture{ex: ex, client: ex, store: store, events: &recorder{}, cycles: make(chan time.Duration, 16)}
	connect := func(context.Context, config.Config) (ChainClient, error) { return f.client, nil }

	f.c, err = New(zap.NewNop(), cfg, connect, store, f.events, WithCycleObserver(func(d time.Duration) {
		f.cycles <- d
	}))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.c.Shutdown(ctx)
	})

	return f
}

// gatedClient holds swap confirmations until release is closed.
type gatedClient struct {
	*simulate.Exchange
	submitted chan struct{}
	release   chan struct{}
}

func newGatedClient(ex *simulate.Exchange) *gatedClient {
	return &gatedClient{Exchange: ex, submitted: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedClient) Swap(ctx context.Context, params domain.SwapParams) (domain.PendingTx, error) {
	tx, err := g.Exchange.Swap(ctx, params)
	if err != nil {
		return nil, err
	}
	return &gatedTx{PendingTx: tx, g: g}, nil
}

type gatedTx struct {
	domain.PendingTx
	g *gatedClient
}

func (tx *gatedTx) Wait(ctx context.Context) (*big.Int, error) {
	select {
	case tx.g.submitted <- struct{}{}:
	default:
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	select {
	case <-tx.g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return tx.PendingTx.Wait(ctx)
}

func (g *gatedClient) waitSubmitted(t *testing.T) {
	t.Helper()
	select {
	case <-g.submitted:
	case <-time.After(5 * time.Second):
		t.Fatal("swap was not submitted")
	}
}

func (f *fixture) waitCycle(t *testing.T) {
	t.Helper()
	select {
	case <-f.cycles:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not complete")
	}
}

func TestStart_LiveModeRequiresCredentials(t *testing.T) {
	cfg := testConfig(10, 1000)
	cfg.Mode = config.ModeLive
	f := newFixture(t, cfg, 10_000)

	err := f.c.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.False(t, f.c.IsRunning())
}

func TestStart_ConnectFailure(t *testing.T) {
	connect := func(context.Context, config.Config) (ChainClient, error) { return nil, errors.New("dial tcp: refused") }
	c, err := New(nil, testConfig(10, 1000), connect, nil, nil)
	require.NoError(t, err)

	require.ErrorIs(t, c.Start(context.Background()), domain.ErrConfiguration)
}

func TestStart_FirstCycleBuysEveryAsset(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000, 100), 10_000)

	require.NoError(t, f.c.Start(context.Background()))
	f.waitCycle(t)

	require.ErrorIs(t, f.c.Start(context.Background()), domain.ErrRunning)

	status := f.c.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.ActiveAssets)
	assert.Equal(t, simulate.DefaultOwner.Hex(), status.Wallet)

	views := f.c.State()
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, 1, v.PurchaseCount, v.ID)
	}

	snapshot, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Len(t, snapshot.Assets, 2)
	assert.Equal(t, 1, snapshot.Assets[0].PurchaseCount)
	assert.Equal(t, 1, snapshot.Assets[1].PurchaseCount)

	assert.NotEmpty(t, f.events.find(domain.LevelInfo, domain.EventState))

	f.c.Stop()
	select {
	case <-f.c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit after stop")
	}
	assert.False(t, f.c.IsRunning())
}

func TestCheckCycle_BudgetAlert(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000, 100), 500)

	require.NoError(t, f.c.Start(context.Background()))
	f.waitCycle(t)

	alerts := f.events.find(domain.LevelError, domain.EventBudget)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "need 1100")
	assert.Empty(t, f.events.find(domain.LevelWarn, domain.EventBudget))

	failures := f.events.find(domain.LevelError, domain.EventFailure)
	require.NotEmpty(t, failures)
	assert.Equal(t, "WBTC", failures[0].AssetID)

	views := f.c.State()
	assert.Equal(t, 0, views[0].PurchaseCount, "WBTC cannot afford a purchase")
	assert.Equal(t, 1, views[1].PurchaseCount, "WETH still buys")
}

func TestCheckCycle_BudgetAlertOncePerShortfall(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000, 100), 500)

	require.NoError(t, f.c.Start(context.Background()))
	f.waitCycle(t)

	ctx := context.Background()
	f.c.CheckCycle(ctx)
	assert.Len(t, f.events.find(domain.LevelError, domain.EventBudget), 1)
	assert.Len(t, f.events.find(domain.LevelWarn, domain.EventBudget), 1, "a continuing shortfall is not alerted again")

	f.ex.SetBalance(usdc.Token, new(big.Int).Mul(big.NewInt(5000), big.NewInt(1_000_000)))
	f.c.CheckCycle(ctx)
	assert.Len(t, f.events.find(domain.LevelError, domain.EventBudget), 1)

	f.ex.SetBalance(usdc.Token, big.NewInt(10_000_000))
	f.c.CheckCycle(ctx)
	alerts := f.events.find(domain.LevelError, domain.EventBudget)
	require.Len(t, alerts, 2, "a new shortfall alerts again")
	assert.Contains(t, alerts[1].Message, "have 10,")
}

func TestStart_RestoresSnapshot(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000), 10_000)

	require.NoError(t, f.store.Save(context.Background(), domain.Snapshot{
		Timestamp: time.Now(),
		Assets: []domain.AssetSnapshot{{
			ID:                "WBTC",
			LastPurchasePrice: price(t, "100000"),
			AllTimeHigh:       price(t, "100000"),
			PurchaseCount:     3,
		}, {
			ID:            "LINK",
			AllTimeHigh:   price(t, "20"),
			PurchaseCount: 2,
		}},
	}))

	require.NoError(t, f.c.Start(context.Background()))
	f.waitCycle(t)

	views := f.c.State()
	require.Len(t, views, 1)
	assert.Equal(t, 3, views[0].PurchaseCount, "no drop, no purchase")
	assert.Empty(t, f.ex.Swaps())

	f.ex.SetPrice(wbtc, price(t, "97500"))
	f.c.CheckCycle(context.Background())
	f.waitCycle(t)

	assert.Equal(t, 4, f.c.State()[0].PurchaseCount)

	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	link, ok := saved.Find("LINK")
	require.True(t, ok, "entries of assets without a tracker are kept")
	assert.Equal(t, 2, link.PurchaseCount)
}

func TestCheckCycle_StopsWhenAllExhausted(t *testing.T) {
	f := newFixture(t, testConfig(1, 1000, 100), 10_000)

	require.NoError(t, f.c.Start(context.Background()))

	select {
	case <-f.c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not stop after exhausting every asset")
	}

	assert.False(t, f.c.IsRunning())
	assert.NotEmpty(t, f.events.find(domain.LevelInfo, domain.EventLifecycle))
	for _, v := range f.c.State() {
		assert.Equal(t, domain.PhaseExhausted, v.Phase)
	}
}

func TestSell(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000), 10_000)
	ctx := context.Background()

	_, err := f.c.Sell(ctx, "WBTC", 50)
	require.ErrorIs(t, err, domain.ErrNotFound, "no trackers before the first start")

	require.NoError(t, f.c.Start(ctx))
	f.waitCycle(t)
	f.c.Stop()

	_, err = f.c.Sell(ctx, "DOGE", 50)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.c.Sell(ctx, "WBTC", 0)
	require.ErrorIs(t, err, domain.ErrInvalidPercentage)

	event, err := f.c.Sell(ctx, "WBTC", 50)
	require.NoError(t, err, "selling is allowed while stopped")
	assert.Equal(t, domain.ActionSell, event.Action)
	assert.Equal(t, "500000", event.AmountIn.String())
	assert.Equal(t, "0.005", f.c.State()[0].Balance)
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000), 10_000)
	var saved []config.Config
	f.c.saveConfig = func(c config.Config) error {
		saved = append(saved, c)
		return nil
	}

	require.NoError(t, f.c.Start(context.Background()))
	f.waitCycle(t)

	drop := decimal.NewFromInt(5)
	_, err := f.c.UpdateConfig(config.Update{DropPercentage: &drop})
	require.ErrorIs(t, err, domain.ErrRunning)

	f.c.Stop()

	updated, err := f.c.UpdateConfig(config.Update{DropPercentage: &drop})
	require.NoError(t, err)
	assert.True(t, updated.DropPercentage.Equal(drop))
	assert.True(t, f.c.Config().DropPercentage.Equal(drop))
	require.Len(t, saved, 1)

	bad := decimal.NewFromInt(150)
	_, err = f.c.UpdateConfig(config.Update{DropPercentage: &bad})
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.True(t, f.c.Config().DropPercentage.Equal(drop), "rejected update leaves config as is")
}

func TestState_BeforeStart(t *testing.T) {
	cfg := testConfig(10, 1000, 100)
	cfg.Assets[1].Enabled = false
	f := newFixture(t, cfg, 10_000)

	views := f.c.State()
	require.Len(t, views, 2)
	assert.Equal(t, domain.PhaseAwaitingFirstPurchase, views[0].Phase)
	assert.False(t, views[1].Enabled)

	status := f.c.Status()
	assert.False(t, status.Running)
	assert.Empty(t, status.Wallet)
}

func TestStart_WaitsForInFlightPurchase(t *testing.T) {
	f := newFixture(t, testConfig(1, 1000), 10_000)
	gate := newGatedClient(f.ex)
	f.client = gate
	ctx := context.Background()

	require.NoError(t, f.c.Start(ctx))
	gate.waitSubmitted(t)
	f.c.Stop()

	started := make(chan error, 1)
	go func() { started <- f.c.Start(ctx) }()

	select {
	case err := <-started:
		t.Fatalf("start returned while a purchase was confirming: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not resume after the purchase confirmed")
	}
	f.waitCycle(t)
	f.waitCycle(t)

	assert.Len(t, f.ex.Swaps(), 1)
	assert.Equal(t, 1, f.c.State()[0].PurchaseCount)
	saved, err := f.store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.Assets[0].PurchaseCount)

	// the restored tracker is exhausted, so another start must not buy again
	<-f.c.Done()
	require.NoError(t, f.c.Start(ctx))
	f.waitCycle(t)
	assert.Len(t, f.ex.Swaps(), 1, "purchases never exceed max purchases")
}

func TestStopRun_IgnoresOlderRun(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000), 10_000)
	ctx := context.Background()

	require.NoError(t, f.c.Start(ctx))
	f.waitCycle(t)
	old := f.c.current
	f.c.Stop()

	require.NoError(t, f.c.Start(ctx))
	f.waitCycle(t)

	assert.False(t, f.c.stopRun(old, "All pairs reached max purchases, stopping bot"))
	assert.True(t, f.c.IsRunning())
}

func TestShutdown_WaitsForConfirmation(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000), 10_000)
	gate := newGatedClient(f.ex)
	f.client = gate

	require.NoError(t, f.c.Start(context.Background()))
	gate.waitSubmitted(t)

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.c.Shutdown(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("shutdown returned before the purchase confirmed")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}

	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.Assets[0].PurchaseCount)
}

func TestShutdown_GraceExpiryCancelsCycle(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000), 10_000)
	gate := newGatedClient(f.ex)
	f.client = gate

	require.NoError(t, f.c.Start(context.Background()))
	gate.waitSubmitted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.c.Shutdown(ctx)

	select {
	case <-f.c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cycle was not cancelled")
	}
	assert.Equal(t, 0, f.c.State()[0].PurchaseCount)
}

func TestSell_OutlivesCallerContext(t *testing.T) {
	f := newFixture(t, testConfig(10, 1000), 10_000)
	gate := newGatedClient(f.ex)
	close(gate.release)
	f.client = gate

	require.NoError(t, f.c.Start(context.Background()))
	f.waitCycle(t)
	f.c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event, err := f.c.Sell(ctx, "WBTC", 50)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSell, event.Action)
}
