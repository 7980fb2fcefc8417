// Package coordinator owns the trackers of all enabled assets and runs them on a schedule.
package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/config"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"github.com/vadiminshakov/dipbuyer/internal/services/tracker"
	"go.uber.org/zap"
)

// ChainClient is everything a cycle needs from the chain: quotes, balances and swaps.
type ChainClient interface {
	Owner() common.Address
	Router() common.Address
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) (*big.Int, error)
	BalanceOf(ctx context.Context, token common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (domain.PendingTx, error)
	Swap(ctx context.Context, params domain.SwapParams) (domain.PendingTx, error)
}

// ConnectFunc dials the chain described by cfg.
type ConnectFunc func(ctx context.Context, cfg config.Config) (ChainClient, error)

type snapshotStore interface {
	Load(ctx context.Context) (*domain.Snapshot, error)
	Save(ctx context.Context, snapshot domain.Snapshot) error
}

type publisher interface {
	Publish(event domain.Event)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCycleObserver registers a callback receiving the duration of every cycle.
func WithCycleObserver(fn func(time.Duration)) Option {
	return func(c *Coordinator) {
		c.observeCycle = fn
	}
}

// WithConfigSaver registers a callback persisting accepted config updates.
func WithConfigSaver(fn func(config.Config) error) Option {
	return func(c *Coordinator) {
		c.saveConfig = fn
	}
}

// Coordinator schedules check cycles over the trackers and serves the control surface.
type Coordinator struct {
	l       *zap.Logger
	connect ConnectFunc
	store   snapshotStore
	events  publisher

	observeCycle func(time.Duration)
	saveConfig   func(config.Config) error

	// base outlives individual Start calls; cancelled only by Shutdown.
	base   context.Context
	cancel context.CancelFunc

	// lifecycleMu serializes Start, Stop and UpdateConfig.
	lifecycleMu sync.Mutex
	// walletMu serializes cycles, manual sells and tracker rebuilds so wallet reads and
	// swaps never interleave.
	walletMu sync.Mutex

	mu  sync.RWMutex
	cfg config.Config
	// current is the run built by the latest Start. It stays after Stop so state and
	// sells remain available.
	current *run
	// restored holds the loaded snapshot so entries of disabled assets survive later saves.
	restored *domain.Snapshot
	running  bool
	done     chan struct{}
}

// run is what one Start builds. Cycles and saves only ever touch the run they belong to.
type run struct {
	client   ChainClient
	stable   domain.Stablecoin
	trackers []*tracker.Tracker
	stopCh   chan struct{}
	// budgetShort is set while the stablecoin balance cannot fund every pair.
	budgetShort bool
}

func (r *run) tracker(id string) *tracker.Tracker {
	for _, t := range r.trackers {
		if t.Asset().ID == id {
			return t
		}
	}

	return nil
}

// New creates a stopped coordinator.
func New(l *zap.Logger, cfg config.Config, connect ConnectFunc, store snapshotStore, events publisher, opts ...Option) (*Coordinator, error) {
	if connect == nil {
		return nil, fmt.Errorf("connect func is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	base, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)

	c := &Coordinator{
		l:       l,
		connect: connect,
		store:   store,
		events:  events,
		base:    base,
		cancel:  cancel,
		cfg:     cfg,
		done:    done,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Start validates the configuration, dials the chain, rebuilds trackers for all enabled
// assets, restores persisted state and begins scheduling cycles. The first cycle runs immediately.
// A cycle left over from the previous run is allowed to finish first.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	running, cfg, prevDone := c.running, c.cfg, c.done
	c.mu.RUnlock()
	if running {
		return errors.Wrap(domain.ErrRunning, "already started")
	}

	if cfg.Mode != config.ModeSimulate && (cfg.Chain.RPCURL == "" || cfg.Chain.PrivateKey == "") {
		return errors.Wrapf(domain.ErrConfiguration, "%s and %s must be set", config.EnvRPCURL, config.EnvPrivateKey)
	}

	select {
	case <-prevDone:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for the previous cycle")
	}

	client, err := c.connect(ctx, cfg)
	if err != nil {
		return errors.Wrapf(domain.ErrConfiguration, "connect: %v", err)
	}

	r := &run{client: client, stable: cfg.Chain.Stablecoin, stopCh: make(chan struct{})}
	r.trackers, err = c.buildTrackers(cfg, r)
	if err != nil {
		return err
	}
	if len(r.trackers) == 0 {
		return errors.Wrap(domain.ErrConfiguration, "no enabled assets")
	}

	c.walletMu.Lock()
	c.restore(ctx, r.trackers)
	for _, t := range r.trackers {
		if err := t.RefreshBalance(ctx); err != nil {
			c.l.Warn("failed to read asset balance", zap.String("asset", t.Asset().ID), zap.Error(err))
		}
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.current = r
	c.running = true
	c.done = done
	c.mu.Unlock()
	c.walletMu.Unlock()

	c.l.Info("bot started",
		zap.Int("assets", len(r.trackers)),
		zap.String("wallet", client.Owner().Hex()),
		zap.Duration("interval", cfg.CheckInterval))
	c.publish(domain.NewEvent(domain.LevelSuccess, domain.EventLifecycle, "",
		fmt.Sprintf("Bot started with %d pairs", len(r.trackers))))
	c.publishStatus()

	go c.loop(r, done, cfg.CheckInterval)

	return nil
}

func (c *Coordinator) buildTrackers(cfg config.Config, r *run) ([]*tracker.Tracker, error) {
	assets, err := cfg.DomainAssets()
	if err != nil {
		return nil, errors.Wrap(domain.ErrConfiguration, err.Error())
	}

	save := func(ctx context.Context) error { return c.saveState(ctx, r) }

	trackers := make([]*tracker.Tracker, 0, len(assets))
	for _, asset := range assets {
		if !asset.Enabled {
			continue
		}
		t, err := tracker.New(c.l, asset, cfg.Chain.Stablecoin, cfg.SlippageBps(), r.client, r.client, c.events, save)
		if err != nil {
			return nil, err
		}
		trackers = append(trackers, t)
	}

	return trackers, nil
}

func (c *Coordinator) restore(ctx context.Context, trackers []*tracker.Tracker) {
	if c.store == nil {
		return
	}

	snapshot, err := c.store.Load(ctx)
	if err != nil {
		c.l.Error("failed to load state, starting fresh", zap.Error(err))
		e := domain.NewEvent(domain.LevelError, domain.EventFailure, "", fmt.Sprintf("failed to load state: %v", err))
		e.ErrorKind = domain.ErrorKind(err)
		c.publish(e)
		return
	}
	if snapshot == nil {
		return
	}

	c.mu.Lock()
	c.restored = snapshot
	c.mu.Unlock()

	for _, t := range trackers {
		entry, ok := snapshot.Find(t.Asset().ID)
		if !ok {
			continue
		}
		if err := t.Restore(entry); err != nil {
			c.l.Warn("failed to restore tracker", zap.String("asset", t.Asset().ID), zap.Error(err))
		}
	}
}

func (c *Coordinator) loop(r *run, done chan struct{}, interval time.Duration) {
	defer close(done)

	for {
		select {
		case <-r.stopCh:
			return
		case <-c.base.Done():
			return
		default:
		}

		c.cycle(c.base, r)

		// the next cycle is armed only after this one finished
		timer := time.NewTimer(interval)
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-c.base.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// CheckCycle runs one pass over the trackers of the current run: a budget check, a sequential
// evaluation, a state broadcast and an auto-stop once every tracker is exhausted.
func (c *Coordinator) CheckCycle(ctx context.Context) {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()

	if r == nil {
		return
	}
	c.cycle(ctx, r)
}

func (c *Coordinator) cycle(ctx context.Context, r *run) {
	c.walletMu.Lock()
	defer c.walletMu.Unlock()

	started := time.Now()

	c.checkBudget(ctx, r)

	for _, t := range r.trackers {
		if ctx.Err() != nil {
			break
		}
		if _, err := t.Evaluate(ctx); err != nil {
			c.l.Warn("tracker evaluation failed", zap.String("asset", t.Asset().ID), zap.Error(err))
		}
	}

	c.publishState()

	exhausted := true
	for _, t := range r.trackers {
		if t.Phase() != domain.PhaseExhausted {
			exhausted = false
			break
		}
	}
	if exhausted {
		c.stopRun(r, "All pairs reached max purchases, stopping bot")
	}

	if c.observeCycle != nil {
		c.observeCycle(time.Since(started))
	}
}

// checkBudget warns when the stablecoin balance cannot cover one more purchase of every
// tracker that is not exhausted. It is advisory only.
func (c *Coordinator) checkBudget(ctx context.Context, r *run) {
	required := new(big.Int)
	for _, t := range r.trackers {
		if t.Phase() != domain.PhaseExhausted {
			required.Add(required, t.Asset().PurchaseAmount)
		}
	}
	if required.Sign() == 0 {
		return
	}

	balance, err := r.client.BalanceOf(ctx, r.stable.Token)
	if err != nil {
		c.l.Warn("failed to read stablecoin balance", zap.Error(err))
		return
	}
	if balance.Cmp(required) >= 0 {
		r.budgetShort = false
		return
	}

	msg := fmt.Sprintf("Insufficient %s balance: have %s, need %s for all pairs",
		r.stable.Symbol, domain.FormatUnits(balance, r.stable.Decimals), domain.FormatUnits(required, r.stable.Decimals))
	c.l.Warn(msg)

	// the first cycle of a shortfall alerts, later ones only update the dashboard
	level := domain.LevelWarn
	if !r.budgetShort {
		level = domain.LevelError
	}
	r.budgetShort = true
	c.publish(domain.NewEvent(level, domain.EventBudget, "", msg))
}

// Stop disarms scheduling. A cycle already in progress completes.
func (c *Coordinator) Stop() {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()

	if r != nil {
		c.stopRun(r, "")
	}
}

// stopRun stops r if it is still the active run. A cycle of an older run never stops a newer one.
func (c *Coordinator) stopRun(r *run, reason string) bool {
	c.mu.Lock()
	if !c.running || c.current != r {
		c.mu.Unlock()
		return false
	}
	c.running = false
	close(r.stopCh)
	c.mu.Unlock()

	if reason != "" {
		c.l.Info(reason)
		c.publish(domain.NewEvent(domain.LevelInfo, domain.EventLifecycle, "", reason))
	}
	c.l.Info("bot stopped")
	c.publish(domain.NewEvent(domain.LevelInfo, domain.EventLifecycle, "", "Bot stopped"))
	c.publishStatus()

	return true
}

// Shutdown stops scheduling and waits for the in-flight cycle and any manual sell to finish,
// so confirmations that are already submitted get recorded. When ctx expires first the
// remaining chain I/O is cancelled.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.Stop()

	idle := make(chan struct{})
	go func() {
		<-c.Done()
		c.walletMu.Lock()
		c.walletMu.Unlock()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
		c.l.Warn("shutdown grace period expired, cancelling in-flight cycle")
	}
	c.cancel()
}

// Done is closed when the current (or last) scheduling loop has exited.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.done
}

// IsRunning reports whether cycles are being scheduled.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.running
}

// Sell liquidates percentage of the asset's holdings. Allowed whether or not the bot is
// running, as long as the tracker was built by a previous Start. Once submitted, the swap is
// awaited even if the caller goes away.
func (c *Coordinator) Sell(ctx context.Context, assetID string, percentage int) (*domain.TradeEvent, error) {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()

	var t *tracker.Tracker
	if r != nil {
		t = r.tracker(assetID)
	}
	if t == nil {
		return nil, errors.Wrapf(domain.ErrNotFound, "no active tracker for %q", assetID)
	}

	c.walletMu.Lock()
	defer c.walletMu.Unlock()

	event, err := t.Sell(context.WithoutCancel(ctx), percentage)
	if err != nil {
		return nil, err
	}
	c.publishState()

	return event, nil
}

// Status returns the run status.
func (c *Coordinator) Status() domain.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := domain.Status{Running: c.running}
	if c.current != nil {
		s.ActiveAssets = len(c.current.trackers)
		s.Wallet = c.current.client.Owner().Hex()
	}

	return s
}

// State renders every configured asset. Assets without a tracker are shown with empty state.
func (c *Coordinator) State() []domain.AssetView {
	c.mu.RLock()
	cfg := c.cfg
	trackers := make(map[string]*tracker.Tracker)
	if c.current != nil {
		for _, t := range c.current.trackers {
			trackers[t.Asset().ID] = t
		}
	}
	c.mu.RUnlock()

	assets, err := cfg.DomainAssets()
	if err != nil {
		c.l.Error("invalid asset config", zap.Error(err))
		return nil
	}

	views := make([]domain.AssetView, 0, len(assets))
	for _, a := range assets {
		if t, ok := trackers[a.ID]; ok {
			views = append(views, t.View())
			continue
		}
		views = append(views, domain.NewAssetView(a, cfg.Chain.Stablecoin, *domain.NewTrackerState()))
	}

	return views
}

// Config returns the current configuration.
func (c *Coordinator) Config() config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cfg
}

// UpdateConfig applies u. Rejected while running; takes effect on the next Start.
func (c *Coordinator) UpdateConfig(u config.Update) (config.Config, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	running, cfg := c.running, c.cfg
	c.mu.RUnlock()
	if running {
		return config.Config{}, errors.Wrap(domain.ErrRunning, "stop the bot before changing its configuration")
	}

	updated, err := cfg.Apply(u)
	if err != nil {
		return config.Config{}, errors.Wrap(domain.ErrConfiguration, err.Error())
	}

	if c.saveConfig != nil {
		if err := c.saveConfig(updated); err != nil {
			return config.Config{}, errors.Wrap(err, "persist config")
		}
	}

	c.mu.Lock()
	c.cfg = updated
	c.mu.Unlock()

	c.l.Info("configuration updated")
	c.publish(domain.NewEvent(domain.LevelInfo, domain.EventLifecycle, "", "Configuration updated"))
	c.publishState()

	return updated, nil
}

// saveState persists the snapshot of the trackers of r.
func (c *Coordinator) saveState(ctx context.Context, r *run) error {
	if c.store == nil {
		return nil
	}

	trackers := r.trackers
	c.mu.RLock()
	restored := c.restored
	c.mu.RUnlock()

	snapshot := domain.Snapshot{Timestamp: time.Now().UTC(), Assets: make([]domain.AssetSnapshot, 0, len(trackers))}
	active := make(map[string]struct{}, len(trackers))
	for _, t := range trackers {
		snapshot.Assets = append(snapshot.Assets, t.Snapshot())
		active[t.Asset().ID] = struct{}{}
	}
	if restored != nil {
		for _, entry := range restored.Assets {
			if _, ok := active[entry.ID]; !ok {
				snapshot.Assets = append(snapshot.Assets, entry)
			}
		}
	}

	if err := c.store.Save(ctx, snapshot); err != nil {
		if errors.Is(err, domain.ErrStore) {
			return err
		}
		return errors.Wrapf(domain.ErrStore, "%v", err)
	}

	return nil
}

func (c *Coordinator) publishState() {
	c.publish(domain.NewEvent(domain.LevelInfo, domain.EventState, "", "").WithPayload(c.State()))
}

func (c *Coordinator) publishStatus() {
	c.publish(domain.NewEvent(domain.LevelInfo, domain.EventStatus, "", "").WithPayload(c.Status()))
}

func (c *Coordinator) publish(e domain.Event) {
	if c.events == nil {
		return
	}
	c.events.Publish(e)
}
