// Package tracker implements the per-asset dip buying state machine.
package tracker

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"go.uber.org/zap"
)

type quoter interface {
	// Quote returns the amount of tokenOut an exact-input swap of amountIn would yield.
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) (*big.Int, error)
}

type exchange interface {
	Router() common.Address
	BalanceOf(ctx context.Context, token common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (domain.PendingTx, error)
	Swap(ctx context.Context, params domain.SwapParams) (domain.PendingTx, error)
}

type publisher interface {
	Publish(event domain.Event)
}

// SaveFunc persists the state of all trackers. It is called after every confirmed purchase.
type SaveFunc func(ctx context.Context) error

// Tracker buys an asset whenever its price falls far enough below the all-time high
// observed since the last purchase.
type Tracker struct {
	asset       domain.Asset
	stable      domain.Stablecoin
	slippageBps int64
	quoter      quoter
	exchange    exchange
	events      publisher
	save        SaveFunc
	l           *zap.Logger

	// tradeMu serializes purchases and sells of this tracker.
	tradeMu sync.Mutex
	mu      sync.RWMutex
	state   *domain.TrackerState
}

// New returns a tracker in the AwaitingFirstPurchase phase.
func New(l *zap.Logger, asset domain.Asset, stable domain.Stablecoin, slippageBps int64,
	quoter quoter, exchange exchange, events publisher, save SaveFunc) (*Tracker, error) {
	if err := asset.Validate(); err != nil {
		return nil, errors.Wrap(domain.ErrConfiguration, err.Error())
	}
	if slippageBps < 0 || slippageBps >= domain.BpsDenominator {
		return nil, errors.Wrapf(domain.ErrConfiguration, "slippage must be within [0, 100)%%, got %d bps", slippageBps)
	}
	if quoter == nil || exchange == nil {
		return nil, errors.Wrap(domain.ErrConfiguration, "quoter and exchange are required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	return &Tracker{
		asset:       asset,
		stable:      stable,
		slippageBps: slippageBps,
		quoter:      quoter,
		exchange:    exchange,
		events:      events,
		save:        save,
		l:           l.With(zap.String("asset", asset.ID)),
		state:       domain.NewTrackerState(),
	}, nil
}

// Asset returns the tracked asset configuration.
func (t *Tracker) Asset() domain.Asset {
	return t.asset
}

// Phase returns the current lifecycle stage.
func (t *Tracker) Phase() domain.Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state.Phase(t.asset.MaxPurchases)
}

// State returns a copy of the tracker state.
func (t *Tracker) State() domain.TrackerState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state.Clone()
}

// View renders the state for display.
func (t *Tracker) View() domain.AssetView {
	return domain.NewAssetView(t.asset, t.stable, t.State())
}

// Snapshot returns the persisted part of the state.
func (t *Tracker) Snapshot() domain.AssetSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.state.Snapshot(t.asset.ID)
}

// Restore replaces the persisted part of the state with snap.
func (t *Tracker) Restore(snap domain.AssetSnapshot) error {
	if snap.ID != t.asset.ID {
		return fmt.Errorf("snapshot for %s cannot restore %s", snap.ID, t.asset.ID)
	}

	t.mu.Lock()
	t.state.Restore(snap)
	phase := t.state.Phase(t.asset.MaxPurchases)
	t.mu.Unlock()

	t.l.Info("state restored",
		zap.Int("purchase_count", snap.PurchaseCount),
		zap.String("ath", domain.FormatPrice(snap.AllTimeHigh, 4)),
		zap.Stringer("phase", phase))

	return nil
}

// RefreshBalance re-reads the held asset balance.
func (t *Tracker) RefreshBalance(ctx context.Context) error {
	balance, err := t.exchange.BalanceOf(ctx, t.asset.Token)
	if err != nil {
		return errors.Wrapf(err, "read %s balance", t.asset.Symbol)
	}

	t.mu.Lock()
	t.state.HeldBalance = balance
	t.mu.Unlock()

	return nil
}

// GetPrice quotes the purchase amount and records the resulting unit price.
func (t *Tracker) GetPrice(ctx context.Context) (*big.Int, error) {
	price, err := t.quotePrice(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	athRaised := t.state.ObservePrice(price)
	t.mu.Unlock()

	if athRaised {
		t.l.Debug("new all-time high", zap.String("ath", domain.FormatPrice(price, 4)))
	}

	return price, nil
}

func (t *Tracker) quotePrice(ctx context.Context) (*big.Int, error) {
	out, err := t.quoter.Quote(ctx, t.stable.Token, t.asset.Token, t.asset.PurchaseAmount, t.asset.FeeTier)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQuote, "%s: %v", t.asset.Symbol, err)
	}
	if out == nil || out.Sign() <= 0 {
		return nil, errors.Wrapf(domain.ErrQuote, "%s: zero output", t.asset.Symbol)
	}

	price, err := domain.UnitPrice(t.asset.PurchaseAmount, t.stable.Decimals, out, t.asset.Decimals)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQuote, "%s: %v", t.asset.Symbol, err)
	}

	return price, nil
}

// Evaluate performs one monitoring step and purchases when the phase rules say so.
// It returns the purchase if one happened.
func (t *Tracker) Evaluate(ctx context.Context) (*domain.TradeEvent, error) {
	if t.Phase() == domain.PhaseExhausted {
		return nil, nil
	}

	price, err := t.GetPrice(ctx)
	if err != nil {
		t.fail(err, "price check failed")
		return nil, err
	}

	t.mu.RLock()
	phase := t.state.Phase(t.asset.MaxPurchases)
	decision := t.state.CheckDip(price, t.asset.DropBps)
	t.mu.RUnlock()

	t.emit(domain.LevelInfo, domain.EventPrice, t.priceMessage(price, decision))

	switch phase {
	case domain.PhaseAwaitingFirstPurchase:
		t.emit(domain.LevelInfo, domain.EventPurchase,
			fmt.Sprintf("%s: making initial purchase at %s", t.asset.Symbol, domain.FormatPrice(price, 4)))
		return t.Purchase(ctx)
	case domain.PhaseMonitoring:
		if !decision.ShouldBuy {
			return nil, nil
		}
		t.l.Info("Buy decision", zap.String("reason", decision.Reason))
		t.emit(domain.LevelInfo, domain.EventPurchase,
			fmt.Sprintf("%s: price dropped %s%% from ATH, buying", t.asset.Symbol, domain.BpsToPercent(-decision.DrawdownBps)))
		return t.Purchase(ctx)
	default:
		return nil, nil
	}
}

func (t *Tracker) priceMessage(price *big.Int, decision domain.DipDecision) string {
	t.mu.RLock()
	ath := t.state.AllTimeHigh
	t.mu.RUnlock()

	if ath == nil {
		return fmt.Sprintf("%s: %s", t.asset.Symbol, domain.FormatPrice(price, 4))
	}

	return fmt.Sprintf("%s: %s (ATH: %s, change: %s%%)", t.asset.Symbol,
		domain.FormatPrice(price, 4), domain.FormatPrice(ath, 4), domain.BpsToPercent(decision.DrawdownBps).StringFixed(2))
}

// Purchase spends the configured stablecoin amount on the asset.
// State changes only after the swap is confirmed on chain.
func (t *Tracker) Purchase(ctx context.Context) (*domain.TradeEvent, error) {
	t.tradeMu.Lock()
	defer t.tradeMu.Unlock()

	if t.Phase() == domain.PhaseExhausted {
		return nil, nil
	}

	event, err := t.purchase(ctx)
	if err != nil {
		t.fail(err, "purchase failed")
		return nil, err
	}

	return event, nil
}

func (t *Tracker) purchase(ctx context.Context) (*domain.TradeEvent, error) {
	amount := t.asset.PurchaseAmount

	balance, err := t.exchange.BalanceOf(ctx, t.stable.Token)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s balance", t.stable.Symbol)
	}
	if balance.Cmp(amount) < 0 {
		return nil, errors.Wrapf(domain.ErrInsufficientFunds, "have %s %s, need %s",
			domain.FormatUnits(balance, t.stable.Decimals), t.stable.Symbol, domain.FormatUnits(amount, t.stable.Decimals))
	}

	if err := t.ensureAllowance(ctx, t.stable.Token, t.stable.Symbol, amount); err != nil {
		return nil, err
	}

	quoted, err := t.quoter.Quote(ctx, t.stable.Token, t.asset.Token, amount, t.asset.FeeTier)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQuote, "%s: %v", t.asset.Symbol, err)
	}
	if quoted == nil || quoted.Sign() <= 0 {
		return nil, errors.Wrapf(domain.ErrQuote, "%s: zero output", t.asset.Symbol)
	}
	minOut := domain.ApplySlippage(quoted, t.slippageBps)

	t.l.Info("swapping",
		zap.String("amount_in", domain.FormatUnits(amount, t.stable.Decimals)),
		zap.String("quoted_out", domain.FormatUnits(quoted, t.asset.Decimals)),
		zap.String("min_out", domain.FormatUnits(minOut, t.asset.Decimals)))

	txHash, received, err := t.swap(ctx, domain.SwapParams{
		TokenIn:      t.stable.Token,
		TokenOut:     t.asset.Token,
		Fee:          t.asset.FeeTier,
		AmountIn:     amount,
		MinAmountOut: minOut,
	})
	if err != nil {
		return nil, err
	}

	held, err := t.exchange.BalanceOf(ctx, t.asset.Token)
	if err != nil {
		t.l.Warn("failed to re-read balance after purchase, using swap output", zap.Error(err))
		held = new(big.Int).Add(t.State().HeldBalance, received)
	}

	fillPrice, err := domain.UnitPrice(amount, t.stable.Decimals, received, t.asset.Decimals)
	if err != nil {
		return nil, errors.Wrap(err, "compute fill price")
	}
	reference, err := t.quotePrice(ctx)
	if err != nil {
		t.l.Warn("failed to re-quote after purchase, using fill price", zap.Error(err))
		reference = fillPrice
	}

	t.mu.Lock()
	t.state.ApplyPurchase(domain.PurchaseFill{Spent: amount, Balance: held, Price: reference}, t.stable.Decimals, t.asset.Decimals)
	count := t.state.PurchaseCount
	avg := t.state.AverageCost
	exhausted := t.state.Phase(t.asset.MaxPurchases) == domain.PhaseExhausted
	t.mu.Unlock()

	if t.save != nil {
		if err := t.save(ctx); err != nil {
			t.fail(err, "failed to persist state")
		}
	}

	t.l.Info("purchase executed",
		zap.Int("purchase_count", count),
		zap.String("tx", txHash),
		zap.String("received", domain.FormatUnits(received, t.asset.Decimals)),
		zap.String("fill_price", domain.FormatPrice(fillPrice, 4)),
		zap.String("avg_cost", domain.FormatPrice(avg, 4)))

	t.emit(domain.LevelSuccess, domain.EventPurchase, fmt.Sprintf(
		"%s: purchase #%d/%d complete, spent %s %s for %s %s at %s (avg cost %s)",
		t.asset.Symbol, count, t.asset.MaxPurchases,
		domain.FormatUnits(amount, t.stable.Decimals), t.stable.Symbol,
		domain.FormatUnits(received, t.asset.Decimals), t.asset.Symbol,
		domain.FormatPrice(fillPrice, 4), domain.FormatPrice(avg, 4)))

	if exhausted {
		t.emit(domain.LevelInfo, domain.EventLifecycle,
			fmt.Sprintf("%s: reached max purchases (%d)", t.asset.Symbol, t.asset.MaxPurchases))
	}

	return &domain.TradeEvent{
		Action:    domain.ActionBuy,
		AssetID:   t.asset.ID,
		AmountIn:  new(big.Int).Set(amount),
		AmountOut: received,
		Price:     fillPrice,
		TxHash:    txHash,
	}, nil
}

// Sell swaps percentage (1..100) of the held asset balance back into the stablecoin.
// Purchase history is left untouched.
func (t *Tracker) Sell(ctx context.Context, percentage int) (*domain.TradeEvent, error) {
	if percentage < 1 || percentage > 100 {
		return nil, errors.Wrapf(domain.ErrInvalidPercentage, "got %d, want 1..100", percentage)
	}

	t.tradeMu.Lock()
	defer t.tradeMu.Unlock()

	event, err := t.sell(ctx, percentage)
	if err != nil {
		t.fail(err, "sell failed")
		return nil, err
	}

	return event, nil
}

func (t *Tracker) sell(ctx context.Context, percentage int) (*domain.TradeEvent, error) {
	balance, err := t.exchange.BalanceOf(ctx, t.asset.Token)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s balance", t.asset.Symbol)
	}
	if balance.Sign() <= 0 {
		return nil, errors.Wrapf(domain.ErrNothingToSell, "%s balance is zero", t.asset.Symbol)
	}

	amount := domain.PartOf(balance, percentage)
	if amount.Sign() <= 0 {
		return nil, errors.Wrapf(domain.ErrNothingToSell, "%d%% of %s %s rounds to zero",
			percentage, domain.FormatUnits(balance, t.asset.Decimals), t.asset.Symbol)
	}

	t.emit(domain.LevelInfo, domain.EventSell, fmt.Sprintf("%s: selling %d%% (%s %s)",
		t.asset.Symbol, percentage, domain.FormatUnits(amount, t.asset.Decimals), t.asset.Symbol))

	if err := t.ensureAllowance(ctx, t.asset.Token, t.asset.Symbol, amount); err != nil {
		return nil, err
	}

	quoted, err := t.quoter.Quote(ctx, t.asset.Token, t.stable.Token, amount, t.asset.FeeTier)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrQuote, "%s sell: %v", t.asset.Symbol, err)
	}
	if quoted == nil || quoted.Sign() <= 0 {
		return nil, errors.Wrapf(domain.ErrQuote, "%s sell: zero output", t.asset.Symbol)
	}

	txHash, received, err := t.swap(ctx, domain.SwapParams{
		TokenIn:      t.asset.Token,
		TokenOut:     t.stable.Token,
		Fee:          t.asset.FeeTier,
		AmountIn:     amount,
		MinAmountOut: domain.ApplySlippage(quoted, t.slippageBps),
	})
	if err != nil {
		return nil, err
	}

	sellPrice, err := domain.UnitPrice(received, t.stable.Decimals, amount, t.asset.Decimals)
	if err != nil {
		return nil, errors.Wrap(err, "compute sell price")
	}

	held, err := t.exchange.BalanceOf(ctx, t.asset.Token)
	if err != nil {
		t.l.Warn("failed to re-read balance after sell", zap.Error(err))
		held = new(big.Int).Sub(balance, amount)
	}

	t.mu.Lock()
	t.state.HeldBalance = held
	avg := t.state.AverageCost
	t.mu.Unlock()

	event := &domain.TradeEvent{
		Action:    domain.ActionSell,
		AssetID:   t.asset.ID,
		AmountIn:  amount,
		AmountOut: received,
		Price:     sellPrice,
		TxHash:    txHash,
	}

	pnlText := "n/a"
	if avg != nil && avg.Sign() > 0 {
		pnl := domain.DrawdownBps(sellPrice, avg)
		event.PnLBps = &pnl
		pnlText = domain.BpsToPercent(pnl).StringFixed(2) + "%"
	}

	t.l.Info("sell executed",
		zap.Int("percentage", percentage),
		zap.String("tx", txHash),
		zap.String("sold", domain.FormatUnits(amount, t.asset.Decimals)),
		zap.String("received", domain.FormatUnits(received, t.stable.Decimals)),
		zap.String("price", domain.FormatPrice(sellPrice, 4)),
		zap.String("pnl", pnlText))

	t.emit(domain.LevelSuccess, domain.EventSell, fmt.Sprintf(
		"%s: sold %s for %s %s at %s (P&L %s)",
		t.asset.Symbol, domain.FormatUnits(amount, t.asset.Decimals),
		domain.FormatUnits(received, t.stable.Decimals), t.stable.Symbol,
		domain.FormatPrice(sellPrice, 4), pnlText))

	return event, nil
}

// ensureAllowance approves the router for the maximum amount when the current
// allowance does not cover amount.
func (t *Tracker) ensureAllowance(ctx context.Context, token common.Address, symbol string, amount *big.Int) error {
	router := t.exchange.Router()

	allowance, err := t.exchange.Allowance(ctx, token, router)
	if err != nil {
		return errors.Wrapf(domain.ErrApprovalFailed, "read %s allowance: %v", symbol, err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	t.emit(domain.LevelInfo, domain.EventApproval, fmt.Sprintf("approving %s for router", symbol))

	tx, err := t.exchange.Approve(ctx, token, router, domain.MaxUint256)
	if err != nil {
		return errors.Wrapf(domain.ErrApprovalFailed, "approve %s: %v", symbol, err)
	}
	if _, err := tx.Wait(ctx); err != nil {
		return errors.Wrapf(domain.ErrApprovalFailed, "approve %s tx %s: %v", symbol, tx.Hash(), err)
	}

	t.l.Info("router approved", zap.String("token", symbol), zap.String("tx", tx.Hash()))

	return nil
}

func (t *Tracker) swap(ctx context.Context, params domain.SwapParams) (string, *big.Int, error) {
	tx, err := t.exchange.Swap(ctx, params)
	if err != nil {
		return "", nil, domain.ClassifySwapError(err)
	}

	t.l.Debug("swap submitted", zap.String("tx", tx.Hash()))

	received, err := tx.Wait(ctx)
	if err != nil {
		return "", nil, domain.ClassifySwapError(errors.Wrapf(err, "tx %s", tx.Hash()))
	}
	if received == nil || received.Sign() <= 0 {
		return "", nil, domain.NewSwapError(domain.SwapFailureGeneric, fmt.Errorf("tx %s: no output received", tx.Hash()))
	}

	return tx.Hash(), received, nil
}

func (t *Tracker) fail(err error, msg string) {
	t.l.Error(msg, zap.Error(err), zap.String("kind", domain.ErrorKind(err)))
	if t.events == nil {
		return
	}

	e := domain.NewEvent(domain.LevelError, domain.EventFailure, t.asset.ID, fmt.Sprintf("%s: %s: %v", t.asset.Symbol, msg, err))
	e.ErrorKind = domain.ErrorKind(err)
	t.events.Publish(e.WithPayload(t.View()))
}

func (t *Tracker) emit(level domain.Level, kind domain.EventKind, msg string) {
	if t.events == nil {
		return
	}

	t.events.Publish(domain.NewEvent(level, kind, t.asset.ID, msg).WithPayload(t.View()))
}
