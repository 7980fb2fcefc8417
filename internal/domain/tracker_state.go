package domain

import (
	"fmt"
	"math/big"
)

// Phase is the lifecycle stage of a tracker.
type Phase int

const (
	// PhaseAwaitingFirstPurchase buys unconditionally at the first valid price.
	PhaseAwaitingFirstPurchase Phase = iota
	// PhaseMonitoring tracks the all-time high and buys dips.
	PhaseMonitoring
	// PhaseExhausted has reached the purchase limit.
	PhaseExhausted
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingFirstPurchase:
		return "awaiting_first_purchase"
	case PhaseMonitoring:
		return "monitoring"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// TrackerState is the mutable state owned by a single tracker.
// Prices are 18-decimal fixed point, TotalSpent is in stablecoin native units
// and HeldBalance in asset native units.
type TrackerState struct {
	CurrentPrice      *big.Int
	LastPurchasePrice *big.Int
	AllTimeHigh       *big.Int
	PurchaseCount     int
	TotalSpent        *big.Int
	AverageCost       *big.Int
	HeldBalance       *big.Int
}

// NewTrackerState returns an empty state.
func NewTrackerState() *TrackerState {
	return &TrackerState{
		TotalSpent:  new(big.Int),
		HeldBalance: new(big.Int),
	}
}

// Phase derives the lifecycle stage from the purchase count.
func (s *TrackerState) Phase(maxPurchases int) Phase {
	switch {
	case s.PurchaseCount >= maxPurchases:
		return PhaseExhausted
	case s.PurchaseCount == 0:
		return PhaseAwaitingFirstPurchase
	default:
		return PhaseMonitoring
	}
}

// ObservePrice records a fresh price. Once purchases exist the all-time high
// follows the price upwards; it is seeded by the first observation if missing.
func (s *TrackerState) ObservePrice(price *big.Int) (athRaised bool) {
	s.CurrentPrice = cloneInt(price)
	if s.PurchaseCount == 0 {
		return false
	}
	if s.AllTimeHigh == nil || price.Cmp(s.AllTimeHigh) > 0 {
		s.AllTimeHigh = cloneInt(price)
		return true
	}

	return false
}

// DipDecision is the outcome of a dip check.
type DipDecision struct {
	ShouldBuy   bool
	DrawdownBps int64
	Reason      string
}

// CheckDip evaluates the drawdown of price from the all-time high.
func (s *TrackerState) CheckDip(price *big.Int, thresholdBps int64) DipDecision {
	if s.AllTimeHigh == nil || s.AllTimeHigh.Sign() == 0 {
		return DipDecision{Reason: "no_all_time_high"}
	}

	drawdown := DrawdownBps(price, s.AllTimeHigh)
	if drawdown <= -thresholdBps {
		return DipDecision{
			ShouldBuy:   true,
			DrawdownBps: drawdown,
			Reason:      fmt.Sprintf("drawdown %s%% reached threshold -%s%%", BpsToPercent(drawdown), BpsToPercent(thresholdBps)),
		}
	}

	return DipDecision{DrawdownBps: drawdown, Reason: "above_threshold"}
}

// PurchaseFill carries the confirmed outcome of a purchase.
type PurchaseFill struct {
	// Spent stablecoin native units.
	Spent *big.Int
	// Balance asset balance after the swap.
	Balance *big.Int
	// Price post-purchase reference price, becomes both last purchase price and ATH.
	Price *big.Int
}

// ApplyPurchase records a confirmed purchase.
func (s *TrackerState) ApplyPurchase(fill PurchaseFill, stableDecimals, assetDecimals uint8) {
	s.PurchaseCount++
	s.TotalSpent = new(big.Int).Add(s.TotalSpent, fill.Spent)
	s.HeldBalance = cloneInt(fill.Balance)
	if avg, err := UnitPrice(s.TotalSpent, stableDecimals, s.HeldBalance, assetDecimals); err == nil {
		s.AverageCost = avg
	}
	s.LastPurchasePrice = cloneInt(fill.Price)
	s.AllTimeHigh = cloneInt(fill.Price)
	s.CurrentPrice = cloneInt(fill.Price)
}

// Restore overwrites the persisted fields from a snapshot entry.
func (s *TrackerState) Restore(snap AssetSnapshot) {
	s.LastPurchasePrice = cloneInt(snap.LastPurchasePrice)
	s.AllTimeHigh = cloneInt(snap.AllTimeHigh)
	s.PurchaseCount = snap.PurchaseCount
	s.TotalSpent = new(big.Int)
	if snap.TotalSpent != nil {
		s.TotalSpent.Set(snap.TotalSpent)
	}
	s.AverageCost = cloneInt(snap.AverageCost)
}

// Snapshot returns the persisted subset of the state.
func (s *TrackerState) Snapshot(id string) AssetSnapshot {
	return AssetSnapshot{
		ID:                id,
		LastPurchasePrice: cloneInt(s.LastPurchasePrice),
		AllTimeHigh:       cloneInt(s.AllTimeHigh),
		PurchaseCount:     s.PurchaseCount,
		TotalSpent:        cloneInt(s.TotalSpent),
		AverageCost:       cloneInt(s.AverageCost),
	}
}

// Clone returns a deep copy.
func (s *TrackerState) Clone() TrackerState {
	return TrackerState{
		CurrentPrice:      cloneInt(s.CurrentPrice),
		LastPurchasePrice: cloneInt(s.LastPurchasePrice),
		AllTimeHigh:       cloneInt(s.AllTimeHigh),
		PurchaseCount:     s.PurchaseCount,
		TotalSpent:        cloneInt(s.TotalSpent),
		AverageCost:       cloneInt(s.AverageCost),
		HeldBalance:       cloneInt(s.HeldBalance),
	}
}
