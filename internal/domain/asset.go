// Package domain defines core data structures used throughout the dip buyer.
package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Stablecoin is the quote token every asset is bought with.
type Stablecoin struct {
	Symbol   string
	Token    common.Address
	Decimals uint8
}

// Asset describes one tracked token and its buying rules.
type Asset struct {
	// ID unique identifier used by the control surface and the snapshot.
	ID string
	// Symbol human readable ticker.
	Symbol string
	// Token ERC20 contract address.
	Token common.Address
	// Decimals token precision.
	Decimals uint8
	// PurchaseAmount stablecoin spent per purchase, in stablecoin native units.
	PurchaseAmount *big.Int
	// MaxPurchases upper bound on purchases.
	MaxPurchases int
	// DropBps drawdown from the all-time high that triggers a purchase, in basis points.
	DropBps int64
	// FeeTier pool fee in hundredths of a basis point (500, 3000, 10000).
	FeeTier uint32
	// Enabled disabled assets never get a tracker.
	Enabled bool
}

// String returns the string representation.
func (a Asset) String() string {
	return fmt.Sprintf("%s(%s)", a.ID, a.Symbol)
}

// Validate checks the asset is usable by a tracker.
func (a Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset id is required")
	}
	if a.Token == (common.Address{}) {
		return fmt.Errorf("asset %s: token address is required", a.ID)
	}
	if a.PurchaseAmount == nil || a.PurchaseAmount.Sign() <= 0 {
		return fmt.Errorf("asset %s: purchase amount must be positive", a.ID)
	}
	if a.MaxPurchases < 1 {
		return fmt.Errorf("asset %s: max purchases must be at least 1, got %d", a.ID, a.MaxPurchases)
	}
	if a.DropBps <= 0 || a.DropBps >= BpsDenominator {
		return fmt.Errorf("asset %s: drop threshold must be within (0, 100)%%, got %d bps", a.ID, a.DropBps)
	}
	switch a.FeeTier {
	case 100, 500, 3000, 10000:
	default:
		return fmt.Errorf("asset %s: unsupported fee tier %d", a.ID, a.FeeTier)
	}

	return nil
}
