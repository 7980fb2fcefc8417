package domain

import "math/big"

// AssetView is a read-only, display friendly rendering of a tracker.
type AssetView struct {
	ID                 string `json:"id"`
	Symbol             string `json:"symbol"`
	Enabled            bool   `json:"enabled"`
	Phase              Phase  `json:"phase"`
	CurrentPrice       string `json:"currentPrice,omitempty"`
	LastPurchasePrice  string `json:"lastPurchasePrice,omitempty"`
	AllTimeHigh        string `json:"allTimeHigh,omitempty"`
	PriceChangeFromATH string `json:"priceChangeFromATH,omitempty"`
	PurchaseCount      int    `json:"purchaseCount"`
	MaxPurchases       int    `json:"maxPurchases"`
	TotalSpent         string `json:"totalSpent"`
	AverageCost        string `json:"averageCost,omitempty"`
	Balance            string `json:"balance"`
	PurchaseAmount     string `json:"purchaseAmount"`
}

const viewPricePlaces = 4

// NewAssetView renders state for the asset.
func NewAssetView(asset Asset, stable Stablecoin, state TrackerState) AssetView {
	v := AssetView{
		ID:                asset.ID,
		Symbol:            asset.Symbol,
		Enabled:           asset.Enabled,
		Phase:             state.Phase(asset.MaxPurchases),
		CurrentPrice:      FormatPrice(state.CurrentPrice, viewPricePlaces),
		LastPurchasePrice: FormatPrice(state.LastPurchasePrice, viewPricePlaces),
		AllTimeHigh:       FormatPrice(state.AllTimeHigh, viewPricePlaces),
		PurchaseCount:     state.PurchaseCount,
		MaxPurchases:      asset.MaxPurchases,
		TotalSpent:        FormatUnits(orZero(state.TotalSpent), stable.Decimals),
		AverageCost:       FormatPrice(state.AverageCost, viewPricePlaces),
		Balance:           FormatUnits(orZero(state.HeldBalance), asset.Decimals),
		PurchaseAmount:    FormatUnits(orZero(asset.PurchaseAmount), stable.Decimals),
	}
	if state.CurrentPrice != nil && state.AllTimeHigh != nil && state.AllTimeHigh.Sign() > 0 {
		v.PriceChangeFromATH = BpsToPercent(DrawdownBps(state.CurrentPrice, state.AllTimeHigh)).StringFixed(2)
	}

	return v
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v
}
