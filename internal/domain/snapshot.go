package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Snapshot is the persisted state of all trackers.
type Snapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	Assets    []AssetSnapshot `json:"assets"`
}

// Find returns the entry for the asset id.
func (s *Snapshot) Find(id string) (AssetSnapshot, bool) {
	if s == nil {
		return AssetSnapshot{}, false
	}
	for _, a := range s.Assets {
		if a.ID == id {
			return a, true
		}
	}

	return AssetSnapshot{}, false
}

// AssetSnapshot is the persisted part of a TrackerState.
// Big integers are encoded as decimal strings, missing values as null.
type AssetSnapshot struct {
	ID                string
	LastPurchasePrice *big.Int
	AllTimeHigh       *big.Int
	PurchaseCount     int
	TotalSpent        *big.Int
	AverageCost       *big.Int
}

type storedAssetSnapshot struct {
	ID                string  `json:"id"`
	LastPurchasePrice *string `json:"lastPurchasePrice"`
	AllTimeHigh       *string `json:"allTimeHigh"`
	PurchaseCount     int     `json:"purchaseCount"`
	TotalSpent        *string `json:"totalSpent"`
	AverageCost       *string `json:"averageCost"`
}

// MarshalJSON implements json.Marshaler.
func (a AssetSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(storedAssetSnapshot{
		ID:                a.ID,
		LastPurchasePrice: intToString(a.LastPurchasePrice),
		AllTimeHigh:       intToString(a.AllTimeHigh),
		PurchaseCount:     a.PurchaseCount,
		TotalSpent:        intToString(a.TotalSpent),
		AverageCost:       intToString(a.AverageCost),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AssetSnapshot) UnmarshalJSON(data []byte) error {
	var stored storedAssetSnapshot
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.PurchaseCount < 0 {
		return fmt.Errorf("asset %s: negative purchase count %d", stored.ID, stored.PurchaseCount)
	}

	var err error
	out := AssetSnapshot{ID: stored.ID, PurchaseCount: stored.PurchaseCount}
	if out.LastPurchasePrice, err = stringToInt(stored.LastPurchasePrice); err != nil {
		return fmt.Errorf("asset %s: lastPurchasePrice: %w", stored.ID, err)
	}
	if out.AllTimeHigh, err = stringToInt(stored.AllTimeHigh); err != nil {
		return fmt.Errorf("asset %s: allTimeHigh: %w", stored.ID, err)
	}
	if out.TotalSpent, err = stringToInt(stored.TotalSpent); err != nil {
		return fmt.Errorf("asset %s: totalSpent: %w", stored.ID, err)
	}
	if out.AverageCost, err = stringToInt(stored.AverageCost); err != nil {
		return fmt.Errorf("asset %s: averageCost: %w", stored.ID, err)
	}
	*a = out

	return nil
}

func intToString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()

	return &s
}

func stringToInt(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", *s)
	}

	return v, nil
}
