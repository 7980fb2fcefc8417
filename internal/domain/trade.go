package domain

import (
	"fmt"
	"math/big"
)

// TradeEvent is a confirmed swap performed by a tracker.
type TradeEvent struct {
	// Action buy or sell.
	Action Action
	// AssetID tracker that performed the swap.
	AssetID string
	// AmountIn tokens sent, native units of the input token.
	AmountIn *big.Int
	// AmountOut tokens received, native units of the output token.
	AmountOut *big.Int
	// Price 18-decimal execution price of one whole asset unit.
	Price *big.Int
	// TxHash swap transaction hash.
	TxHash string
	// PnLBps realised profit versus average cost, sells only.
	PnLBps *int64
}

// String returns a human-readable string representation.
func (t *TradeEvent) String() string {
	return fmt.Sprintf("%s action: %s in: %s out: %s price: %s",
		t.AssetID, t.Action.String(), t.AmountIn.String(), t.AmountOut.String(), FormatPrice(t.Price, 4))
}
