package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTx is a submitted transaction.
type PendingTx interface {
	Hash() string
	// Wait blocks until the transaction is mined. For swaps it returns the
	// amount of output token received by the wallet, for approvals nil.
	Wait(ctx context.Context) (*big.Int, error)
}

// SwapParams describes an exact-input single-pool swap.
type SwapParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	Fee          uint32
	AmountIn     *big.Int
	MinAmountOut *big.Int
}
