package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

type pendingTx struct {
	client *Client
	tx     *types.Transaction
	// tokenOut is set for swaps; Wait then reports the amount received.
	tokenOut common.Address
}

func (p *pendingTx) Hash() string { return p.tx.Hash().Hex() }

// Wait polls for the receipt until it is mined or ctx is done.
func (p *pendingTx) Wait(ctx context.Context) (*big.Int, error) {
	hash := p.tx.Hash()

	for {
		receipt, err := p.client.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("execution reverted: transaction %s failed", hash.Hex())
			}
			if p.tokenOut == (common.Address{}) {
				return nil, nil
			}
			return receivedAmount(receipt.Logs, p.tokenOut, p.client.owner), nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, errors.Wrap(err, "get receipt")
		}

		timer := time.NewTimer(p.client.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// receivedAmount sums ERC-20 Transfer logs of token into owner.
func receivedAmount(logs []*types.Log, token, owner common.Address) *big.Int {
	total := new(big.Int)
	recipient := common.BytesToHash(owner.Bytes())

	for _, l := range logs {
		if l.Address != token || len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		if l.Topics[2] != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}

	return total
}
