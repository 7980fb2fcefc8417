// Package uniswap talks to Uniswap V3 on an EVM chain: QuoterV2 for prices,
// SwapRouter02 for exact-input swaps and ERC-20 contracts for balances and approvals.
package uniswap

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"github.com/vadiminshakov/dipbuyer/pkg/retrier"
	"go.uber.org/zap"
)

const (
	// gas estimates are padded by this percentage
	gasBufferPercent = 20
	receiptPoll      = 2 * time.Second
)

// backend is the subset of *ethclient.Client used by the client.
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client signs and sends transactions from a single wallet.
type Client struct {
	backend backend
	key     *ecdsa.PrivateKey
	owner   common.Address
	chainID *big.Int
	router  common.Address
	quoter  common.Address
	reads   *retrier.Retrier
	poll    time.Duration
	logger  *zap.Logger
}

// Dial connects to rpcURL and prepares a client for the wallet of privateKeyHex.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, router, quoter common.Address, logger *zap.Logger) (*Client, error) {
	key, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, errors.Wrap(err, "get chain id")
	}

	return NewClient(eth, key, chainID, router, quoter, logger), nil
}

// NewClient wraps an already connected backend.
func NewClient(b backend, key *ecdsa.PrivateKey, chainID *big.Int, router, quoter common.Address, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		backend: b,
		key:     key,
		owner:   crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		router:  router,
		quoter:  quoter,
		reads: retrier.New(retrier.ChainReads,
			retrier.WithRetryIf(isTransient),
			retrier.OnRetry(func(attempt int, err error, wait time.Duration) {
				logger.Debug("rpc read failed, retrying",
					zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			}),
		),
		poll:   receiptPoll,
		logger: logger,
	}
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key := strings.TrimSpace(hexKey)
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	return privateKey, nil
}

// Owner returns the wallet address.
func (c *Client) Owner() common.Address { return c.owner }

// Router returns the swap router address.
func (c *Client) Router() common.Address { return c.router }

// Quote asks QuoterV2 for the output of an exact-input single-pool swap.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) (*big.Int, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{tokenIn, tokenOut, amountIn, big.NewInt(int64(fee)), new(big.Int)}

	out, err := c.call(ctx, c.quoter, quoterABI, "quoteExactInputSingle", params)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("pool not found for %s/%s fee %d: %w", tokenIn.Hex(), tokenOut.Hex(), fee, err)
		}
		return nil, err
	}

	return firstInt(out)
}

// BalanceOf returns the wallet's balance of token.
func (c *Client) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "balanceOf", c.owner)
	if err != nil {
		return nil, err
	}

	return firstInt(out)
}

// Allowance returns how much of token spender may move on behalf of the wallet.
func (c *Client) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "allowance", c.owner, spender)
	if err != nil {
		return nil, err
	}

	return firstInt(out)
}

// Approve sends an ERC-20 approve transaction.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (domain.PendingTx, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, errors.Wrap(err, "pack approve")
	}

	tx, err := c.send(ctx, token, data)
	if err != nil {
		return nil, err
	}

	return &pendingTx{client: c, tx: tx}, nil
}

// Swap sends SwapRouter02.exactInputSingle with the wallet as recipient.
func (c *Client) Swap(ctx context.Context, p domain.SwapParams) (domain.PendingTx, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{p.TokenIn, p.TokenOut, big.NewInt(int64(p.Fee)), c.owner, p.AmountIn, p.MinAmountOut, new(big.Int)}

	data, err := routerABI.Pack("exactInputSingle", params)
	if err != nil {
		return nil, errors.Wrap(err, "pack exactInputSingle")
	}

	tx, err := c.send(ctx, c.router, data)
	if err != nil {
		return nil, err
	}

	return &pendingTx{client: c, tx: tx, tokenOut: p.TokenOut}, nil
}

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}

	raw, err := retrier.Value(ctx, c.reads, func(ctx context.Context) ([]byte, error) {
		return c.backend.CallContract(ctx, ethereum.CallMsg{From: c.owner, To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}

	return out, nil
}

// send estimates gas, signs and broadcasts a legacy transaction.
// Estimation failures keep the revert reason in their message.
func (c *Client) send(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.owner)
	if err != nil {
		return nil, errors.Wrap(err, "get nonce")
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get gas price")
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.owner, To: &to, Data: data, Value: new(big.Int)})
	if err != nil {
		return nil, errors.Wrap(err, "estimate gas")
	}
	gas += gas * gasBufferPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, errors.Wrap(err, "send transaction")
	}

	c.logger.Info("transaction sent", zap.String("hash", signed.Hash().Hex()), zap.String("to", to.Hex()))

	return signed, nil
}

func firstInt(out []any) (*big.Int, error) {
	if len(out) == 0 {
		return nil, errors.New("empty contract response")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected contract response type %T", out[0])
	}

	return v, nil
}

// isRevert reports whether err is a contract revert rather than a transport failure.
func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return !isRevert(err)
}
