// Package simulate provides an in-memory DEX used for dry runs and tests.
package simulate

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"go.uber.org/zap"
)

var (
	// DefaultOwner is the wallet address reported in simulation.
	DefaultOwner = common.HexToAddress("0x000000000000000000000000000000000000d1b0")
	// DefaultRouter is the spender address reported in simulation.
	DefaultRouter = common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
)

// Exchange simulates a Uniswap-like pool set with fixed prices.
// Every token is priced against the stablecoin; swaps settle instantly.
type Exchange struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	owner      common.Address
	router     common.Address
	stable     domain.Stablecoin
	decimals   map[common.Address]uint8
	prices     map[common.Address]*big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	swaps      []domain.SwapParams
	approvals  int

	quoteErr   error
	approveErr error
	swapErr    error
}

// NewExchange creates a simulated exchange quoting against stable.
func NewExchange(stable domain.Stablecoin, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Exchange{
		logger:     logger,
		owner:      DefaultOwner,
		router:     DefaultRouter,
		stable:     stable,
		decimals:   map[common.Address]uint8{stable.Token: stable.Decimals},
		prices:     make(map[common.Address]*big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
	}
}

// ListToken registers a token with its precision and 18-decimal stablecoin price.
func (e *Exchange) ListToken(token common.Address, decimals uint8, price *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.decimals[token] = decimals
	e.prices[token] = price
}

// SetPrice moves the price of a listed token.
func (e *Exchange) SetPrice(token common.Address, price *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prices[token] = price
}

// SetBalance sets the wallet balance of token.
func (e *Exchange) SetBalance(token common.Address, amount *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.balances[token] = new(big.Int).Set(amount)
}

// FailQuotes makes every quote fail with err until reset with nil.
func (e *Exchange) FailQuotes(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quoteErr = err
}

// FailApprovals makes every approval fail with err until reset with nil.
func (e *Exchange) FailApprovals(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approveErr = err
}

// FailSwaps makes every swap fail with err until reset with nil.
func (e *Exchange) FailSwaps(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.swapErr = err
}

// Swaps returns executed swaps in order.
func (e *Exchange) Swaps() []domain.SwapParams {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]domain.SwapParams(nil), e.swaps...)
}

// Approvals returns how many approvals were sent.
func (e *Exchange) Approvals() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.approvals
}

// Owner returns the simulated wallet address.
func (e *Exchange) Owner() common.Address { return e.owner }

// Router returns the simulated router address.
func (e *Exchange) Router() common.Address { return e.router }

// Quote returns the output of an exact-input swap at the current price.
func (e *Exchange) Quote(_ context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, _ uint32) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.quoteErr != nil {
		return nil, e.quoteErr
	}

	return e.convert(tokenIn, tokenOut, amountIn)
}

// BalanceOf returns the wallet balance of token.
func (e *Exchange) BalanceOf(_ context.Context, token common.Address) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.balanceOf(token), nil
}

// Allowance returns the allowance granted to spender.
func (e *Exchange) Allowance(_ context.Context, token, spender common.Address) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if spender != e.router {
		return new(big.Int), nil
	}
	if a, ok := e.allowances[token]; ok {
		return new(big.Int).Set(a), nil
	}

	return new(big.Int), nil
}

// Approve grants the router an allowance.
func (e *Exchange) Approve(_ context.Context, token, spender common.Address, amount *big.Int) (domain.PendingTx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.approveErr != nil {
		return nil, e.approveErr
	}
	if spender != e.router {
		return nil, fmt.Errorf("unknown spender %s", spender.Hex())
	}

	e.allowances[token] = new(big.Int).Set(amount)
	e.approvals++
	e.logger.Debug("simulated approve", zap.String("token", token.Hex()))

	return settledTx{hash: newTxHash()}, nil
}

// Swap executes an exact-input swap at the current price.
func (e *Exchange) Swap(_ context.Context, params domain.SwapParams) (domain.PendingTx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.swapErr != nil {
		return nil, e.swapErr
	}
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, errors.New("amount in must be positive")
	}

	allowance, ok := e.allowances[params.TokenIn]
	if !ok || allowance.Cmp(params.AmountIn) < 0 {
		return nil, errors.New("execution reverted: STF")
	}
	if e.balanceOf(params.TokenIn).Cmp(params.AmountIn) < 0 {
		return nil, errors.New("execution reverted: STF")
	}

	out, err := e.convert(params.TokenIn, params.TokenOut, params.AmountIn)
	if err != nil {
		return nil, err
	}
	if params.MinAmountOut != nil && out.Cmp(params.MinAmountOut) < 0 {
		return nil, errors.New("execution reverted: Too little received")
	}

	e.balances[params.TokenIn] = new(big.Int).Sub(e.balanceOf(params.TokenIn), params.AmountIn)
	e.balances[params.TokenOut] = new(big.Int).Add(e.balanceOf(params.TokenOut), out)
	if allowance.Cmp(domain.MaxUint256) != 0 {
		e.allowances[params.TokenIn] = new(big.Int).Sub(allowance, params.AmountIn)
	}
	e.swaps = append(e.swaps, params)

	e.logger.Info("simulated swap",
		zap.String("token_in", params.TokenIn.Hex()),
		zap.String("token_out", params.TokenOut.Hex()),
		zap.String("amount_in", params.AmountIn.String()),
		zap.String("amount_out", out.String()))

	return settledTx{hash: newTxHash(), out: out}, nil
}

func (e *Exchange) balanceOf(token common.Address) *big.Int {
	if b, ok := e.balances[token]; ok {
		return new(big.Int).Set(b)
	}

	return new(big.Int)
}

// convert prices amountIn of tokenIn in tokenOut. One side must be the stablecoin.
func (e *Exchange) convert(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	switch e.stable.Token {
	case tokenIn:
		price, decimals, err := e.pool(tokenOut)
		if err != nil {
			return nil, err
		}
		// asset = stable18 * 10^decimals / price
		out := domain.ScaleTo18(amountIn, e.stable.Decimals)
		out.Mul(out, domain.Pow10(decimals))

		return out.Quo(out, price), nil
	case tokenOut:
		price, decimals, err := e.pool(tokenIn)
		if err != nil {
			return nil, err
		}
		// stable18 = asset * price / 10^decimals
		stable18 := new(big.Int).Mul(amountIn, price)
		stable18.Quo(stable18, domain.Pow10(decimals))

		return stable18.Quo(stable18, domain.Pow10(domain.PriceDecimals-e.stable.Decimals)), nil
	default:
		return nil, errors.New("Pool not found")
	}
}

func (e *Exchange) pool(token common.Address) (*big.Int, uint8, error) {
	price, ok := e.prices[token]
	if !ok || price == nil || price.Sign() <= 0 {
		return nil, 0, errors.New("Pool not found")
	}

	return price, e.decimals[token], nil
}

type settledTx struct {
	hash string
	out  *big.Int
}

func (t settledTx) Hash() string { return t.hash }

func (t settledTx) Wait(_ context.Context) (*big.Int, error) {
	if t.out == nil {
		return nil, nil
	}

	return new(big.Int).Set(t.out), nil
}

func newTxHash() string {
	id := uuid.New()
	return crypto.Keccak256Hash(id[:]).Hex()
}
