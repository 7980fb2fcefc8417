package uniswap

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// QuoterV2.quoteExactInputSingle
const quoterABIJSON = `[
  {"type":"function","name":"quoteExactInputSingle","stateMutability":"nonpayable",
   "inputs":[{"name":"params","type":"tuple","components":[
     {"name":"tokenIn","type":"address"},
     {"name":"tokenOut","type":"address"},
     {"name":"amountIn","type":"uint256"},
     {"name":"fee","type":"uint24"},
     {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
   "outputs":[
     {"name":"amountOut","type":"uint256"},
     {"name":"sqrtPriceX96After","type":"uint160"},
     {"name":"initializedTicksCrossed","type":"uint32"},
     {"name":"gasEstimate","type":"uint256"}]}
]`

// SwapRouter02.exactInputSingle
const routerABIJSON = `[
  {"type":"function","name":"exactInputSingle","stateMutability":"payable",
   "inputs":[{"name":"params","type":"tuple","components":[
     {"name":"tokenIn","type":"address"},
     {"name":"tokenOut","type":"address"},
     {"name":"fee","type":"uint24"},
     {"name":"recipient","type":"address"},
     {"name":"amountIn","type":"uint256"},
     {"name":"amountOutMinimum","type":"uint256"},
     {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
   "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

var (
	erc20ABI  = mustParseABI(erc20ABIJSON)
	quoterABI = mustParseABI(quoterABIJSON)
	routerABI = mustParseABI(routerABIJSON)

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}

	return parsed
}
