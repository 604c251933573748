package exchange

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const v2RouterABIJSON = `[
  {"type":"function","name":"getAmountsOut","stateMutability":"view",
   "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"type":"function","name":"swapExactETHForTokensSupportingFeeOnTransferTokens","stateMutability":"payable",
   "inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"swapExactTokensForETHSupportingFeeOnTransferTokens","stateMutability":"nonpayable",
   "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
   "outputs":[]}
]`

const v3QuoterABIJSON = `[
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

const v3RouterABIJSON = `[
  {"type":"function","name":"exactInputSingle","stateMutability":"payable",
   "inputs":[{"name":"params","type":"tuple","components":[
     {"name":"tokenIn","type":"address"},
     {"name":"tokenOut","type":"address"},
     {"name":"fee","type":"uint24"},
     {"name":"recipient","type":"address"},
     {"name":"amountIn","type":"uint256"},
     {"name":"amountOutMinimum","type":"uint256"},
     {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
   "outputs":[{"name":"amountOut","type":"uint256"}]},
  {"type":"function","name":"unwrapWETH9","stateMutability":"payable",
   "inputs":[{"name":"amountMinimum","type":"uint256"},{"name":"recipient","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"multicall","stateMutability":"payable",
   "inputs":[{"name":"deadline","type":"uint256"},{"name":"data","type":"bytes[]"}],
   "outputs":[{"name":"","type":"bytes[]"}]}
]`

// contractABIs 解析后的合约ABI
type contractABIs struct {
	erc20    abi.ABI
	v2Router abi.ABI
	v3Quoter abi.ABI
	v3Router abi.ABI
}

func parseABIs() (*contractABIs, error) {
	var out contractABIs
	for _, item := range []struct {
		dst  *abi.ABI
		json string
	}{
		{&out.erc20, erc20ABIJSON},
		{&out.v2Router, v2RouterABIJSON},
		{&out.v3Quoter, v3QuoterABIJSON},
		{&out.v3Router, v3RouterABIJSON},
	} {
		parsed, err := abi.JSON(strings.NewReader(item.json))
		if err != nil {
			return nil, err
		}
		*item.dst = parsed
	}
	return &out, nil
}
