package exchange

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RouteVersion 路由（流动性池）版本
type RouteVersion string

const (
	RouteV2 RouteVersion = "V2"
	RouteV3 RouteVersion = "V3"
)

// Route 报价/兑换使用的路由，V3 需要费率档位（百万分之一）
type Route struct {
	Version RouteVersion `json:"version"`
	FeeTier int64        `json:"fee_tier,omitempty"`
}

// String 形如 V2 或 V3-2500
func (r Route) String() string {
	if r.Version == RouteV3 {
		return fmt.Sprintf("%s-%d", r.Version, r.FeeTier)
	}
	return string(r.Version)
}

// Direction 兑换方向
type Direction int

const (
	// DirectionBuy 原生币 -> 代币
	DirectionBuy Direction = iota
	// DirectionSell 代币 -> 原生币
	DirectionSell
)

// TokenMetadata 代币元数据
type TokenMetadata struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int32          `json:"decimals"`
}

// SwapRequest 兑换参数，MinAmountOut 与 Deadline 为链上强制的边界
type SwapRequest struct {
	Route        Route
	Direction    Direction
	Token        common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Deadline     time.Time
}

// Receipt 已上链交易的回执
type Receipt struct {
	TxHash            string   `json:"tx_hash"`
	BlockNumber       uint64   `json:"block_number"`
	GasUsed           uint64   `json:"gas_used"`
	EffectiveGasPrice *big.Int `json:"effective_gas_price"`
	Success           bool     `json:"success"`
}

// GasCost gasUsed × effectiveGasPrice（最小单位）
func (r *Receipt) GasCost() *big.Int {
	if r == nil || r.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

// Client 链上DEX能力
//
// 报价为只读调用；Approve 与 Swap 会发送交易并等待上链后返回回执。
type Client interface {
	WalletAddress() common.Address
	WrappedNative() common.Address

	NativeBalance(ctx context.Context) (*big.Int, error)
	TokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
	TokenMetadata(ctx context.Context, token common.Address) (*TokenMetadata, error)
	IsContract(ctx context.Context, addr common.Address) (bool, error)

	// Quote 按路径 tokenIn -> tokenOut 报价
	Quote(ctx context.Context, route Route, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)

	// SpenderFor 卖出时需要授权的路由合约
	SpenderFor(route Route) common.Address
	Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*Receipt, error)

	Swap(ctx context.Context, req SwapRequest) (*Receipt, error)
}
