package exchange

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/config"
)

// approveFallbackGas 部分节点对 approve 的 EstimateGas 不稳定时使用
const approveFallbackGas uint64 = 100_000

// v3 SmartRouter 约定的 recipient 常量：资金留在路由合约内，随后 unwrap
var routerSelf = common.HexToAddress("0x0000000000000000000000000000000000000002")

// chainBackend EVMClient 依赖的RPC能力（*ethclient.Client 满足）
type chainBackend interface {
	bind.DeployBackend
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EVMClient 基于 go-ethereum 的 DEX 客户端
type EVMClient struct {
	backend    chainBackend
	closer     func()
	logger     *zap.Logger
	abis       *contractABIs
	privateKey *ecdsa.PrivateKey
	wallet     common.Address
	chainID    *big.Int

	wrappedNative common.Address
	v2Router      common.Address
	v3Router      common.Address
	v3Quoter      common.Address
	gasMultiplier float64
}

var _ Client = (*EVMClient)(nil)

// NewEVMClient 连接RPC并校验链ID
func NewEVMClient(ctx context.Context, logger *zap.Logger, chain config.ChainConfig, routers config.RoutersConfig, gasMultiplier float64) (*EVMClient, error) {
	rpc, err := ethclient.DialContext(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC失败: %w", err)
	}

	remoteID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("查询链ID失败: %w", err)
	}
	if remoteID.Int64() != chain.ChainID {
		rpc.Close()
		return nil, fmt.Errorf("链ID不匹配: 配置 %d, 节点 %s", chain.ChainID, remoteID)
	}

	c, err := newEVMClient(rpc, logger, chain, routers, gasMultiplier)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.closer = rpc.Close

	logger.Info("链上客户端已连接",
		zap.Int64("chain_id", chain.ChainID),
		zap.String("wallet", c.wallet.Hex()))
	return c, nil
}

func newEVMClient(backend chainBackend, logger *zap.Logger, chain config.ChainConfig, routers config.RoutersConfig, gasMultiplier float64) (*EVMClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(chain.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	abis, err := parseABIs()
	if err != nil {
		return nil, fmt.Errorf("解析合约ABI失败: %w", err)
	}
	if gasMultiplier < 1 {
		gasMultiplier = 1
	}

	return &EVMClient{
		backend:       backend,
		logger:        logger.With(zap.String("component", "evm_client")),
		abis:          abis,
		privateKey:    key,
		wallet:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:       big.NewInt(chain.ChainID),
		wrappedNative: common.HexToAddress(chain.WrappedNative),
		v2Router:      common.HexToAddress(routers.V2Router),
		v3Router:      common.HexToAddress(routers.V3Router),
		v3Quoter:      common.HexToAddress(routers.V3Quoter),
		gasMultiplier: gasMultiplier,
	}, nil
}

// Close 关闭RPC连接
func (c *EVMClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// WalletAddress 钱包地址
func (c *EVMClient) WalletAddress() common.Address { return c.wallet }

// WrappedNative 包装原生币地址
func (c *EVMClient) WrappedNative() common.Address { return c.wrappedNative }

// NativeBalance 原生币余额
func (c *EVMClient) NativeBalance(ctx context.Context) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, c.wallet, nil)
	if err != nil {
		return nil, fmt.Errorf("查询原生币余额失败: %w", err)
	}
	return bal, nil
}

// TokenBalance 代币余额
func (c *EVMClient) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, "balanceOf", c.wallet)
	if err != nil {
		return nil, fmt.Errorf("查询代币余额失败: %w", err)
	}
	return toBigInt(out)
}

// IsContract 地址上是否有合约代码
func (c *EVMClient) IsContract(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("查询合约代码失败: %w", err)
	}
	return len(code) > 0, nil
}

// TokenMetadata 读取 symbol/decimals；decimals 读取失败视为非ERC20
func (c *EVMClient) TokenMetadata(ctx context.Context, token common.Address) (*TokenMetadata, error) {
	ok, err := c.IsContract(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotContract, token.Hex())
	}

	out, err := c.call(ctx, token, "decimals")
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotToken, token.Hex())
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("%w: decimals 类型异常", ErrNotToken)
	}

	meta := &TokenMetadata{Address: token, Decimals: int32(decimals)}
	if out, err := c.call(ctx, token, "symbol"); err == nil && len(out) > 0 {
		meta.Symbol, _ = out[0].(string)
	}
	if meta.Symbol == "" {
		c.logger.Debug("代币没有标准symbol", zap.String("token", token.Hex()))
		meta.Symbol = token.Hex()[:8]
	}
	return meta, nil
}

// Quote 只读报价；V2 走 getAmountsOut，V3 走 QuoterV2
func (c *EVMClient) Quote(ctx context.Context, route Route, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	var (
		amount *big.Int
		err    error
	)
	switch route.Version {
	case RouteV2:
		amount, err = c.quoteV2(ctx, tokenIn, tokenOut, amountIn)
	case RouteV3:
		amount, err = c.quoteV3(ctx, route.FeeTier, tokenIn, tokenOut, amountIn)
	default:
		return nil, fmt.Errorf("不支持的路由: %s", route)
	}
	if err != nil {
		return nil, fmt.Errorf("%s 报价失败: %w", route, err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s: %w", route, ErrZeroQuote)
	}
	return amount, nil
}

func (c *EVMClient) quoteV2(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	out, err := c.callABI(ctx, c.abis.v2Router, c.v2Router, "getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, err
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, errors.New("getAmountsOut 返回格式异常")
	}
	return amounts[len(amounts)-1], nil
}

func (c *EVMClient) quoteV3(ctx context.Context, fee int64, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	out, err := c.callABI(ctx, c.abis.v3Quoter, c.v3Quoter, "quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(fee),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, err
	}
	return toBigInt(out)
}

// SpenderFor 路由对应的合约地址
func (c *EVMClient) SpenderFor(route Route) common.Address {
	if route.Version == RouteV3 {
		return c.v3Router
	}
	return c.v2Router
}

// Allowance 钱包对 spender 的授权额度
func (c *EVMClient) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, "allowance", c.wallet, spender)
	if err != nil {
		return nil, fmt.Errorf("查询授权额度失败: %w", err)
	}
	return toBigInt(out)
}

// Approve 发送授权交易并等待上链
func (c *EVMClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*Receipt, error) {
	data, err := c.abis.erc20.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("编码 approve 失败: %w", err)
	}
	c.logger.Info("发送授权交易",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()))
	return c.transact(ctx, token, data, nil, approveFallbackGas)
}

// Swap 发送兑换交易并等待上链；交易回滚时返回回执和 ErrTxReverted
func (c *EVMClient) Swap(ctx context.Context, req SwapRequest) (*Receipt, error) {
	to, data, value, err := c.buildSwapCall(req)
	if err != nil {
		return nil, err
	}
	c.logger.Info("发送兑换交易",
		zap.String("route", req.Route.String()),
		zap.String("token", req.Token.Hex()),
		zap.String("amount_in", req.AmountIn.String()),
		zap.String("min_out", req.MinAmountOut.String()),
		zap.Time("deadline", req.Deadline))
	return c.transact(ctx, to, data, value, 0)
}

// buildSwapCall 生成兑换调用的目标合约、calldata 和附带的原生币数量
func (c *EVMClient) buildSwapCall(req SwapRequest) (common.Address, []byte, *big.Int, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return common.Address{}, nil, nil, errors.New("兑换数量必须大于0")
	}
	minOut := req.MinAmountOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	deadline := big.NewInt(req.Deadline.Unix())

	switch req.Route.Version {
	case RouteV2:
		if req.Direction == DirectionBuy {
			data, err := c.abis.v2Router.Pack("swapExactETHForTokensSupportingFeeOnTransferTokens",
				minOut, []common.Address{c.wrappedNative, req.Token}, c.wallet, deadline)
			return c.v2Router, data, req.AmountIn, err
		}
		data, err := c.abis.v2Router.Pack("swapExactTokensForETHSupportingFeeOnTransferTokens",
			req.AmountIn, minOut, []common.Address{req.Token, c.wrappedNative}, c.wallet, deadline)
		return c.v2Router, data, nil, err

	case RouteV3:
		params := exactInputSingleParams{
			Fee:               big.NewInt(req.Route.FeeTier),
			AmountIn:          req.AmountIn,
			AmountOutMinimum:  minOut,
			SqrtPriceLimitX96: new(big.Int),
		}
		var (
			calls [][]byte
			value *big.Int
		)
		if req.Direction == DirectionBuy {
			params.TokenIn, params.TokenOut, params.Recipient = c.wrappedNative, req.Token, c.wallet
			value = req.AmountIn
		} else {
			params.TokenIn, params.TokenOut, params.Recipient = req.Token, c.wrappedNative, routerSelf
		}

		swap, err := c.abis.v3Router.Pack("exactInputSingle", params)
		if err != nil {
			return common.Address{}, nil, nil, err
		}
		calls = append(calls, swap)
		if req.Direction == DirectionSell {
			unwrap, err := c.abis.v3Router.Pack("unwrapWETH9", minOut, c.wallet)
			if err != nil {
				return common.Address{}, nil, nil, err
			}
			calls = append(calls, unwrap)
		}

		data, err := c.abis.v3Router.Pack("multicall", deadline, calls)
		return c.v3Router, data, value, err
	}
	return common.Address{}, nil, nil, fmt.Errorf("不支持的路由: %s", req.Route)
}

// transact 签名、发送并等待回执；fallbackGas 为0时 gas 估算失败直接返回错误
func (c *EVMClient) transact(ctx context.Context, to common.Address, data []byte, value *big.Int, fallbackGas uint64) (*Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	signed, err := c.buildSignedTx(ctx, to, data, value, fallbackGas)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}
	c.logger.Info("交易已发送，等待确认", zap.String("tx_hash", signed.Hash().Hex()))

	rcpt, err := bind.WaitMined(ctx, c.backend, signed)
	if err != nil {
		return nil, fmt.Errorf("等待交易确认失败(%s): %w", signed.Hash().Hex(), err)
	}

	receipt := &Receipt{
		TxHash:            rcpt.TxHash.Hex(),
		GasUsed:           rcpt.GasUsed,
		EffectiveGasPrice: rcpt.EffectiveGasPrice,
		Success:           rcpt.Status == ethtypes.ReceiptStatusSuccessful,
	}
	if rcpt.BlockNumber != nil {
		receipt.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice == nil {
		receipt.EffectiveGasPrice = signed.GasPrice()
	}
	if !receipt.Success {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, receipt.TxHash)
	}
	return receipt, nil
}

func (c *EVMClient) buildSignedTx(ctx context.Context, to common.Address, data []byte, value *big.Int, fallbackGas uint64) (*ethtypes.Transaction, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return nil, fmt.Errorf("获取nonce失败: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取gas价格失败: %w", err)
	}

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.wallet,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		if fallbackGas == 0 {
			return nil, fmt.Errorf("估算gas失败: %w", err)
		}
		c.logger.Warn("估算gas失败，使用默认gas上限", zap.Uint64("gas", fallbackGas), zap.Error(err))
		gasLimit = fallbackGas
	} else {
		gasLimit = uint64(float64(gasLimit) * c.gasMultiplier)
	}

	tx := ethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	return signed, nil
}

func (c *EVMClient) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	return c.callABI(ctx, c.abis.erc20, token, method, args...)
}

func (c *EVMClient) callABI(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 失败: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.wallet, To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 失败: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s 没有返回值", method)
	}
	return out, nil
}

func toBigInt(out []interface{}) (*big.Int, error) {
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("返回值类型异常: %T", out[0])
	}
	return v, nil
}
