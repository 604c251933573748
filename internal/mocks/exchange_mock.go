package mocks

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/dextrader/internal/exchange"
)

// MockExchange 链上DEX客户端的模拟实现
type MockExchange struct {
	mock.Mock
}

var _ exchange.Client = (*MockExchange)(nil)

// WalletAddress 钱包地址的模拟实现
func (m *MockExchange) WalletAddress() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

// WrappedNative 包装原生币地址的模拟实现
func (m *MockExchange) WrappedNative() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

// NativeBalance 原生币余额的模拟实现
func (m *MockExchange) NativeBalance(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return bigIntArg(args, 0), args.Error(1)
}

// TokenBalance 代币余额的模拟实现
func (m *MockExchange) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	args := m.Called(ctx, token)
	return bigIntArg(args, 0), args.Error(1)
}

// TokenMetadata 代币元数据的模拟实现
func (m *MockExchange) TokenMetadata(ctx context.Context, token common.Address) (*exchange.TokenMetadata, error) {
	args := m.Called(ctx, token)
	if v := args.Get(0); v != nil {
		return v.(*exchange.TokenMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}

// IsContract 合约检查的模拟实现
func (m *MockExchange) IsContract(ctx context.Context, addr common.Address) (bool, error) {
	args := m.Called(ctx, addr)
	return args.Bool(0), args.Error(1)
}

// Quote 报价的模拟实现
func (m *MockExchange) Quote(ctx context.Context, route exchange.Route, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	args := m.Called(ctx, route, tokenIn, tokenOut, amountIn)
	return bigIntArg(args, 0), args.Error(1)
}

// SpenderFor 授权对象的模拟实现
func (m *MockExchange) SpenderFor(route exchange.Route) common.Address {
	args := m.Called(route)
	return args.Get(0).(common.Address)
}

// Allowance 授权额度的模拟实现
func (m *MockExchange) Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, spender)
	return bigIntArg(args, 0), args.Error(1)
}

// Approve 授权的模拟实现
func (m *MockExchange) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*exchange.Receipt, error) {
	args := m.Called(ctx, token, spender, amount)
	return receiptArg(args, 0), args.Error(1)
}

// Swap 兑换的模拟实现
func (m *MockExchange) Swap(ctx context.Context, req exchange.SwapRequest) (*exchange.Receipt, error) {
	args := m.Called(ctx, req)
	return receiptArg(args, 0), args.Error(1)
}

func bigIntArg(args mock.Arguments, i int) *big.Int {
	if v := args.Get(i); v != nil {
		return v.(*big.Int)
	}
	return nil
}

func receiptArg(args mock.Arguments, i int) *exchange.Receipt {
	if v := args.Get(i); v != nil {
		return v.(*exchange.Receipt)
	}
	return nil
}
