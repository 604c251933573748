package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/dextrader/internal/accounting"
)

// MockPositionManager 持仓管理器的模拟实现
type MockPositionManager struct {
	mock.Mock
}

// RecordBuy 记录买入的模拟实现
func (m *MockPositionManager) RecordBuy(ctx context.Context, fill accounting.BuyFill) (string, error) {
	args := m.Called(ctx, fill)
	return args.String(0), args.Error(1)
}

// RecordSell 记录卖出的模拟实现
func (m *MockPositionManager) RecordSell(ctx context.Context, fill accounting.SellFill) (*accounting.SellOutcome, error) {
	args := m.Called(ctx, fill)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.SellOutcome), args.Error(1)
}

// GetOpenPosition 获取持仓的模拟实现
func (m *MockPositionManager) GetOpenPosition(ctx context.Context, tokenAddress string) *accounting.OpenPosition {
	args := m.Called(ctx, tokenAddress)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*accounting.OpenPosition)
}
