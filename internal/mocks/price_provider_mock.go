package mocks

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockPriceProvider 参考价格源的模拟实现
type MockPriceProvider struct {
	mock.Mock
}

// Name 名称的模拟实现
func (m *MockPriceProvider) Name() string {
	return "mock"
}

// NativePrice 原生币价格的模拟实现
func (m *MockPriceProvider) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}
