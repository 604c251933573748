package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/dextrader/internal/notify"
)

// MockNotifier 通知通道的模拟实现
type MockNotifier struct {
	mock.Mock
}

// Publish 投递的模拟实现
func (m *MockNotifier) Publish(ctx context.Context, msg notify.Message) (notify.PublishResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(notify.PublishResult), args.Error(1)
}
