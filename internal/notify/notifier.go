package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	_redisClient "github.com/life2you_mini/dextrader/internal/redis"
)

// PublishResult 投递结果
type PublishResult struct {
	ID string `json:"id"`
}

// Notifier 通知投递
type Notifier interface {
	Publish(ctx context.Context, msg Message) (PublishResult, error)
}

// Nop 不投递任何通知
type Nop struct{}

// Publish 直接返回消息ID
func (Nop) Publish(ctx context.Context, msg Message) (PublishResult, error) {
	return PublishResult{ID: msg.ID}, nil
}

// QueueNotifier 把通知推入Redis队列，由 notify-worker 进程投递
type QueueNotifier struct {
	queue *_redisClient.QueueService
}

// NewQueueNotifier 创建队列通知
func NewQueueNotifier(queue *_redisClient.QueueService) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// Publish 入队
func (q *QueueNotifier) Publish(ctx context.Context, msg Message) (PublishResult, error) {
	if err := q.queue.Push(ctx, _redisClient.QueueNotifications, msg); err != nil {
		return PublishResult{}, fmt.Errorf("通知入队失败: %w", err)
	}
	return PublishResult{ID: msg.ID}, nil
}

// Multi 按顺序尝试多个通道，第一个成功即停止
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMulti 组合多个通知通道；没有通道时退化为 Nop
func NewMulti(logger *zap.Logger, notifiers ...Notifier) Notifier {
	switch len(notifiers) {
	case 0:
		return Nop{}
	case 1:
		return notifiers[0]
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

// Publish 依次投递，全部失败时返回合并后的错误
func (m *Multi) Publish(ctx context.Context, msg Message) (PublishResult, error) {
	var errs []error
	for _, n := range m.notifiers {
		r, err := n.Publish(ctx, msg)
		if err != nil {
			m.logger.Warn("通知通道投递失败，尝试下一个", zap.String("message_id", msg.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		return r, nil
	}
	return PublishResult{}, errors.Join(errs...)
}
