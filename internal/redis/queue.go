package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 队列名称
const (
	QueueNotifications = "notifications"

	failedSuffix = ":failed"
)

// QueueService 基于 LIST 的 JSON 队列：LPUSH 入队，BRPOP 出队（先进先出）
//
// 投递失败的原始数据进入 <queue>:failed，由人工检查后再用 Requeue 放回。
type QueueService struct {
	client    *redis.Client
	keyPrefix string
}

// NewQueueService 创建队列服务
func NewQueueService(client *redis.Client, keyPrefix string) *QueueService {
	return &QueueService{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (q *QueueService) key(queue string) string {
	return q.keyPrefix + queue
}

// Push 序列化后入队
func (q *QueueService) Push(ctx context.Context, queue string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化队列数据失败: %w", err)
	}
	return q.client.LPush(ctx, q.key(queue), data).Err()
}

// Pop 阻塞出队，超时返回 nil, nil
func (q *QueueService) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("队列返回了意外的数据: %v", result)
	}
	return []byte(result[1]), nil
}

// Len 队列长度
func (q *QueueService) Len(ctx context.Context, queue string) (int64, error) {
	return q.client.LLen(ctx, q.key(queue)).Result()
}

// MarkFailed 把投递失败的原始数据放入失败列表
func (q *QueueService) MarkFailed(ctx context.Context, queue string, data []byte) error {
	return q.client.LPush(ctx, q.key(queue)+failedSuffix, data).Err()
}

// FailedLen 失败列表长度
func (q *QueueService) FailedLen(ctx context.Context, queue string) (int64, error) {
	return q.client.LLen(ctx, q.key(queue)+failedSuffix).Result()
}

// Requeue 把失败列表中的数据全部移回队列，返回移动的条数
func (q *QueueService) Requeue(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.key(queue)+failedSuffix, q.key(queue), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("移回失败通知出错: %w", err)
		}
		moved++
	}
}
