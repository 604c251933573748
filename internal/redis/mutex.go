package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockRetryInterval = 50 * time.Millisecond

// Mutex 基于 SETNX 的跨进程互斥锁，用于保护账本的读-改-写
type Mutex struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewMutex 创建分布式互斥锁
func NewMutex(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *Mutex {
	return &Mutex{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// Lock 阻塞直到获得锁或ctx结束，返回释放函数
func (m *Mutex) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := CreateLock(ctx, m.client, m.key, token, m.ttl)
		if err != nil {
			return nil, fmt.Errorf("获取账本锁失败: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待账本锁超时: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// 使用独立上下文，调用方的ctx可能已取消
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		released, err := ReleaseLock(releaseCtx, m.client, m.key, token)
		if err != nil {
			m.logger.Error("释放账本锁失败", zap.String("key", m.key), zap.Error(err))
			return
		}
		if !released {
			m.logger.Warn("账本锁已过期或被他人持有", zap.String("key", m.key))
		}
	}, nil
}
