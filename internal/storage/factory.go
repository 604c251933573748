package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/config"
	_redisClient "github.com/life2you_mini/dextrader/internal/redis"
)

// Stores 根据配置创建的一组存储
type Stores struct {
	Ledger  LedgerStore
	Watched WatchedTokenStore
	Locker  Locker        // 文件存储时为 nil，只依赖进程内互斥
	Redis   *redis.Client // 未使用Redis时为 nil
}

// NewStores 按 storage.backend 创建存储实现
func NewStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	logger = logger.With(zap.String("component", "storage"))

	var client *redis.Client
	if cfg.Storage.Backend == StorageTypeRedis || cfg.Notification.Queue.Enabled {
		c, err := _redisClient.NewRedisClient(ctx, _redisClient.ClientOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化Redis客户端失败: %w", err)
		}
		client = c
	}

	switch cfg.Storage.Backend {
	case StorageTypeFile:
		logger.Info("使用文件账本存储",
			zap.String("ledger_file", cfg.Storage.LedgerFile),
			zap.String("watched_file", cfg.Storage.WatchedFile))
		return &Stores{
			Ledger:  NewFileLedgerStore(cfg.Storage.LedgerFile, logger),
			Watched: NewFileWatchedTokenStore(cfg.Storage.WatchedFile, logger),
			Redis:   client,
		}, nil

	case StorageTypeRedis:
		rs := NewRedisStorage(client, cfg.Redis.KeyPrefix, logger)
		ttl := time.Duration(cfg.Storage.LockTTLSeconds) * time.Second
		logger.Info("使用Redis账本存储", zap.String("key_prefix", cfg.Redis.KeyPrefix))
		return &Stores{
			Ledger:  rs,
			Watched: rs.WatchedTokens(),
			Locker:  _redisClient.NewMutex(client, rs.LockKey(), ttl, logger),
			Redis:   client,
		}, nil

	default:
		if client != nil {
			client.Close()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownStorage, cfg.Storage.Backend)
	}
}

// Close 释放底层连接
func (s *Stores) Close() error {
	if s.Redis != nil {
		return s.Redis.Close()
	}
	return nil
}
