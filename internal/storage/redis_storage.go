package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/model"
)

// Redis 键后缀
const (
	keyLedger        = "ledger"
	keyLedgerCorrupt = "ledger:corrupt"
	keyWatchedTokens = "watched_tokens"
	keyLedgerLock    = "ledger:lock"
)

// RedisStorage Redis存储实现：账本是一个 JSON 文档，关注代币是一个 SET
type RedisStorage struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStorage 创建Redis存储
func NewRedisStorage(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (s *RedisStorage) key(suffix string) string {
	return s.keyPrefix + suffix
}

// LockKey 账本锁使用的键
func (s *RedisStorage) LockKey() string {
	return s.key(keyLedgerLock)
}

// Load 读取账本，失败时返回空账本
func (s *RedisStorage) Load(ctx context.Context) *model.Ledger {
	ledger, err := s.load(ctx)
	if err != nil {
		s.logger.Error("读取Redis账本失败，使用空账本", zap.String("key", s.key(keyLedger)), zap.Error(err))
		return model.NewLedger()
	}
	return ledger
}

// LoadForUpdate 读取账本，Redis 读取出错时返回错误
func (s *RedisStorage) LoadForUpdate(ctx context.Context) (*model.Ledger, error) {
	ledger, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取Redis账本失败: %w", err)
	}
	return ledger, nil
}

func (s *RedisStorage) load(ctx context.Context) (*model.Ledger, error) {
	data, err := s.client.Get(ctx, s.key(keyLedger)).Bytes()
	if err != nil {
		if err != redis.Nil {
			return nil, err
		}
		s.logger.Info("Redis账本不存在，初始化空账本", zap.String("key", s.key(keyLedger)))
		return s.initialize(ctx), nil
	}

	ledger := model.NewLedger()
	if err := json.Unmarshal(data, ledger); err != nil {
		s.logger.Error("Redis账本损坏，已备份并重置为空账本",
			zap.String("key", s.key(keyLedger)),
			zap.String("backup", s.key(keyLedgerCorrupt)),
			zap.Error(err))
		if err := s.client.Set(ctx, s.key(keyLedgerCorrupt), data, 0).Err(); err != nil {
			s.logger.Error("备份损坏账本失败", zap.Error(err))
		}
		return s.initialize(ctx), nil
	}
	if ledger.Trades == nil {
		ledger.Trades = []*model.TradeRecord{}
	}

	return ledger, nil
}

func (s *RedisStorage) initialize(ctx context.Context) *model.Ledger {
	ledger := model.NewLedger()
	if err := s.Save(ctx, ledger); err != nil {
		s.logger.Error("初始化Redis账本失败", zap.Error(err))
	}
	return ledger
}

// Save 整体覆盖账本（单个 SET 命令，天然原子）
func (s *RedisStorage) Save(ctx context.Context, ledger *model.Ledger) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("序列化账本失败: %w", err)
	}

	if err := s.client.Set(ctx, s.key(keyLedger), data, 0).Err(); err != nil {
		return fmt.Errorf("保存账本失败: %w", err)
	}
	return nil
}

// RedisWatchedTokenStore 关注代币集合的 Redis 视图
type RedisWatchedTokenStore struct {
	*RedisStorage
}

// WatchedTokens 返回关注代币集合视图
func (s *RedisStorage) WatchedTokens() *RedisWatchedTokenStore {
	return &RedisWatchedTokenStore{RedisStorage: s}
}

// List 返回排序后的代币地址
func (w *RedisWatchedTokenStore) List(ctx context.Context) []string {
	members, err := w.client.SMembers(ctx, w.key(keyWatchedTokens)).Result()
	if err != nil {
		w.logger.Error("读取关注代币失败", zap.Error(err))
		return []string{}
	}
	sort.Strings(members)
	return members
}

// Contains 是否已关注
func (w *RedisWatchedTokenStore) Contains(ctx context.Context, tokenAddress string) bool {
	ok, err := w.client.SIsMember(ctx, w.key(keyWatchedTokens), model.NormalizeAddress(tokenAddress)).Result()
	if err != nil {
		w.logger.Error("查询关注代币失败", zap.Error(err))
		return false
	}
	return ok
}

// Add 加入集合
func (w *RedisWatchedTokenStore) Add(ctx context.Context, tokenAddress string) error {
	if err := w.client.SAdd(ctx, w.key(keyWatchedTokens), model.NormalizeAddress(tokenAddress)).Err(); err != nil {
		return fmt.Errorf("添加关注代币失败: %w", err)
	}
	return nil
}

// Remove 移出集合
func (w *RedisWatchedTokenStore) Remove(ctx context.Context, tokenAddress string) error {
	if err := w.client.SRem(ctx, w.key(keyWatchedTokens), model.NormalizeAddress(tokenAddress)).Err(); err != nil {
		return fmt.Errorf("移除关注代币失败: %w", err)
	}
	return nil
}
