package storage

import (
	"context"
	"errors"

	"github.com/life2you_mini/dextrader/internal/model"
)

// 存储类型常量
const (
	StorageTypeFile  = "file"
	StorageTypeRedis = "redis"
)

// ErrUnknownStorage 配置了不支持的存储类型
var ErrUnknownStorage = errors.New("不支持的存储类型")

// LedgerStore 账本存储
//
// Load 永不失败：缺失或损坏时返回空账本（并尽量把空账本写回），错误只记录日志。
// LoadForUpdate 供 读-改-写 使用：缺失或损坏同 Load，但读取本身出错时返回错误，
// 调用方不得在此基础上 Save，否则会覆盖真实账本。
// Save 整体覆盖，同进程内后续 Load 不会看到写了一半的内容。
type LedgerStore interface {
	Load(ctx context.Context) *model.Ledger
	LoadForUpdate(ctx context.Context) (*model.Ledger, error)
	Save(ctx context.Context, ledger *model.Ledger) error
}

// WatchedTokenStore 曾经交易过的代币地址集合（小写规范化）
type WatchedTokenStore interface {
	List(ctx context.Context) []string
	Contains(ctx context.Context, tokenAddress string) bool
	Add(ctx context.Context, tokenAddress string) error
	Remove(ctx context.Context, tokenAddress string) error
}

// Locker 账本变更的互斥
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}
