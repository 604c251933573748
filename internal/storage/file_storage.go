package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/model"
)

// FileLedgerStore 基于 JSON 文件的账本存储
type FileLedgerStore struct {
	path   string
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewFileLedgerStore 创建文件账本存储
func NewFileLedgerStore(path string, logger *zap.Logger) *FileLedgerStore {
	return &FileLedgerStore{
		path:   path,
		logger: logger,
	}
}

// Load 读取账本，失败时返回空账本
func (s *FileLedgerStore) Load(ctx context.Context) *model.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.load()
	if err != nil {
		s.logger.Error("读取账本文件失败，使用空账本", zap.String("path", s.path), zap.Error(err))
		return model.NewLedger()
	}
	return ledger
}

// LoadForUpdate 读取账本，读取出错时返回错误
func (s *FileLedgerStore) LoadForUpdate(ctx context.Context) (*model.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("读取账本文件失败: %w", err)
	}
	return ledger, nil
}

// load 调用方持有锁
func (s *FileLedgerStore) load() (*model.Ledger, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		s.logger.Info("账本文件不存在，初始化空账本", zap.String("path", s.path))
		return s.initialize(), nil
	}

	ledger := model.NewLedger()
	if err := json.Unmarshal(data, ledger); err != nil {
		backup := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		s.logger.Error("账本文件损坏，已备份并重置为空账本",
			zap.String("path", s.path),
			zap.String("backup", backup),
			zap.Error(err))
		if err := os.Rename(s.path, backup); err != nil {
			s.logger.Error("备份损坏账本失败", zap.String("path", s.path), zap.Error(err))
		}
		return s.initialize(), nil
	}
	if ledger.Trades == nil {
		ledger.Trades = []*model.TradeRecord{}
	}

	return ledger, nil
}

// initialize 写入空账本，调用方持有锁
func (s *FileLedgerStore) initialize() *model.Ledger {
	ledger := model.NewLedger()
	if err := writeJSONAtomic(s.path, ledger); err != nil {
		s.logger.Error("初始化账本文件失败", zap.String("path", s.path), zap.Error(err))
	}
	return ledger
}

// Save 原子写入账本
func (s *FileLedgerStore) Save(ctx context.Context, ledger *model.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSONAtomic(s.path, ledger); err != nil {
		return fmt.Errorf("保存账本失败: %w", err)
	}
	return nil
}

// watchedDocument 关注代币文件格式
type watchedDocument struct {
	Tokens []string `json:"tokens"`
}

// FileWatchedTokenStore 基于 JSON 文件的关注代币集合
type FileWatchedTokenStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileWatchedTokenStore 创建文件关注代币存储
func NewFileWatchedTokenStore(path string, logger *zap.Logger) *FileWatchedTokenStore {
	return &FileWatchedTokenStore{
		path:   path,
		logger: logger,
	}
}

// List 返回排序后的代币地址，读取失败返回空集合
func (s *FileWatchedTokenStore) List(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return setToSlice(s.read())
}

// Contains 是否已关注
func (s *FileWatchedTokenStore) Contains(ctx context.Context, tokenAddress string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.read()[model.NormalizeAddress(tokenAddress)]
	return ok
}

// Add 加入集合
func (s *FileWatchedTokenStore) Add(ctx context.Context, tokenAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.read()
	key := model.NormalizeAddress(tokenAddress)
	if _, ok := set[key]; ok {
		return nil
	}
	set[key] = struct{}{}
	return s.write(set)
}

// Remove 移出集合
func (s *FileWatchedTokenStore) Remove(ctx context.Context, tokenAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.read()
	key := model.NormalizeAddress(tokenAddress)
	if _, ok := set[key]; !ok {
		return nil
	}
	delete(set, key)
	return s.write(set)
}

func (s *FileWatchedTokenStore) read() map[string]struct{} {
	set := make(map[string]struct{})

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("读取关注代币文件失败", zap.String("path", s.path), zap.Error(err))
		}
		return set
	}

	var doc watchedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error("关注代币文件损坏，按空集合处理", zap.String("path", s.path), zap.Error(err))
		return set
	}
	for _, t := range doc.Tokens {
		set[model.NormalizeAddress(t)] = struct{}{}
	}
	return set
}

func (s *FileWatchedTokenStore) write(set map[string]struct{}) error {
	if err := writeJSONAtomic(s.path, watchedDocument{Tokens: setToSlice(set)}); err != nil {
		return fmt.Errorf("保存关注代币失败: %w", err)
	}
	return nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// writeJSONAtomic 先写临时文件再重命名
func writeJSONAtomic(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
