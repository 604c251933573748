package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/config"
)

// ErrNoPrice 所有价格源都不可用
var ErrNoPrice = errors.New("无法获取参考价格")

// Provider 原生币的法币参考价格
type Provider interface {
	Name() string
	NativePrice(ctx context.Context) (decimal.Decimal, error)
}

// FallbackProvider 依次尝试多个价格源，并缓存最近一次成功的价格
type FallbackProvider struct {
	providers []Provider
	ttl       time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	cached   decimal.Decimal
	cachedAt time.Time
	now      func() time.Time
}

// NewFallbackProvider 创建带缓存的价格源链
func NewFallbackProvider(logger *zap.Logger, ttl time.Duration, providers ...Provider) *FallbackProvider {
	return &FallbackProvider{
		providers: providers,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "price_oracle")),
		now:       time.Now,
	}
}

// Name 价格源名称
func (f *FallbackProvider) Name() string {
	return "fallback"
}

// NativePrice 返回第一个成功的价格源的价格
func (f *FallbackProvider) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	if !f.cachedAt.IsZero() && f.now().Sub(f.cachedAt) < f.ttl {
		price := f.cached
		f.mu.Unlock()
		return price, nil
	}
	f.mu.Unlock()

	var errs []error
	for _, p := range f.providers {
		price, err := p.NativePrice(ctx)
		if err == nil && price.IsPositive() {
			f.mu.Lock()
			f.cached, f.cachedAt = price, f.now()
			f.mu.Unlock()
			return price, nil
		}
		if err == nil {
			err = fmt.Errorf("%s 返回无效价格 %s", p.Name(), price)
		}
		f.logger.Warn("价格源不可用，尝试下一个", zap.String("provider", p.Name()), zap.Error(err))
		errs = append(errs, err)
	}
	return decimal.Zero, fmt.Errorf("%w: %w", ErrNoPrice, errors.Join(errs...))
}

// NewFromConfig 按配置组装：交易所行情优先，HTTP 兜底
func NewFromConfig(cfg config.OracleConfig, logger *zap.Logger) *FallbackProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var providers []Provider
	if cfg.Exchange != "" {
		providers = append(providers, NewCCXTProvider(cfg.Symbol, timeout, logger))
	}
	if cfg.FallbackURL != "" {
		providers = append(providers, NewHTTPProvider(cfg.FallbackURL, cfg.FallbackCoinID, timeout, logger))
	}
	return NewFallbackProvider(logger, 30*time.Second, providers...)
}
