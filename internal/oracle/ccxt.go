package oracle

import (
	"context"
	"fmt"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CCXTProvider 通过币安现货行情获取原生币价格
type CCXTProvider struct {
	symbol  string
	timeout time.Duration
	logger  *zap.Logger
	fetch   func(symbol string) (ccxt.Ticker, error)
}

// NewCCXTProvider 创建币安行情价格源，只使用公开接口
func NewCCXTProvider(symbol string, timeout time.Duration, logger *zap.Logger) *CCXTProvider {
	binance := ccxt.NewBinance(map[string]interface{}{
		"enableRateLimit": true,
	})
	return &CCXTProvider{
		symbol:  symbol,
		timeout: timeout,
		logger:  logger,
		fetch: func(symbol string) (ccxt.Ticker, error) {
			return binance.FetchTicker(symbol)
		},
	}
}

// Name 价格源名称
func (p *CCXTProvider) Name() string {
	return "binance"
}

// NativePrice 最新成交价
func (p *CCXTProvider) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	type result struct {
		ticker ccxt.Ticker
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := p.fetch(p.symbol)
		ch <- result{t, err}
	}()

	select {
	case <-ctx.Done():
		return decimal.Zero, fmt.Errorf("获取币安价格超时: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			p.logger.Error("获取币安价格失败", zap.String("symbol", p.symbol), zap.Error(r.err))
			return decimal.Zero, fmt.Errorf("获取币安价格失败: %w", r.err)
		}
		if r.ticker.Last == nil {
			return decimal.Zero, fmt.Errorf("价格数据格式错误")
		}
		return decimal.NewFromFloat(*r.ticker.Last), nil
	}
}
