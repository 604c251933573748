package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const httpRetryWait = 500 * time.Millisecond

// HTTPProvider CoinGecko 风格的 simple/price 接口
type HTTPProvider struct {
	client *resty.Client
	coinID string
	logger *zap.Logger
}

// NewHTTPProvider 创建HTTP价格源
func NewHTTPProvider(baseURL, coinID string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(httpRetryWait).
		SetHeader("Accept", "application/json")

	return &HTTPProvider{
		client: client,
		coinID: coinID,
		logger: logger,
	}
}

// Name 价格源名称
func (p *HTTPProvider) Name() string {
	return "http"
}

// NativePrice 以美元计价
func (p *HTTPProvider) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	var body map[string]map[string]float64
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":           p.coinID,
			"vs_currencies": "usd",
		}).
		SetResult(&body).
		Get("/simple/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("请求价格接口失败: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("价格接口返回状态 %d", resp.StatusCode())
	}

	price, ok := body[p.coinID]["usd"]
	if !ok || price <= 0 {
		p.logger.Warn("价格接口响应缺少价格", zap.String("coin", p.coinID), zap.String("body", resp.String()))
		return decimal.Zero, fmt.Errorf("价格接口响应缺少 %s", p.coinID)
	}
	return decimal.NewFromFloat(price), nil
}
