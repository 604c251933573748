package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/life2you_mini/dextrader/internal/exchange"
)

// ErrNoRoute 所有候选路由都报价失败
var ErrNoRoute = errors.New("没有可用的交易路由")

// Quote 单个路由的报价结果，Err 非空表示该候选失败
type Quote struct {
	Route          exchange.Route `json:"route"`
	AmountIn       *big.Int       `json:"amount_in"`
	ExpectedOutput *big.Int       `json:"expected_output,omitempty"`
	Err            error          `json:"-"`
}

// Success 报价是否成功
func (q Quote) Success() bool {
	return q.Err == nil && q.ExpectedOutput != nil && q.ExpectedOutput.Sign() > 0
}

// Comparison 最优与最差成功报价的差距
type Comparison struct {
	Improvement string   `json:"improvement"` // 如 "15.79%"，只有一个成功报价时为 "0%"
	Best        *big.Int `json:"best"`
	Worst       *big.Int `json:"worst"`
}

// BestRoute 最优路由选择结果，AllQuotes 只包含成功的候选
type BestRoute struct {
	Best       Quote      `json:"best"`
	AllQuotes  []Quote    `json:"all_quotes"`
	Comparison Comparison `json:"comparison"`
}

// Aggregator 并发询价 V2 与各个 V3 费率档位，按输出数量选最优
type Aggregator struct {
	client   exchange.Client
	feeTiers []int64
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAggregator 创建报价聚合器，timeout 为单个候选的超时
func NewAggregator(client exchange.Client, feeTiers []int64, timeout time.Duration, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		client:   client,
		feeTiers: feeTiers,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "quote_aggregator")),
	}
}

// Candidates 固定顺序的候选路由：V2 在前，V3 按配置的费率档位
func (a *Aggregator) Candidates() []exchange.Route {
	routes := make([]exchange.Route, 0, len(a.feeTiers)+1)
	routes = append(routes, exchange.Route{Version: exchange.RouteV2})
	for _, fee := range a.feeTiers {
		routes = append(routes, exchange.Route{Version: exchange.RouteV3, FeeTier: fee})
	}
	return routes
}

// GetQuote 单个路由询价；失败记录在返回值的 Err 中
//
// 买入方向为 包装原生币 -> 代币，卖出方向相反。
func (a *Aggregator) GetQuote(ctx context.Context, token common.Address, amountIn *big.Int, isBuy bool, route exchange.Route) Quote {
	q := Quote{Route: route, AmountIn: amountIn}
	if amountIn == nil || amountIn.Sign() <= 0 {
		q.Err = errors.New("询价数量必须大于0")
		return q
	}

	tokenIn, tokenOut := a.client.WrappedNative(), token
	if !isBuy {
		tokenIn, tokenOut = token, a.client.WrappedNative()
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	out, err := a.client.Quote(ctx, route, tokenIn, tokenOut, amountIn)
	switch {
	case err != nil:
		q.Err = err
	case out == nil || out.Sign() <= 0:
		q.Err = fmt.Errorf("%s: %w", route, exchange.ErrZeroQuote)
	default:
		q.ExpectedOutput = out
	}
	return q
}

// GetBestRoute 并发询价全部候选，等待全部结束后选择输出最多的路由
//
// 输出相同时保留候选顺序中靠前的路由；单个候选失败不影响其它候选。
func (a *Aggregator) GetBestRoute(ctx context.Context, token common.Address, amountIn *big.Int, isBuy bool) (*BestRoute, error) {
	routes := a.Candidates()
	results := make([]Quote, len(routes))

	var g errgroup.Group
	for i, route := range routes {
		i, route := i, route
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("路由报价异常", zap.String("route", route.String()), zap.Any("panic", r))
					results[i] = Quote{Route: route, AmountIn: amountIn, Err: fmt.Errorf("%s 报价异常: %v", route, r)}
				}
			}()
			results[i] = a.GetQuote(ctx, token, amountIn, isBuy, route)
			return nil
		})
	}
	_ = g.Wait()

	var (
		ok   []Quote
		errs []error
	)
	for _, q := range results {
		if q.Success() {
			ok = append(ok, q)
			continue
		}
		a.logger.Debug("候选路由报价失败", zap.String("route", q.Route.String()), zap.Error(q.Err))
		errs = append(errs, q.Err)
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoRoute, errors.Join(errs...))
	}

	best, worst := ok[0], ok[0]
	for _, q := range ok[1:] {
		if q.ExpectedOutput.Cmp(best.ExpectedOutput) > 0 {
			best = q
		}
		if q.ExpectedOutput.Cmp(worst.ExpectedOutput) < 0 {
			worst = q
		}
	}

	result := &BestRoute{
		Best:      best,
		AllQuotes: ok,
		Comparison: Comparison{
			Improvement: improvement(best.ExpectedOutput, worst.ExpectedOutput, len(ok)),
			Best:        best.ExpectedOutput,
			Worst:       worst.ExpectedOutput,
		},
	}

	a.logger.Info("最优路由",
		zap.String("token", token.Hex()),
		zap.Bool("buy", isBuy),
		zap.String("route", best.Route.String()),
		zap.String("expected_output", best.ExpectedOutput.String()),
		zap.Int("succeeded", len(ok)),
		zap.Int("candidates", len(routes)),
		zap.String("improvement", result.Comparison.Improvement))
	return result, nil
}

// improvement (best - worst) / worst 的百分比
func improvement(best, worst *big.Int, count int) string {
	if count <= 1 || worst.Sign() <= 0 {
		return "0%"
	}
	b := decimal.NewFromBigInt(best, 0)
	w := decimal.NewFromBigInt(worst, 0)
	return b.Sub(w).Div(w).Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
