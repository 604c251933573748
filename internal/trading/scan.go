package trading

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/exchange"
)

// ScanPositions 遍历观察列表，计算每个代币按当前最优路由全部卖出的浮动盈亏
//
// 单个代币失败不影响其它代币，错误写入对应报告的 Error。
func (t *Trader) ScanPositions(ctx context.Context) []PositionReport {
	tokens := t.watched.List(ctx)
	reports := make([]PositionReport, 0, len(tokens))
	price := t.referencePrice(ctx)

	for _, addr := range tokens {
		report := t.scanToken(ctx, addr, price)
		if report.Error != "" {
			t.logger.Warn("扫描持仓失败", zap.String("token", addr), zap.String("error", report.Error))
		}
		reports = append(reports, report)
	}
	return reports
}

func (t *Trader) scanToken(ctx context.Context, addr string, nativePrice decimal.Decimal) PositionReport {
	report := PositionReport{TokenAddress: addr}
	if !common.IsHexAddress(addr) {
		report.Error = "无效的代币地址"
		return report
	}
	token := common.HexToAddress(addr)

	meta, terr := t.validateToken(ctx, token)
	if terr != nil {
		report.Error = terr.Error()
		return report
	}
	report.TokenSymbol = meta.Symbol

	balance, err := t.client.TokenBalance(ctx, token)
	if err != nil {
		report.Error = classified(StepCheckBalance, err).Error()
		return report
	}
	report.Balance = exchange.FromBaseUnits(balance, meta.Decimals)

	if pos := t.ledger.GetOpenPosition(ctx, addr); pos != nil {
		report.LedgerTokens = pos.TotalTokens
		report.CostBasis = pos.TotalCost
		report.AvgCost = pos.AvgCost
	}
	if balance.Sign() == 0 {
		return report
	}

	best, err := t.quotes.GetBestRoute(ctx, token, balance, false)
	if err != nil {
		report.Error = newTradeError(exchange.KindNoRoute, StepGetBestRoute, err).Error()
		return report
	}
	report.Route = best.Best.Route.String()
	report.CurrentValue = exchange.FromBaseUnits(best.Best.ExpectedOutput, t.config.Chain.NativeDecimals)
	report.FiatValue = report.CurrentValue.Mul(nativePrice)

	if report.CostBasis.IsPositive() {
		report.Unrealized = report.CurrentValue.Sub(report.CostBasis)
		report.UnrealizedPct = report.Unrealized.Mul(decimal.NewFromInt(100)).Div(report.CostBasis)
	}
	return report
}
