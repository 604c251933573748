package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/model"
	"github.com/life2you_mini/dextrader/internal/storage"
)

var (
	// ErrNoOpenLots 没有可匹配的买入批次，无法计算成本
	ErrNoOpenLots = errors.New("没有持有中的买入记录")
	// ErrPersistence 账本保存失败（链上交易本身不受影响）
	ErrPersistence = errors.New("账本持久化失败")
)

var hundred = decimal.NewFromInt(100)

// BuyFill 一次已确认的买入成交
type BuyFill struct {
	TokenAddress   string
	TokenSymbol    string
	NativeAmount   decimal.Decimal
	TokenAmount    decimal.Decimal
	ReferencePrice decimal.Decimal
	GasCost        decimal.Decimal
	TxHash         string
	Route          string
}

// SellFill 一次已确认的卖出成交
type SellFill struct {
	TokenAddress   string
	TokenSymbol    string
	TokenAmount    decimal.Decimal
	NativeReceived decimal.Decimal
	ReferencePrice decimal.Decimal
	GasCost        decimal.Decimal
	TxHash         string
	Route          string
}

// SellOutcome 卖出的已实现盈亏
type SellOutcome struct {
	RecordID         string          `json:"record_id"`
	Profit           decimal.Decimal `json:"profit"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`
	TotalCostBasis   decimal.Decimal `json:"total_cost_basis"`
	Revenue          decimal.Decimal `json:"revenue"`
	LotsConsumed     int             `json:"lots_consumed"`
	Unallocated      decimal.Decimal `json:"unallocated"` // 超出持有批次、未参与成本计算的数量
}

// OpenPosition 某代币当前持仓
type OpenPosition struct {
	TokenAddress string          `json:"token_address"`
	TokenSymbol  string          `json:"token_symbol"`
	TotalTokens  decimal.Decimal `json:"total_tokens"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	LotCount     int             `json:"lot_count"`
}

// Statistics 账本统计
type Statistics struct {
	TotalTrades  int             `json:"total_trades"`
	BuyCount     int             `json:"buy_count"`
	SellCount    int             `json:"sell_count"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	TotalLoss    decimal.Decimal `json:"total_loss"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	WinRate      decimal.Decimal `json:"win_rate"`
	OpenLotCount int             `json:"open_lot_count"`
}

// PositionManager 负责FIFO成本核算与账本读写
//
// 每次变更都是对整个账本的 读-改-写，进程内由 mu 串行化；
// 配置了 locker（Redis）时同时持有跨进程锁。
type PositionManager struct {
	logger *zap.Logger
	store  storage.LedgerStore
	locker storage.Locker
	mu     sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewPositionManager 创建持仓管理器，locker 可为 nil
func NewPositionManager(logger *zap.Logger, store storage.LedgerStore, locker storage.Locker) *PositionManager {
	return &PositionManager{
		logger: logger,
		store:  store,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  generateID,
	}
}

// RecordBuy 追加一个 HOLDING 买入批次，返回记录ID
func (pm *PositionManager) RecordBuy(ctx context.Context, fill BuyFill) (string, error) {
	token := model.NormalizeAddress(fill.TokenAddress)
	rec := &model.TradeRecord{
		ID:                  pm.newID(),
		Kind:                model.TradeKindBuy,
		TokenAddress:        token,
		TokenSymbol:         fill.TokenSymbol,
		NativeAmount:        fill.NativeAmount,
		TokenAmount:         fill.TokenAmount,
		ReferencePrice:      fill.ReferencePrice,
		GasCost:             fill.GasCost,
		Timestamp:           pm.now(),
		TxHash:              fill.TxHash,
		Route:               fill.Route,
		Status:              model.LotStatusHolding,
		InitialTokenAmount:  decimalPtr(fill.TokenAmount),
		InitialNativeAmount: decimalPtr(fill.NativeAmount),
		InitialGasCost:      decimalPtr(fill.GasCost),
	}

	err := pm.mutate(ctx, func(ledger *model.Ledger) error {
		ledger.Append(rec)
		return nil
	})
	if err != nil {
		return "", err
	}

	pm.logger.Info("记录买入",
		zap.String("id", rec.ID),
		zap.String("token", token),
		zap.String("symbol", fill.TokenSymbol),
		zap.String("native_amount", fill.NativeAmount.String()),
		zap.String("token_amount", fill.TokenAmount.String()),
		zap.String("tx_hash", fill.TxHash))

	return rec.ID, nil
}

// RecordSell 按FIFO消耗买入批次并追加卖出记录
//
// 没有持有批次时返回 ErrNoOpenLots，账本不变。
// 超出持有批次的数量不会被超卖，只在 SellOutcome.Unallocated 中体现。
func (pm *PositionManager) RecordSell(ctx context.Context, fill SellFill) (*SellOutcome, error) {
	token := model.NormalizeAddress(fill.TokenAddress)
	var outcome *SellOutcome

	err := pm.mutate(ctx, func(ledger *model.Ledger) error {
		lots := ledger.OpenLots(token)
		if len(lots) == 0 {
			return ErrNoOpenLots
		}

		fragments, remaining := consumeLots(lots, fill.TokenAmount)
		totalCost := decimal.Zero
		for _, f := range fragments {
			totalCost = totalCost.Add(f.CostConsumed)
		}

		profit := fill.NativeReceived.Sub(totalCost)
		profitPct := decimal.Zero
		if !totalCost.IsZero() {
			profitPct = profit.Mul(hundred).Div(totalCost)
		}

		rec := &model.TradeRecord{
			ID:               pm.newID(),
			Kind:             model.TradeKindSell,
			TokenAddress:     token,
			TokenSymbol:      fill.TokenSymbol,
			NativeAmount:     fill.NativeReceived,
			TokenAmount:      fill.TokenAmount,
			ReferencePrice:   fill.ReferencePrice,
			GasCost:          fill.GasCost,
			Timestamp:        pm.now(),
			TxHash:           fill.TxHash,
			Route:            fill.Route,
			TotalCostBasis:   decimalPtr(totalCost),
			Profit:           decimalPtr(profit),
			ProfitPercentage: decimalPtr(profitPct),
			ConsumedLots:     fragments,
		}
		ledger.Append(rec)

		outcome = &SellOutcome{
			RecordID:         rec.ID,
			Profit:           profit,
			ProfitPercentage: profitPct,
			TotalCostBasis:   totalCost,
			Revenue:          fill.NativeReceived,
			LotsConsumed:     len(fragments),
			Unallocated:      remaining,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoOpenLots) {
			pm.logger.Warn("卖出未找到持有中的买入记录，不记录盈亏",
				zap.String("token", token),
				zap.String("tx_hash", fill.TxHash))
		}
		return nil, err
	}

	if outcome.Unallocated.IsPositive() {
		pm.logger.Warn("卖出数量超过账本持有数量，超出部分未计入成本",
			zap.String("token", token),
			zap.String("unallocated", outcome.Unallocated.String()))
	}
	pm.logger.Info("记录卖出",
		zap.String("id", outcome.RecordID),
		zap.String("token", token),
		zap.String("cost_basis", outcome.TotalCostBasis.String()),
		zap.String("revenue", outcome.Revenue.String()),
		zap.String("profit", outcome.Profit.String()),
		zap.String("profit_pct", outcome.ProfitPercentage.StringFixed(2)))

	return outcome, nil
}

// consumeLots 从最早的批次开始消耗 amount，原地缩减批次
//
// 部分消耗时成本与gas按 消耗数量/批次数量 等比例分摊；完全消耗时取批次剩余全部成本，
// 保证多次卖出的成本之和与原始买入成本一致。
func consumeLots(lots []*model.TradeRecord, amount decimal.Decimal) ([]model.ConsumedLot, decimal.Decimal) {
	remaining := amount
	fragments := make([]model.ConsumedLot, 0, len(lots))

	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		if !lot.TokenAmount.IsPositive() {
			lot.Status = model.LotStatusSold
			continue
		}

		var consumed, cost, gas decimal.Decimal
		if remaining.GreaterThanOrEqual(lot.TokenAmount) {
			consumed, cost, gas = lot.TokenAmount, lot.NativeAmount, lot.GasCost
			lot.TokenAmount = decimal.Zero
			lot.NativeAmount = decimal.Zero
			lot.GasCost = decimal.Zero
			lot.Status = model.LotStatusSold
		} else {
			consumed = remaining
			cost = decimal.Min(lot.NativeAmount.Mul(consumed).Div(lot.TokenAmount), lot.NativeAmount)
			gas = decimal.Min(lot.GasCost.Mul(consumed).Div(lot.TokenAmount), lot.GasCost)
			lot.TokenAmount = lot.TokenAmount.Sub(consumed)
			lot.NativeAmount = lot.NativeAmount.Sub(cost)
			lot.GasCost = lot.GasCost.Sub(gas)
		}

		fragments = append(fragments, model.ConsumedLot{
			SourceBuyID:    lot.ID,
			TokensConsumed: consumed,
			CostConsumed:   cost,
			GasConsumed:    gas,
		})
		remaining = remaining.Sub(consumed)
	}

	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return fragments, remaining
}

// GetOpenPosition 汇总代币的持有批次，没有持仓时返回 nil
func (pm *PositionManager) GetOpenPosition(ctx context.Context, tokenAddress string) *OpenPosition {
	ledger := pm.store.Load(ctx)
	lots := ledger.OpenLots(tokenAddress)
	if len(lots) == 0 {
		return nil
	}

	pos := &OpenPosition{
		TokenAddress: model.NormalizeAddress(tokenAddress),
		TokenSymbol:  lots[len(lots)-1].TokenSymbol,
		TotalTokens:  decimal.Zero,
		TotalCost:    decimal.Zero,
		AvgCost:      decimal.Zero,
		LotCount:     len(lots),
	}
	for _, lot := range lots {
		pos.TotalTokens = pos.TotalTokens.Add(lot.TokenAmount)
		pos.TotalCost = pos.TotalCost.Add(lot.NativeAmount)
	}
	if pos.TotalTokens.IsPositive() {
		pos.AvgCost = pos.TotalCost.Div(pos.TotalTokens)
	}
	return pos
}

// GetStatistics 账本统计
func (pm *PositionManager) GetStatistics(ctx context.Context) Statistics {
	ledger := pm.store.Load(ctx)

	stats := Statistics{
		TotalTrades:  len(ledger.Trades),
		TotalProfit:  ledger.Summary.TotalProfit,
		TotalLoss:    ledger.Summary.TotalLoss,
		NetProfit:    ledger.Summary.TotalProfit.Sub(ledger.Summary.TotalLoss),
		WinRate:      ledger.Summary.WinRate,
		OpenLotCount: ledger.OpenLotCount(),
	}
	for _, t := range ledger.Trades {
		switch t.Kind {
		case model.TradeKindBuy:
			stats.BuyCount++
		case model.TradeKindSell:
			stats.SellCount++
		}
	}
	return stats
}

// TradeHistory 最近的交易记录（新的在前），tokenAddress 为空表示全部
func (pm *PositionManager) TradeHistory(ctx context.Context, limit int, tokenAddress string) []*model.TradeRecord {
	ledger := pm.store.Load(ctx)
	token := model.NormalizeAddress(tokenAddress)

	out := make([]*model.TradeRecord, 0)
	for _, t := range ledger.Trades {
		if token == "" || t.TokenAddress == token {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// mutate 串行执行账本的 读-改-写；fn 返回错误时不保存
func (pm *PositionManager) mutate(ctx context.Context, fn func(*model.Ledger) error) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.locker != nil {
		unlock, err := pm.locker.Lock(ctx)
		if err != nil {
			pm.logger.Error("获取账本锁失败，本次交易未记账", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		defer unlock()
	}

	ledger, err := pm.store.LoadForUpdate(ctx)
	if err != nil {
		pm.logger.Error("读取账本失败，本次交易未记账", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := fn(ledger); err != nil {
		return err
	}

	if err := pm.store.Save(ctx, ledger); err != nil {
		pm.logger.Error("保存账本失败，需要人工对账", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// generateID 基于时间的有序唯一ID
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
