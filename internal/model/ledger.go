package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind 交易方向
type TradeKind string

const (
	TradeKindBuy  TradeKind = "BUY"
	TradeKindSell TradeKind = "SELL"
)

// LotStatus 买入批次状态（仅 BUY 记录使用）
type LotStatus string

const (
	LotStatusHolding LotStatus = "HOLDING"
	LotStatusSold    LotStatus = "SOLD"
)

// ConsumedLot 卖出时从某个买入批次消耗的部分
type ConsumedLot struct {
	SourceBuyID    string          `json:"source_buy_id"`
	TokensConsumed decimal.Decimal `json:"tokens_consumed"`
	CostConsumed   decimal.Decimal `json:"cost_consumed"`
	GasConsumed    decimal.Decimal `json:"gas_consumed"`
}

// TradeRecord 交易记录
//
// BUY 记录在被卖出消耗时会原地缩减 TokenAmount/NativeAmount/GasCost，
// 完全消耗后状态变为 SOLD 且剩余数量为 0。记录从不删除。
type TradeRecord struct {
	ID             string          `json:"id"`
	Kind           TradeKind       `json:"kind"`
	TokenAddress   string          `json:"token_address"` // 小写规范化
	TokenSymbol    string          `json:"token_symbol"`
	NativeAmount   decimal.Decimal `json:"native_amount"` // BUY 花费 / SELL 收到的原生币
	TokenAmount    decimal.Decimal `json:"token_amount"`  // BUY 收到 / SELL 卖出的代币
	ReferencePrice decimal.Decimal `json:"reference_price"`
	GasCost        decimal.Decimal `json:"gas_cost"`
	Timestamp      time.Time       `json:"timestamp"`
	TxHash         string          `json:"tx_hash"`
	Route          string          `json:"route,omitempty"`

	// BUY 专用
	Status              LotStatus        `json:"status,omitempty"`
	InitialTokenAmount  *decimal.Decimal `json:"initial_token_amount,omitempty"`
	InitialNativeAmount *decimal.Decimal `json:"initial_native_amount,omitempty"`
	InitialGasCost      *decimal.Decimal `json:"initial_gas_cost,omitempty"`

	// SELL 专用
	TotalCostBasis   *decimal.Decimal `json:"total_cost_basis,omitempty"`
	Profit           *decimal.Decimal `json:"profit,omitempty"`
	ProfitPercentage *decimal.Decimal `json:"profit_percentage,omitempty"`
	ConsumedLots     []ConsumedLot    `json:"consumed_lots,omitempty"`
}

// IsOpenLot 是否为仍在持有的买入批次
func (r *TradeRecord) IsOpenLot() bool {
	return r.Kind == TradeKindBuy && r.Status == LotStatusHolding
}

// LedgerSummary 账本汇总
type LedgerSummary struct {
	TotalTrades int             `json:"total_trades"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	TotalLoss   decimal.Decimal `json:"total_loss"`
	WinRate     decimal.Decimal `json:"win_rate"` // 百分比
}

// Ledger 账本：有序交易记录 + 汇总，作为一个整体持久化
type Ledger struct {
	Trades  []*TradeRecord `json:"trades"`
	Summary LedgerSummary  `json:"summary"`

	lots *lotIndex
}

// NewLedger 创建空账本
func NewLedger() *Ledger {
	return &Ledger{
		Trades: []*TradeRecord{},
		Summary: LedgerSummary{
			TotalProfit: decimal.Zero,
			TotalLoss:   decimal.Zero,
			WinRate:     decimal.Zero,
		},
	}
}

// NormalizeAddress 返回地址的规范形式（小写、去空白）
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Append 追加一条记录并增量更新汇总
func (l *Ledger) Append(rec *TradeRecord) {
	// 先按已有记录建好索引，再追加，否则新批次会被计入两次
	idx := l.index()
	l.Trades = append(l.Trades, rec)
	if rec.IsOpenLot() {
		idx.add(rec)
	}

	l.Summary.TotalTrades++
	if rec.Kind != TradeKindSell || rec.Profit == nil {
		return
	}
	switch {
	case rec.Profit.IsPositive():
		l.Summary.TotalProfit = l.Summary.TotalProfit.Add(*rec.Profit)
	case rec.Profit.IsNegative():
		l.Summary.TotalLoss = l.Summary.TotalLoss.Add(rec.Profit.Abs())
	}
	l.Summary.WinRate = l.winRate()
}

// winRate 盈利卖单占全部卖单的百分比，没有卖单时为 0
func (l *Ledger) winRate() decimal.Decimal {
	sells, wins := 0, 0
	for _, t := range l.Trades {
		if t.Kind != TradeKindSell {
			continue
		}
		sells++
		if t.Profit != nil && t.Profit.IsPositive() {
			wins++
		}
	}
	if sells == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(wins * 100)).Div(decimal.NewFromInt(int64(sells)))
}

// OpenLots 返回指定代币仍在持有的买入批次，按时间升序（FIFO）
func (l *Ledger) OpenLots(tokenAddress string) []*TradeRecord {
	return l.index().open(NormalizeAddress(tokenAddress))
}

// OpenLotCount 全部代币的持有批次数量
func (l *Ledger) OpenLotCount() int {
	n := 0
	for _, t := range l.Trades {
		if t.IsOpenLot() {
			n++
		}
	}
	return n
}

func (l *Ledger) index() *lotIndex {
	if l.lots == nil {
		l.lots = buildLotIndex(l.Trades)
	}
	return l.lots
}
