package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MessageKind 通知类型
type MessageKind string

const (
	KindBuy  MessageKind = "BUY"
	KindSell MessageKind = "SELL"
)

// Message 交易通知内容，Text 为直接展示给用户的文本
type Message struct {
	ID           string      `json:"id"`
	Kind         MessageKind `json:"kind"`
	TokenAddress string      `json:"token_address"`
	TokenSymbol  string      `json:"token_symbol"`
	NativeSymbol string      `json:"native_symbol"`
	NativeAmount string      `json:"native_amount"`
	TokenAmount  string      `json:"token_amount"`
	TxHash       string      `json:"tx_hash"`
	Route        string      `json:"route"`
	Profit       string      `json:"profit,omitempty"`
	ProfitPct    string      `json:"profit_pct,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	Text         string      `json:"text"`
}

// BuyDetails 买入通知参数
type BuyDetails struct {
	TokenAddress string
	TokenSymbol  string
	NativeSymbol string
	NativeSpent  decimal.Decimal
	TokensGot    decimal.Decimal
	TxHash       string
	Route        string
}

// SellDetails 卖出通知参数，Profit 为 nil 表示没有可匹配的买入记录
type SellDetails struct {
	TokenAddress  string
	TokenSymbol   string
	NativeSymbol  string
	TokensSold    decimal.Decimal
	NativeGot     decimal.Decimal
	Profit        *decimal.Decimal
	ProfitPercent *decimal.Decimal
	TxHash        string
	Route         string
}

// BuildBuyMessage 买入成功通知
func BuildBuyMessage(d BuyDetails, now time.Time) Message {
	m := Message{
		ID:           uuid.NewString(),
		Kind:         KindBuy,
		TokenAddress: d.TokenAddress,
		TokenSymbol:  d.TokenSymbol,
		NativeSymbol: d.NativeSymbol,
		NativeAmount: d.NativeSpent.String(),
		TokenAmount:  d.TokensGot.String(),
		TxHash:       d.TxHash,
		Route:        d.Route,
		Timestamp:    now,
	}

	var b strings.Builder
	b.WriteString("✅ 买入成功\n")
	fmt.Fprintf(&b, "代币: %s (%s)\n", d.TokenSymbol, d.TokenAddress)
	fmt.Fprintf(&b, "花费: %s %s\n", d.NativeSpent.String(), d.NativeSymbol)
	fmt.Fprintf(&b, "获得: %s %s\n", d.TokensGot.String(), d.TokenSymbol)
	fmt.Fprintf(&b, "路由: %s\n", d.Route)
	fmt.Fprintf(&b, "交易: %s", d.TxHash)
	m.Text = b.String()
	return m
}

// BuildSellMessage 卖出成功通知
func BuildSellMessage(d SellDetails, now time.Time) Message {
	m := Message{
		ID:           uuid.NewString(),
		Kind:         KindSell,
		TokenAddress: d.TokenAddress,
		TokenSymbol:  d.TokenSymbol,
		NativeSymbol: d.NativeSymbol,
		NativeAmount: d.NativeGot.String(),
		TokenAmount:  d.TokensSold.String(),
		TxHash:       d.TxHash,
		Route:        d.Route,
		Timestamp:    now,
	}

	var b strings.Builder
	b.WriteString("✅ 卖出成功\n")
	fmt.Fprintf(&b, "代币: %s (%s)\n", d.TokenSymbol, d.TokenAddress)
	fmt.Fprintf(&b, "卖出: %s %s\n", d.TokensSold.String(), d.TokenSymbol)
	fmt.Fprintf(&b, "收到: %s %s\n", d.NativeGot.String(), d.NativeSymbol)
	if d.Profit != nil {
		m.Profit = d.Profit.String()
		pct := decimal.Zero
		if d.ProfitPercent != nil {
			pct = *d.ProfitPercent
		}
		m.ProfitPct = pct.StringFixed(2)

		icon := "📈"
		if d.Profit.IsNegative() {
			icon = "📉"
		}
		fmt.Fprintf(&b, "%s 盈亏: %s %s (%s%%)\n", icon, d.Profit.String(), d.NativeSymbol, m.ProfitPct)
	} else {
		b.WriteString("盈亏: 无买入记录\n")
	}
	fmt.Fprintf(&b, "路由: %s\n", d.Route)
	fmt.Fprintf(&b, "交易: %s", d.TxHash)
	m.Text = b.String()
	return m
}
