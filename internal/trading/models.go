package trading

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/dextrader/internal/exchange"
)

// TradeSide 交易方向
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeStep 交易状态机的步骤
type TradeStep string

const (
	StepValidateInput    TradeStep = "VALIDATE_INPUT"
	StepValidateToken    TradeStep = "VALIDATE_TOKEN"
	StepCheckBalance     TradeStep = "CHECK_BALANCE"
	StepGetBestRoute     TradeStep = "GET_BEST_ROUTE"
	StepComputeMinOutput TradeStep = "COMPUTE_MIN_OUTPUT"
	StepAuthorize        TradeStep = "AUTHORIZE"
	StepSubmitSwap       TradeStep = "SUBMIT_SWAP"
	StepRecordLedger     TradeStep = "RECORD_LEDGER"
	StepNotify           TradeStep = "EMIT_NOTIFICATION"
	StepDone             TradeStep = "DONE"
)

// TradeError 交易失败，Kind 决定展示给用户的分类文案
type TradeError struct {
	Kind   exchange.ErrorKind `json:"kind"`
	Step   TradeStep          `json:"step"`
	Detail string             `json:"detail"`
	Err    error              `json:"-"`
}

func (e *TradeError) Error() string {
	if e.Detail == "" {
		return e.Kind.Message()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Message(), e.Detail)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

func newTradeError(kind exchange.ErrorKind, step TradeStep, err error) *TradeError {
	te := &TradeError{Kind: kind, Step: step, Err: err}
	if err != nil {
		te.Detail = err.Error()
	}
	return te
}

// TradeResult 一次买入/卖出的结果；Success 为 false 时 Err 非空
//
// 链上交易成功但记账失败时 Success 仍为 true，失败原因记录在 LedgerWarning。
type TradeResult struct {
	Success      bool      `json:"success"`
	Side         TradeSide `json:"side"`
	TokenAddress string    `json:"token_address"`
	TokenSymbol  string    `json:"token_symbol,omitempty"`

	NativeAmount   decimal.Decimal `json:"native_amount"` // 买入花费 / 卖出收到
	TokenAmount    decimal.Decimal `json:"token_amount"`  // 买入收到 / 卖出数量
	ExpectedOutput decimal.Decimal `json:"expected_output"`
	MinOutput      decimal.Decimal `json:"min_output"`
	GasCost        decimal.Decimal `json:"gas_cost"`
	Route          string          `json:"route,omitempty"`
	Improvement    string          `json:"improvement,omitempty"`
	TxHash         string          `json:"tx_hash,omitempty"`
	ApproveTxHash  string          `json:"approve_tx_hash,omitempty"`

	RecordID         string           `json:"record_id,omitempty"`
	CostBasis        *decimal.Decimal `json:"cost_basis,omitempty"`
	Profit           *decimal.Decimal `json:"profit,omitempty"`
	ProfitPercentage *decimal.Decimal `json:"profit_percentage,omitempty"`
	LedgerWarning    string           `json:"ledger_warning,omitempty"`
	NotificationID   string           `json:"notification_id,omitempty"`

	Err *TradeError `json:"error,omitempty"`
}

// QuotePreview 最优路由预览（不发送交易）
type QuotePreview struct {
	Side           TradeSide                  `json:"side"`
	TokenAddress   string                     `json:"token_address"`
	TokenSymbol    string                     `json:"token_symbol"`
	AmountIn       decimal.Decimal            `json:"amount_in"`
	Route          string                     `json:"route"`
	ExpectedOutput decimal.Decimal            `json:"expected_output"`
	MinOutput      decimal.Decimal            `json:"min_output"`
	Improvement    string                     `json:"improvement"`
	Candidates     map[string]decimal.Decimal `json:"candidates"`
}

// PositionReport 观察列表中单个代币的持仓与浮动盈亏
type PositionReport struct {
	TokenAddress  string          `json:"token_address"`
	TokenSymbol   string          `json:"token_symbol"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerTokens  decimal.Decimal `json:"ledger_tokens"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CurrentValue  decimal.Decimal `json:"current_value"` // 全部余额按最优路由卖出可得的原生币
	Route         string          `json:"route,omitempty"`
	Unrealized    decimal.Decimal `json:"unrealized"`
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`
	FiatValue     decimal.Decimal `json:"fiat_value"`
	Error         string          `json:"error,omitempty"`
}
