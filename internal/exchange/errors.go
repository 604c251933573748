package exchange

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotContract 地址上没有合约代码
	ErrNotContract = errors.New("地址不是合约")
	// ErrNotToken 合约不符合ERC20接口
	ErrNotToken = errors.New("合约不是有效的ERC20代币")
	// ErrTxReverted 交易已上链但执行失败
	ErrTxReverted = errors.New("交易执行失败(reverted)")
	// ErrZeroQuote 报价为0，视为没有流动性
	ErrZeroQuote = errors.New("报价为0")
)

// ErrorKind 面向用户的失败分类
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "InvalidInput"
	KindInvalidToken        ErrorKind = "InvalidToken"
	KindNoRoute             ErrorKind = "NoRoute"
	KindInsufficientFunds   ErrorKind = "InsufficientFunds"
	KindLiquidityOrSlippage ErrorKind = "LiquidityOrSlippage"
	KindExpired             ErrorKind = "Expired"
	KindNetwork             ErrorKind = "Network"
	KindAuthorizationFailed ErrorKind = "AuthorizationFailed"
	KindExecutionFailed     ErrorKind = "ExecutionFailed"
)

// Message 分类对应的提示文案
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidInput:
		return "输入参数无效"
	case KindInvalidToken:
		return "代币地址无效"
	case KindNoRoute:
		return "没有可用的交易路由"
	case KindInsufficientFunds:
		return "余额不足（含gas）"
	case KindLiquidityOrSlippage:
		return "流动性不足或滑点过大"
	case KindExpired:
		return "交易已过期"
	case KindNetwork:
		return "网络错误，请稍后重试"
	case KindAuthorizationFailed:
		return "代币授权失败"
	default:
		return "交易执行失败"
	}
}

var errorPatterns = []struct {
	kind     ErrorKind
	patterns []string
}{
	{KindLiquidityOrSlippage, []string{
		"insufficient_output_amount",
		"insufficient_liquidity",
		"too little received",
		"price slippage check",
		"transfer_failed",
		"liquidity",
		"slippage",
	}},
	{KindInsufficientFunds, []string{
		"insufficient funds",
		"insufficient balance",
		"exceeds balance",
		"transfer amount exceeds",
	}},
	{KindNetwork, []string{
		"context deadline exceeded",
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"no such host",
		"network",
		"too many requests",
		"429",
		"unexpected eof",
	}},
	{KindExpired, []string{
		"expired",
		"transaction too old",
		"deadline",
	}},
}

// ClassifyError 根据错误文本归类
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	if errors.Is(err, ErrNotContract) || errors.Is(err, ErrNotToken) {
		return KindInvalidToken
	}

	msg := strings.ToLower(err.Error())
	for _, group := range errorPatterns {
		for _, p := range group.patterns {
			if strings.Contains(msg, p) {
				return group.kind
			}
		}
	}
	return KindExecutionFailed
}
