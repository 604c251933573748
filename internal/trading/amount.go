package trading

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/dextrader/internal/exchange"
)

var bpsDenominator = big.NewInt(10_000)

// SellAmount 卖出数量的三种写法：具体数量、余额百分比、全部
type SellAmount struct {
	All      bool
	Percent  decimal.Decimal
	Absolute decimal.Decimal
}

// ParseSellAmount 解析 "12.5"、"25%"、"all"
func ParseSellAmount(s string) (SellAmount, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "":
		return SellAmount{}, errors.New("卖出数量不能为空")
	case s == "all" || s == "max" || s == "100%":
		return SellAmount{All: true}, nil
	case strings.HasSuffix(s, "%"):
		pct, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, "%")))
		if err != nil {
			return SellAmount{}, fmt.Errorf("无效的百分比: %s", s)
		}
		if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return SellAmount{}, fmt.Errorf("百分比必须在 (0, 100] 之间: %s", s)
		}
		return SellAmount{Percent: pct}, nil
	}

	amount, err := parsePositiveAmount(s)
	if err != nil {
		return SellAmount{}, err
	}
	return SellAmount{Absolute: amount}, nil
}

// Resolve 按链上余额换算为最小单位
func (a SellAmount) Resolve(balance *big.Int, decimals int32) *big.Int {
	switch {
	case a.All:
		return new(big.Int).Set(balance)
	case a.Percent.IsPositive():
		bal := decimal.NewFromBigInt(balance, 0)
		return bal.Mul(a.Percent).Div(decimal.NewFromInt(100)).Truncate(0).BigInt()
	default:
		return exchange.ToBaseUnits(a.Absolute, decimals)
	}
}

func parsePositiveAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("无效的数量: %s", s)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("数量必须大于0: %s", s)
	}
	return amount, nil
}

// SlippageBps 滑点百分比换算为基点（四舍五入）
func SlippageBps(slippagePercent float64) int64 {
	return decimal.NewFromFloat(slippagePercent).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// MinOutput expected × (10000 − bps) / 10000，全程整数运算
func MinOutput(expected *big.Int, bps int64) *big.Int {
	if expected == nil || expected.Sign() <= 0 {
		return new(big.Int)
	}
	if bps < 0 {
		bps = 0
	}
	if bps > bpsDenominator.Int64() {
		bps = bpsDenominator.Int64()
	}
	out := new(big.Int).Mul(expected, big.NewInt(bpsDenominator.Int64()-bps))
	return out.Quo(out, bpsDenominator)
}
