package exchange

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits 把人类可读数量转换为链上最小单位（截断多余精度）
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits 把链上最小单位转换为人类可读数量
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}
