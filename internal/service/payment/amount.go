package payment

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// MinorUnits переводит сумму в минимальные единицы валюты.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits - обратное преобразование.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
