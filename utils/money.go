package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RoundMoney rounds to whole cents
func RoundMoney(amount float64) float64 {
	f, _ := decimal.NewFromFloat(amount).Round(2).Float64()
	return f
}

// MoneyEqual compares two amounts at cent precision
func MoneyEqual(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}

// SumMoney adds amounts without float drift and rounds to cents
func SumMoney(amounts ...float64) float64 {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromFloat(a))
	}
	f, _ := total.Round(2).Float64()
	return f
}

// ParseAmount parses an amount such as "99.99", "$1,099.00" or "" (zero)
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")

	value, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := value.Round(2).Float64()
	return f, nil
}
