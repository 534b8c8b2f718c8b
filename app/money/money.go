// Package money handles monetary amounts as integer minor units (cents).
// Floating point never touches an amount; conversions to wire formats go
// through shopspring/decimal.
package money

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// DecimalString renders cents as a decimal string with exactly two
// fraction digits ("12990" -> "129.90"), the format PIX provider APIs
// expect for BRL amounts.
func DecimalString(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// DigitsOnly renders cents as the bare digit run used by the EMV amount
// field ("12990" for R$ 129,90). Equivalent to DecimalString with the
// separator stripped.
func DigitsOnly(cents int64) string {
	return strconv.FormatInt(cents, 10)
}

// ParseDecimal converts a provider-reported decimal amount ("129.90",
// "129.9", "129") into cents. Amounts with sub-cent precision or a
// non-numeric shape are rejected.
func ParseDecimal(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// FormatBRL renders cents for display: "R$ 1.299,90".
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	whole := cents / 100
	frac := cents % 100

	digits := strconv.FormatInt(whole, 10)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	fracStr := strconv.FormatInt(frac, 10)
	if frac < 10 {
		fracStr = "0" + fracStr
	}

	return sign + "R$ " + grouped.String() + "," + fracStr
}
