/**
 * @description
 * Currency helpers. Amounts are decimal naira values end to end; the payment
 * gateway is the only place that speaks integer kobo.
 *
 * @dependencies
 * - github.com/shopspring/decimal: arbitrary-precision decimal arithmetic.
 */

package domain

import (
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go over the wire as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// ValidateAmount rejects zero, negative and sub-kobo amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Invalidf("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return Invalidf("amount must have at most 2 decimal places")
	}
	return nil
}

// ToKobo converts a naira amount to kobo, rounding half away from zero.
func ToKobo(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromKobo converts a kobo amount to naira.
func FromKobo(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -2)
}
