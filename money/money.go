// Package money centralizes fixed-point currency arithmetic so the rest of
// the module never reaches for float64 or hand-rolls decimal scale handling.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the fixed number of decimal places for all currencies in scope.
const Scale = 2

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// Parse decodes a canonical fixed-point string ("1234.56") into a Decimal,
// rejecting more than Scale decimal places.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -Scale {
		return decimal.Decimal{}, fmt.Errorf("money: amount %q exceeds %d decimal places", s, Scale)
	}
	return d.Round(Scale), nil
}

// MustParse2dp panics on malformed input; intended for literal amounts in tests.
func MustParse2dp(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Canonical renders d as a fixed 2-decimal string, the wire format used by
// every JSON shape this module emits.
func Canonical(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// Equal compares two amounts for exact fixed-point equality.
func Equal(a, b decimal.Decimal) bool {
	return a.Equal(b)
}

// IsPositive reports whether d > 0.
func IsPositive(d decimal.Decimal) bool {
	return d.IsPositive()
}

// IsNonNegative reports whether d >= 0.
func IsNonNegative(d decimal.Decimal) bool {
	return !d.IsNegative()
}
