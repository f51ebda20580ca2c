// Package money holds the fixed-point helpers used for every monetary amount.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	// Cent is the smallest representable ledger amount.
	Cent = decimal.New(1, -2)
)

// Quantize2 rounds to two fractional digits, half away from zero.
func Quantize2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Parse reads a decimal string and quantizes it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Quantize2(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Sum adds the quantized values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(Quantize2(v))
	}
	return total
}

// Pct converts a percentage (9 for 9%) into a ratio.
func Pct(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// Equal compares two amounts to the cent.
func Equal(a, b decimal.Decimal) bool {
	return Quantize2(a).Equal(Quantize2(b))
}

// Positive reports whether d rounds to more than zero.
func Positive(d decimal.Decimal) bool {
	return Quantize2(d).IsPositive()
}

// Max returns the larger amount.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller amount.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
