package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places every monetary value is kept at.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Floor truncates d toward negative infinity at two decimal places.
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(Places)
}

// Percent returns floor(amount × pct / 100).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.Sign() <= 0 {
		return decimal.Zero
	}
	return Floor(amount.Mul(pct).Div(hundred))
}

// FromFloat converts a configuration float, flooring it to two places.
func FromFloat(f float64) decimal.Decimal {
	return Floor(decimal.NewFromFloat(f))
}

// suffixes in ascending order of magnitude; index i is 1000^i.
var suffixes = []string{"", "K", "M", "B", "T", "Q"}

// Parse reads an amount in plain ("1250.5") or short notation ("1.5K", "2M").
// The result is floored to two places.
func Parse(s string) (decimal.Decimal, error) {
	in := strings.ToUpper(strings.TrimSpace(s))
	if in == "" {
		return decimal.Zero, fmt.Errorf("parse amount: empty input")
	}
	mult := decimal.NewFromInt(1)
	for i := len(suffixes) - 1; i > 0; i-- {
		if strings.HasSuffix(in, suffixes[i]) {
			in = strings.TrimSuffix(in, suffixes[i])
			mult = decimal.New(1, int32(3*i))
			break
		}
	}
	d, err := decimal.NewFromString(in)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Floor(d.Mul(mult)), nil
}

// FormatShort renders d with a magnitude suffix: 1500 -> "1.5K", 999.99 -> "999.99".
func FormatShort(d decimal.Decimal) string {
	abs := d.Abs()
	for i := len(suffixes) - 1; i > 0; i-- {
		unit := decimal.New(1, int32(3*i))
		if abs.GreaterThanOrEqual(unit) {
			return Floor(d.Div(unit)).String() + suffixes[i]
		}
	}
	return Floor(d).String()
}

// Format renders d with exactly two decimals.
func Format(d decimal.Decimal) string {
	return Floor(d).StringFixed(Places)
}
