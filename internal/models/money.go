package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in the smallest currency unit (cents).
// All stored arithmetic is integer-only; decimal maths is used only for
// conversions such as percentages and is rounded back to whole cents.
type Money int64

// Cents is a readability helper for literals: Cents(3333) is $33.33.
func Cents(c int64) Money { return Money(c) }

// ParseMoney parses a decimal string such as "12.34" into Money.
// Values with more than two fractional digits are rounded half away from zero.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// FromDecimal converts a major-unit decimal (12.34) to Money.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(2).Round(0).IntPart())
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// Float returns the amount in major units as a float64.
func (m Money) Float() float64 {
	return m.Decimal().InexactFloat64()
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// String formats the amount as "12.34" or "-0.05".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}
