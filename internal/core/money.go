// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and converting between cents and unit representations.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseDecimalToCents converts a decimal string to cents with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. Zero is allowed; signs,
// exponents and anything that is not a plain decimal are rejected.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil (half-up)
//	ParseDecimalToCents("12.344") -> 1234, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return 0, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return DecimalToCents(d)
}

var maxCents = decimal.NewFromInt(MaxAmountCents)

// DecimalToCents rounds d half-up to two places and returns cents. Amounts
// above MaxAmountCents are rejected with ErrAmountTooLarge.
func DecimalToCents(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0)
	if !cents.IsInteger() {
		return 0, ErrInvalidAmount
	}
	if cents.GreaterThan(maxCents) {
		return 0, ErrAmountTooLarge
	}
	return cents.IntPart(), nil
}

// FromUnits builds Money from a float amount such as 12.34.
func FromUnits(v float64) (Money, error) {
	cents, err := DecimalToCents(decimal.NewFromFloat(v))
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

// Units returns the amount in currency units for ratio math and display.
// Use cents for sums to avoid floating-point drift.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

// Decimal returns the exact amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two decimals, e.g. "12.34".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}
