package core

import (
	"github.com/shopspring/decimal"
)

// Money is a signed amount of the ledger currency, stored as whole cents so
// the storage layer can apply balance deltas with plain integer arithmetic.
type Money struct {
	Cents int64
}

var centFactor = decimal.NewFromInt(100)

// MoneyFromDecimal converts a decimal amount (e.g. "12.34") to Money,
// rejecting values with sub-cent precision.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(centFactor)
	if !cents.IsInteger() {
		return Money{}, ValidationError{Field: "amount", Reason: "more than two decimal places"}
	}
	return Money{Cents: cents.IntPart()}, nil
}

// ParseMoney parses a decimal string into Money.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ValidationError{Field: "amount", Reason: "not a decimal number"}
	}
	return MoneyFromDecimal(d)
}

// Decimal returns the amount as a decimal value in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Cents).Div(centFactor)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{Cents: -m.Cents}
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

// MulInt returns the amount multiplied by a whole factor.
func (m Money) MulInt(n int64) Money {
	return Money{Cents: m.Cents * n}
}

// DivInt returns the amount divided by n, rounded to the nearest cent.
func (m Money) DivInt(n int64) Money {
	q := decimal.NewFromInt(m.Cents).Div(decimal.NewFromInt(n)).Round(0)
	return Money{Cents: q.IntPart()}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// Validate checks that the amount is strictly positive. Transaction, rule and
// budget amounts are unsigned magnitudes; direction comes from the kind.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}
