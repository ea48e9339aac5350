// Package core provides money parsing and handling utilities.
//
// This file contains the exact decimal Money type used for every amount in
// the ledger. Amounts are never converted to floating point for arithmetic
// or comparisons; InexactFloat64 exists only for spreadsheet cells.
package core

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount. The zero value is 0.
type Money struct {
	d decimal.Decimal
}

// NewMoney wraps a decimal value.
func NewMoney(d decimal.Decimal) Money {
	return Money{d: d}
}

// MoneyFromCents builds a Money from an integer number of cents.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// ParseMoney converts a decimal string to Money without rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional sign. Negative values are valid ledger data (adjustments), so
// unlike form validation this never rejects by sign.
//
// Examples:
//   ParseMoney("12.34")  -> 12.34
//   ParseMoney("-5,5")   -> -5.50
//   ParseMoney("0.005")  -> 0.005 (kept exact)
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Money{d: d}, nil
}

// MustParseMoney is ParseMoney for literals; it panics on malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }

// Cmp returns -1, 0 or +1 comparing m with o.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Equal reports numeric equality, ignoring scale (1.5 == 1.50).
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// Sign returns -1, 0 or +1.
func (m Money) Sign() int { return m.d.Sign() }

func (m Money) IsZero() bool     { return m.d.IsZero() }
func (m Money) IsNegative() bool { return m.d.Sign() < 0 }
func (m Money) IsPositive() bool { return m.d.Sign() > 0 }

// String renders the amount with two decimals, or with its full precision
// when it has non-zero digits past the second. Trailing zeros never count:
// "100.000" renders as "100.00".
func (m Money) String() string {
	if m.d.Round(2).Equal(m.d) {
		return m.d.StringFixed(2)
	}
	return m.d.String()
}

// InexactFloat64 returns the amount as a float64 for display purposes only.
// Note: Use Money for calculations to avoid floating-point precision issues.
func (m Money) InexactFloat64() float64 {
	return m.d.InexactFloat64()
}

// MarshalJSON encodes the amount as a JSON string to keep it exact.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer; amounts are stored as TEXT.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Money{}
		return nil
	case string:
		return m.scanString(v)
	case []byte:
		return m.scanString(string(v))
	case int64:
		*m = Money{d: decimal.NewFromInt(v)}
		return nil
	default:
		return errors.New("money: unsupported scan type " + fmt.Sprintf("%T", src))
	}
}

func (m *Money) scanString(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = Money{d: d}
	return nil
}

// SumMoney adds up amounts exactly.
func SumMoney(amounts ...Money) Money {
	total := Money{}
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
