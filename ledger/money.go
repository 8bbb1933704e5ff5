package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places every ledger amount carries.
const Scale = 2

// Bounds for a single expense, split share or settlement amount.
var (
	MinAmount = MustMoney("0.01")
	MaxAmount = MustMoney("999999.99")
)

// IsCents reports whether d has at most Scale decimal places.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}

// ParseMoney parses a decimal string and rejects sub-cent precision.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if !IsCents(d) {
		return decimal.Zero, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, s, Scale)
	}
	return d, nil
}

// MustMoney is ParseMoney for constants and tests. It panics on bad input.
func MustMoney(s string) decimal.Decimal {
	d, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatMoney renders d with exactly Scale decimal places.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// CheckAmount reports a *ValidationError for field when d has sub-cent
// precision or lies outside [MinAmount, MaxAmount].
func CheckAmount(field string, d decimal.Decimal) error {
	switch {
	case !IsCents(d):
		return &ValidationError{Field: field, Message: "must have at most 2 decimal places", Kind: ErrInvalidAmount}
	case d.LessThan(MinAmount):
		return &ValidationError{Field: field, Message: "must be at least " + FormatMoney(MinAmount), Kind: ErrInvalidAmount}
	case d.GreaterThan(MaxAmount):
		return &ValidationError{Field: field, Message: "must not exceed " + FormatMoney(MaxAmount), Kind: ErrInvalidAmount}
	}
	return nil
}
