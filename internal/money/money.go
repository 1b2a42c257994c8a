package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed two-decimal amount with a currency tag. Amounts are never
// rounded implicitly: constructors reject values with more than two decimal
// places unless the caller goes through Round2 first.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

var (
	ErrPrecision        = errors.New("money: more than two decimal places")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
)

// New builds Money from a decimal, rejecting sub-paise precision.
func New(amount decimal.Decimal, currency string) (Money, error) {
	if amount.Exponent() < -2 && !amount.Equal(amount.Truncate(2)) {
		return Money{}, fmt.Errorf("%w: %s", ErrPrecision, amount.String())
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// NewFromString parses a decimal string such as "1000.50".
func NewFromString(value, currency string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", value, err)
	}
	return New(d, currency)
}

// MustNew is a test/seed helper that panics on invalid input.
func MustNew(value, currency string) Money {
	m, err := NewFromString(value, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Round2 rounds half-up to two decimal places. The only sanctioned way to
// shed precision.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func (m Money) sameCurrency(o Money) (string, error) {
	switch {
	case m.Currency == o.Currency:
		return m.Currency, nil
	case m.Currency == "" && m.Amount.IsZero():
		return o.Currency, nil
	case o.Currency == "" && o.Amount.IsZero():
		return m.Currency, nil
	}
	return "", fmt.Errorf("%w: %q vs %q", ErrCurrencyMismatch, m.Currency, o.Currency)
}

// Add returns m+o, failing on currency mismatch. A zero value acts as the
// identity in any currency.
func (m Money) Add(o Money) (Money, error) {
	cur, err := m.sameCurrency(o)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(o.Amount), Currency: cur}, nil
}

// Sub returns m-o, failing on currency mismatch.
func (m Money) Sub(o Money) (Money, error) {
	cur, err := m.sameCurrency(o)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: cur}, nil
}

// Neg flips the sign.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Abs returns the magnitude.
func (m Money) Abs() Money {
	return Money{Amount: m.Amount.Abs(), Currency: m.Currency}
}

// Sign reports -1, 0 or 1.
func (m Money) Sign() int { return m.Amount.Sign() }

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsPositive() bool { return m.Amount.Sign() > 0 }
func (m Money) IsNegative() bool { return m.Amount.Sign() < 0 }

// Equal reports exact equality of amount and currency.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

// StringFixed renders the amount with exactly two decimals.
func (m Money) StringFixed() string {
	return m.Amount.StringFixed(2)
}

func (m Money) String() string {
	if m.Currency == "" {
		return m.StringFixed()
	}
	return m.StringFixed() + " " + m.Currency
}
