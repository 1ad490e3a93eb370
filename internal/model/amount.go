package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const amountBits = 128

var (
	// ErrAmountUnderflow is returned when a subtraction would go below zero.
	ErrAmountUnderflow = errors.New("amount underflow")
	// ErrAmountOverflow is returned when a value does not fit in 128 bits.
	ErrAmountOverflow = errors.New("amount overflow")
)

// Amount is an unsigned 128-bit quantity in the smallest unit of its asset.
// The zero value is a valid zero amount. JSON form is a decimal string.
type Amount struct {
	v uint256.Int
}

// NewAmount builds an Amount from a uint64.
func NewAmount(value uint64) Amount {
	var a Amount
	a.v.SetUint64(value)
	return a
}

// ParseAmount parses a base-10 string.
func ParseAmount(input string) (Amount, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("invalid amount: %s", input)
		}
	}
	parsed, err := uint256.FromDecimal(input)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %s: %w", input, ErrAmountOverflow)
	}
	if parsed.BitLen() > amountBits {
		return Amount{}, fmt.Errorf("invalid amount %s: %w", input, ErrAmountOverflow)
	}
	return Amount{v: *parsed}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(input string) Amount {
	a, err := ParseAmount(input)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	return a.v.ToBig().String()
}

func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

func (a Amount) Equal(b Amount) bool {
	return a.v.Eq(&b.v)
}

// Sub returns a-b or ErrAmountUnderflow when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, fmt.Errorf("%s - %s: %w", a, b, ErrAmountUnderflow)
	}
	return out, nil
}

// Add returns a+b or ErrAmountOverflow when the sum exceeds 128 bits.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow || out.v.BitLen() > amountBits {
		return Amount{}, fmt.Errorf("%s + %s: %w", a, b, ErrAmountOverflow)
	}
	return out, nil
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText lets amounts be used with text encoders such as yaml and flags.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
