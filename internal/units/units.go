package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits between a whole currency unit
// and the smallest on-chain unit.
const Decimals = 18

// maxDigits is the decimal width of the largest uint256.
const maxDigits = 78

var (
	// ErrNonPositive indicates an amount that is zero or negative.
	ErrNonPositive = errors.New("amount must be positive")

	// ErrTooPrecise indicates an amount finer than the smallest unit.
	ErrTooPrecise = errors.New("amount has more than 18 fractional digits")

	// ErrTooLarge indicates an amount that does not fit a uint256 in the smallest unit.
	ErrTooLarge = errors.New("amount exceeds the uint256 range")
)

// ParseAmount converts a whole-unit amount such as "0.5" into the smallest unit.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToWei(d)
}

// ToWei converts a whole-unit decimal into the smallest unit.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, ErrNonPositive
	}
	// checked before Shift/BigInt, which would materialise 10^exp
	if int64(amount.NumDigits())+int64(amount.Exponent())+Decimals > maxDigits {
		return nil, ErrTooLarge
	}
	shifted := amount.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, ErrTooPrecise
	}
	wei := shifted.BigInt()
	if wei.BitLen() > 256 {
		return nil, ErrTooLarge
	}
	return wei, nil
}

// MustParse is ParseAmount for package-level constants; it panics on error.
func MustParse(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromWei converts a smallest-unit amount into whole units.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -Decimals)
}

// Format renders a smallest-unit amount as a whole-unit string.
func Format(wei *big.Int) string {
	return FromWei(wei).String()
}
