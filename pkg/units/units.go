// Package units converts between base units (uint256 integers) and the
// 18-decimal display form used by operators ("1.5" == 1500000000000000000).
package units

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in one whole unit.
const Decimals = 18

var (
	ErrNegative  = errors.New("amount must not be negative")
	ErrPrecision = errors.New("amount has more than 18 fractional digits")
	ErrOverflow  = errors.New("amount exceeds uint256")

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Parse converts a display amount such as "1.5" to base units.
func Parse(display string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(display))
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, ErrNegative
	}
	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrPrecision
	}
	base := shifted.BigInt()
	if base.Cmp(maxUint256) > 0 {
		return nil, ErrOverflow
	}
	return base, nil
}

// Format renders base units in display form, always with a fractional part
// ("1.0", "0.25").
func Format(base *big.Int) string {
	if base == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(base, -Decimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ToFloat approximates base units as whole units for gauges.
func ToFloat(base *big.Int) float64 {
	if base == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(base, -Decimals).Float64()
	return f
}
