package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return n
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"1.0", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{"0", "0"},
		{"0.000000000000000001", "1"},
		{" 2.25 ", "2250000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("-1")
	assert.ErrorIs(t, err, ErrNegative)

	_, err = Parse("0.0000000000000000001")
	assert.ErrorIs(t, err, ErrPrecision)

	_, err = Parse("1e60")
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Parse("one")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1.0", Format(wei("1000000000000000000")))
	assert.Equal(t, "0.5", Format(wei("500000000000000000")))
	assert.Equal(t, "0.0", Format(big.NewInt(0)))
	assert.Equal(t, "0.0", Format(nil))
	assert.Equal(t, "0.000000000000000001", Format(big.NewInt(1)))
}

func TestToFloat(t *testing.T) {
	assert.InDelta(t, 1.5, ToFloat(wei("1500000000000000000")), 1e-12)
	assert.Zero(t, ToFloat(nil))
}
