package units

import (
	"math/big"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "half unit", input: "0.5", want: "500000000000000000"},
		{name: "whole units", input: "3", want: "3000000000000000000"},
		{name: "smallest unit", input: "0.000000000000000001", want: "1"},
		{name: "zero", input: "0", wantErr: ErrNonPositive},
		{name: "negative", input: "-1", wantErr: ErrNonPositive},
		{name: "too precise", input: "0.0000000000000000001", wantErr: ErrTooPrecise},
		{name: "huge exponent", input: "1e400000000", wantErr: ErrTooLarge},
		{name: "61 integer digits", input: "1" + strings.Repeat("0", 60), wantErr: ErrTooLarge},
		{name: "just above uint256", input: "115792089237316195423570985008687907853269984665640564039457.584007913129639936", wantErr: ErrTooLarge},
		{name: "uint256 max", input: "115792089237316195423570985008687907853269984665640564039457.584007913129639935", want: "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	_, err := ParseAmount("lots")
	assert.Error(t, err)
}

func TestFormatRoundTrip(t *testing.T) {
	wei, ok := new(big.Int).SetString("200000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "0.2", Format(wei))
	assert.True(t, FromWei(wei).Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, "0", Format(nil))
}
