package quantity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{"nil", nil, "0"},
		{"empty string", "", "0"},
		{"blank string", "   ", "0"},
		{"garbage string", "abc", "0"},
		{"integer string", "12", "12"},
		{"rounds half up", "12.345", "12.35"},
		{"rounds down", "12.344", "12.34"},
		{"negative rounds half away", "-12.345", "-12.35"},
		{"float", 3.456, "3.46"},
		{"int", 7, "7"},
		{"decimal passthrough", decimal.RequireFromString("9.999"), "10"},
		{"unsupported type", struct{}{}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fixed(tt.input)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"Fixed(%v) = %s, want %s", tt.input, got, tt.expected)
		})
	}
}

func TestFixedNilPointer(t *testing.T) {
	var p *decimal.Decimal
	assert.True(t, Fixed(p).IsZero())
}

func TestParse(t *testing.T) {
	d, err := Parse(" 15.505 ")
	require.NoError(t, err)
	assert.Equal(t, "15.51", d.StringFixed(2))

	_, err = Parse("doce")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

func TestSumFixedRoundsEachTerm(t *testing.T) {
	// 1.005 + 1.005 rounds each term to 1.01 first, so the total is
	// 2.02 rather than the 2.01 a single end-of-chain rounding gives.
	a := decimal.RequireFromString("1.005")
	b := decimal.RequireFromString("1.005")

	total := SumFixed(a, b)
	assert.Equal(t, "2.02", total.StringFixed(2))

	endOfChain := a.Add(b).Round(Places)
	assert.Equal(t, "2.01", endOfChain.StringFixed(2))
}

func TestSumFixedEmpty(t *testing.T) {
	assert.True(t, SumFixed().IsZero())
}

func TestCeilDiv(t *testing.T) {
	twelve := decimal.NewFromInt(12)

	assert.Equal(t, "10", CeilDiv(decimal.NewFromInt(120), twelve).String())
	assert.Equal(t, "6", CeilDiv(decimal.NewFromInt(72), twelve).String())
	assert.Equal(t, "7", CeilDiv(decimal.NewFromInt(73), twelve).String())
	assert.True(t, CeilDiv(decimal.NewFromInt(10), decimal.Zero).IsZero())
}
