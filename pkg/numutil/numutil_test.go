package numutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundPriceTruncates(t *testing.T) {
	tests := []struct {
		in        string
		precision int32
		want      string
	}{
		{"1.0199999", 6, "1.019999"},
		{"1.0199999", 2, "1.01"},
		{"0.995", 6, "0.995"},
		{"5", 0, "5"},
	}
	for _, tt := range tests {
		got := RoundPrice(d(tt.in), tt.precision)
		assert.True(t, got.Equal(d(tt.want)), "%s @%d -> %s", tt.in, tt.precision, got)
	}
}

func TestRoundQtyNeverRoundsUp(t *testing.T) {
	// 5/0.995 = 5.02512562... must truncate, not round to 5.0252.
	q := d("5").Div(d("0.995"))
	assert.True(t, RoundQty(q, 4).Equal(d("5.0251")))
}

func TestMeetsMinQty(t *testing.T) {
	assert.True(t, MeetsMinQty(d("0.01")))
	assert.True(t, MeetsMinQty(d("1")))
	assert.False(t, MeetsMinQty(d("0.0099")))
	assert.False(t, MeetsMinQty(decimal.Zero))
}

func TestPercentOf(t *testing.T) {
	assert.True(t, PercentOf(d("200"), d("1.5")).Equal(d("3")))
	assert.True(t, PercentOf(d("10"), d("100")).Equal(d("10")))
}

func TestGapPercent(t *testing.T) {
	assert.True(t, GapPercent(d("1.005"), d("1.020")).Sub(d("1.4925")).Abs().LessThan(d("0.0001")))
	assert.True(t, GapPercent(d("1.000"), d("1.010")).Equal(d("1")))
	assert.True(t, GapPercent(decimal.Zero, d("1")).IsZero(), "zero base yields zero, not a division error")
}
