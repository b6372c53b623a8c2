// Package numutil holds decimal rounding helpers used at the venue
// serialization boundary. Internal math stays at full precision; rounding
// happens exactly once, here.
package numutil

import "github.com/shopspring/decimal"

// MinOrderQty is the smallest base quantity the venues accept.
var MinOrderQty = decimal.RequireFromString("0.01")

// RoundPrice truncates a price to the symbol's declared price precision.
func RoundPrice(p decimal.Decimal, precision int32) decimal.Decimal {
	return p.RoundDown(precision)
}

// RoundQty truncates a quantity to the symbol's declared quantity
// precision. Truncation, not rounding, so an order never spends more than
// the computed budget.
func RoundQty(q decimal.Decimal, precision int32) decimal.Decimal {
	return q.RoundDown(precision)
}

// MeetsMinQty reports whether the rounded quantity clears the venue
// minimum.
func MeetsMinQty(q decimal.Decimal) bool {
	return q.GreaterThanOrEqual(MinOrderQty)
}

// PercentOf returns value * pct / 100.
func PercentOf(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(decimal.NewFromInt(100))
}

// GapPercent returns (b - a) / a * 100, the percentage gap between two
// adjacent price levels.
func GapPercent(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() {
		return decimal.Zero
	}
	return b.Sub(a).Div(a).Mul(decimal.NewFromInt(100))
}
