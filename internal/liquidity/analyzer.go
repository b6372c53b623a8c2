// Package liquidity implements the sell-side order book analyzer, the
// maintenance planner and the strategy that runs them. The analyzer and
// planner are pure: they read a snapshot and produce a verdict or a plan,
// never touching the venue themselves.
package liquidity

import (
	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/pkg/numutil"
)

// Band and ladder constants of the sell-side book model.
var (
	depthBandCeil = decimal.RequireFromString("1.02") // band is [bestAsk, bestAsk*1.02)
	one           = decimal.NewFromInt(1)
)

const top20 = 20

// Config are the analyzer thresholds. Effective minimums scale by
// ScaleFactor: MinDepth2Percent*s and MinDepthTop20*s.
type Config struct {
	ScaleFactor      decimal.Decimal
	MinDepth2Percent decimal.Decimal
	MinDepthTop20    decimal.Decimal
	MinOrderCount    int
	MaxOrderGap      decimal.Decimal // percent
}

// FromParams converts bot params into the analyzer config.
func FromParams(p core.SellLiquidityParams) Config {
	return Config{
		ScaleFactor:      p.ScaleFactor,
		MinDepth2Percent: p.MinDepth2Percent,
		MinDepthTop20:    p.MinDepthTop20,
		MinOrderCount:    p.MinOrderCount,
		MaxOrderGap:      p.MaxOrderGap,
	}
}

// Analyze computes the sell-side health verdict for one book snapshot.
// Asks are assumed sorted ascending by price.
func Analyze(depth *core.Depth, cfg Config) core.LiquidityMetrics {
	m := core.LiquidityMetrics{
		SellDepth2Pct:  decimal.Zero,
		SellDepthTop20: decimal.Zero,
		SellOrderCount: len(depth.Asks),
		SellGapsOk:     true,
	}
	if len(depth.Asks) == 0 {
		m.OrderCountOk = cfg.MinOrderCount <= 0
		m.AllOk = false
		return m
	}

	bestAsk := depth.Asks[0].Price
	bandCeil := bestAsk.Mul(depthBandCeil)

	for i, lvl := range depth.Asks {
		value := lvl.Price.Mul(lvl.Qty)
		if lvl.Price.LessThan(bandCeil) {
			m.SellDepth2Pct = m.SellDepth2Pct.Add(value)
		}
		if i < top20 {
			m.SellDepthTop20 = m.SellDepthTop20.Add(value)
		}
	}

	// Gap check over the top 20 adjacent pairs. Equality with the limit
	// is acceptable; only a strictly wider gap is a violation.
	limit := len(depth.Asks) - 2
	if limit > top20-1 {
		limit = top20 - 1
	}
	for i := 0; i <= limit; i++ {
		gap := numutil.GapPercent(depth.Asks[i].Price, depth.Asks[i+1].Price)
		if gap.GreaterThan(cfg.MaxOrderGap) {
			m.SellGapsOk = false
			break
		}
	}

	minDepth2 := cfg.MinDepth2Percent.Mul(cfg.ScaleFactor)
	minTop20 := cfg.MinDepthTop20.Mul(cfg.ScaleFactor)

	m.Depth2PctOk = m.SellDepth2Pct.GreaterThanOrEqual(minDepth2)
	m.DepthTop20Ok = m.SellDepthTop20.GreaterThanOrEqual(minTop20)
	m.OrderCountOk = m.SellOrderCount >= cfg.MinOrderCount
	m.AllOk = m.Depth2PctOk && m.DepthTop20Ok && m.OrderCountOk && m.SellGapsOk
	return m
}
