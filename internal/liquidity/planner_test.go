package liquidity

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcbbot/internal/core"
)

func plannerConfig() Config {
	return Config{
		ScaleFactor:      d("1"),
		MinDepth2Percent: d("500"),
		MinDepthTop20:    d("1000"),
		MinOrderCount:    30,
		MaxOrderGap:      d("1"),
	}
}

func plannerInfo() *core.SymbolInfo {
	return &core.SymbolInfo{Symbol: "ABCUSDT", PricePrecision: 6, QuantityPrecision: 4}
}

func TestBuildBudgetSplit(t *testing.T) {
	in := Input{
		Symbol: "ABCUSDT",
		Mid:    d("0.998"),
		Asks: []core.PriceLevel{
			{Price: d("1.000"), Qty: d("100")},
			{Price: d("1.005"), Qty: d("50")},
			{Price: d("1.020"), Qty: d("200")},
		},
		Cfg:           plannerConfig(),
		Info:          plannerInfo(),
		AvailableBase: d("100000"),
	}
	in.Metrics = Analyze(&core.Depth{Symbol: in.Symbol, Asks: in.Asks}, in.Cfg)

	plan := Build(in)
	require.NotEmpty(t, plan.Orders)
	assert.Empty(t, plan.StaleCancels)
	assert.Empty(t, plan.Repositions)
	assert.False(t, plan.Truncated)

	// One gap order (the 1.005 -> 1.020 jump) takes the whole 20% gap
	// bucket, then ten depth rungs split the 80% bucket by weight.
	require.Len(t, plan.Orders, 11)

	gapOrder := plan.Orders[0]
	gapQuote := gapOrder.Price.Mul(gapOrder.Quantity)
	assert.True(t, gapQuote.Sub(d("200")).Abs().LessThan(d("1")), "gap quote %s", gapQuote)

	wantQuotes := []string{"40", "40", "40", "40", "80", "80", "80", "120", "120", "160"}
	for i, want := range wantQuotes {
		o := plan.Orders[i+1]
		quote := o.Price.Mul(o.Quantity)
		assert.True(t, quote.Sub(d(want)).Abs().LessThan(d("1")),
			"rung %d: quote %s, want ~%s", i, quote, want)
	}

	seen := make(map[string]bool)
	for _, o := range plan.Orders {
		assert.Equal(t, core.SideSell, o.Side)
		assert.Equal(t, core.TypeLimit, o.Type)
		assert.True(t, o.Price.GreaterThan(in.Mid), "price %s not above mid", o.Price)
		assert.False(t, seen[o.Price.String()], "duplicate price %s", o.Price)
		seen[o.Price.String()] = true
		assert.True(t, strings.HasPrefix(o.ClientOrderID, "liq_"))
	}
	// No planned price may collide with a resting market ask.
	for _, lvl := range in.Asks {
		assert.False(t, seen[lvl.Price.String()], "collides with market ask %s", lvl.Price)
	}
}

func TestBuildFrontOrderOnDetachedBook(t *testing.T) {
	// First ask far above mid*1.005*1.01: the plan leads with a front
	// order near mid*1.005.
	in := Input{
		Symbol:        "ABCUSDT",
		Mid:           d("1.000"),
		Asks:          []core.PriceLevel{{Price: d("1.100"), Qty: d("10")}},
		Cfg:           plannerConfig(),
		Info:          plannerInfo(),
		AvailableBase: d("100000"),
	}
	in.Metrics = Analyze(&core.Depth{Symbol: in.Symbol, Asks: in.Asks}, in.Cfg)

	plan := Build(in)
	require.NotEmpty(t, plan.Orders)
	assert.True(t, plan.Orders[0].Price.Equal(d("1.005")), "front at %s", plan.Orders[0].Price)
}

func TestBuildStaleSweep(t *testing.T) {
	mid := d("1.000")
	in := Input{
		Symbol: "ABCUSDT",
		Mid:    mid,
		Asks:   []core.PriceLevel{{Price: d("1.01"), Qty: d("1000")}},
		OwnOrders: []core.Order{
			{OrderID: "low", Price: d("0.970"), Side: core.SideSell},   // below mid*0.98
			{OrderID: "keep", Price: d("1.100"), Side: core.SideSell},  // inside band
			{OrderID: "high", Price: d("1.300"), Side: core.SideSell},  // above mid*1.25
			{OrderID: "edge", Price: d("1.250"), Side: core.SideSell},  // on the boundary stays
		},
		Cfg:           plannerConfig(),
		Info:          plannerInfo(),
		AvailableBase: d("100000"),
	}
	in.Metrics = Analyze(&core.Depth{Symbol: in.Symbol, Asks: in.Asks}, in.Cfg)

	plan := Build(in)
	assert.ElementsMatch(t, []string{"low", "high"}, plan.StaleCancels)
}

func TestBuildRepositionSweep(t *testing.T) {
	mid := d("1.000")
	cfg := plannerConfig() // d20*s = 1000, trigger at 1500
	var own []core.Order
	// Ten own orders, six inside the (1.02, 1.10] repositioning zone.
	prices := []string{"1.010", "1.015", "1.030", "1.040", "1.050", "1.060", "1.070", "1.080", "1.150", "1.200"}
	for i, p := range prices {
		own = append(own, core.Order{OrderID: prices[i], Price: d(p), Side: core.SideSell})
	}
	in := Input{
		Symbol:        "ABCUSDT",
		Mid:           mid,
		Asks:          []core.PriceLevel{{Price: d("1.01"), Qty: d("2000")}},
		OwnOrders:     own,
		Cfg:           cfg,
		Info:          plannerInfo(),
		AvailableBase: d("100000"),
	}
	in.Metrics = Analyze(&core.Depth{Symbol: in.Symbol, Asks: in.Asks}, in.Cfg)
	require.True(t, in.Metrics.SellDepthTop20.GreaterThan(d("1500")))

	plan := Build(in)
	// 30% of ten orders rounds down to three, highest priced first.
	assert.Equal(t, []string{"1.080", "1.070", "1.060"}, plan.Repositions)
}

func TestBuildRepositionNeedsEnoughOrders(t *testing.T) {
	in := Input{
		Symbol: "ABCUSDT",
		Mid:    d("1.000"),
		Asks:   []core.PriceLevel{{Price: d("1.01"), Qty: d("5000")}},
		OwnOrders: []core.Order{
			{OrderID: "a", Price: d("1.05")},
			{OrderID: "b", Price: d("1.06")},
		},
		Cfg:           plannerConfig(),
		Info:          plannerInfo(),
		AvailableBase: d("100000"),
	}
	in.Metrics = Analyze(&core.Depth{Symbol: in.Symbol, Asks: in.Asks}, in.Cfg)

	plan := Build(in)
	assert.Empty(t, plan.Repositions)
}

func TestBuildBalanceTruncation(t *testing.T) {
	in := Input{
		Symbol:        "ABCUSDT",
		Mid:           d("0.998"),
		Asks:          []core.PriceLevel{{Price: d("1.000"), Qty: d("1")}},
		Cfg:           plannerConfig(),
		Info:          plannerInfo(),
		AvailableBase: d("100"), // enough for roughly the first two rungs
	}
	in.Metrics = Analyze(&core.Depth{Symbol: in.Symbol, Asks: in.Asks}, in.Cfg)

	plan := Build(in)
	assert.True(t, plan.Truncated)
	// BudgetRequired reports the full plan, not the truncated one.
	var kept decimal.Decimal
	for _, o := range plan.Orders {
		kept = kept.Add(o.Price.Mul(o.Quantity))
	}
	assert.True(t, plan.BudgetRequired.GreaterThan(kept))

	var qty decimal.Decimal
	for _, o := range plan.Orders {
		qty = qty.Add(o.Quantity)
	}
	assert.True(t, qty.LessThanOrEqual(d("100")), "plan overdraws: %s", qty)
}

func TestBuildDropsDustOrders(t *testing.T) {
	cfg := plannerConfig()
	cfg.MinDepthTop20 = d("0.01") // budget so small every rung rounds below the venue minimum
	in := Input{
		Symbol:        "ABCUSDT",
		Mid:           d("0.998"),
		Asks:          []core.PriceLevel{{Price: d("1.000"), Qty: d("1")}},
		Cfg:           cfg,
		Info:          plannerInfo(),
		AvailableBase: d("100000"),
	}
	in.Metrics = Analyze(&core.Depth{Symbol: in.Symbol, Asks: in.Asks}, in.Cfg)

	plan := Build(in)
	assert.Empty(t, plan.Orders)
}
