package liquidity

import (
	"sort"

	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/internal/exchange"
	"gcbbot/pkg/numutil"
)

// Planner geometry.
var (
	staleFloor    = decimal.RequireFromString("0.98") // own asks below mid*0.98 are stale
	staleCeil     = decimal.RequireFromString("1.25") // own asks above mid*1.25 are stale
	firstAskAt    = decimal.RequireFromString("1.005")
	firstAskSlack = decimal.RequireFromString("1.01") // first-ask rule fires when ask > mid*1.005*1.01
	depthStep     = decimal.RequireFromString("1.005") // +0.5% per depth rung
	repoFloor     = decimal.RequireFromString("1.02")  // repositioning zone (mid*1.02, mid*1.10]
	repoCeil      = decimal.RequireFromString("1.10")
	repoTrigger   = decimal.RequireFromString("1.5")
	repoShare     = decimal.RequireFromString("0.3")
	gapShare      = decimal.RequireFromString("0.2") // 20% of budget fills gaps
	depthShare    = decimal.RequireFromString("0.8") // 80% builds depth
	hundred       = decimal.NewFromInt(100)
)

// depthWeights spread the depth-fill bucket across ten rungs, percent.
var depthWeights = []int64{5, 5, 5, 5, 10, 10, 10, 15, 15, 20}

const (
	gapScanTop    = 10 // gaps are only filled within the top 10 asks
	repoMinOrders = 5  // repositioning needs more than this many own orders
)

// Input is everything the planner reads. OwnOrders are our open sell
// orders on the symbol; Asks are the market's, ascending.
type Input struct {
	Symbol        string
	Mid           decimal.Decimal
	Asks          []core.PriceLevel
	OwnOrders     []core.Order
	Metrics       core.LiquidityMetrics
	Cfg           Config
	Info          *core.SymbolInfo
	AvailableBase decimal.Decimal
}

// Plan is the planner's output: cancels first, then placements.
type Plan struct {
	StaleCancels []string // order ids outside the working band
	Repositions  []string // order ids cancelled to spread excess depth
	Orders       []core.OrderRequest
	// BudgetRequired is the quote value of the full plan before balance
	// truncation, surfaced so operators can see what a complete repair
	// would cost.
	BudgetRequired decimal.Decimal
	// Truncated reports that the balance cut orders from the plan.
	Truncated bool
}

// Build computes a maintenance plan. It never places anything itself.
func Build(in Input) Plan {
	var plan Plan
	plan.StaleCancels = staleSweep(in)
	plan.Repositions = repositionSweep(in)

	budget := in.Cfg.MinDepthTop20.Mul(in.Cfg.ScaleFactor)
	gapBudget := budget.Mul(gapShare)
	depthBudget := budget.Mul(depthShare)

	taken := newPriceSet(in)
	var proposed []core.OrderRequest
	proposed = append(proposed, gapFill(in, gapBudget, taken)...)
	proposed = append(proposed, depthFill(in, depthBudget, taken)...)

	// Balance-bounded execution: keep orders while the base adds up,
	// skipping any order that alone would overdraw.
	remaining := in.AvailableBase
	for _, req := range proposed {
		plan.BudgetRequired = plan.BudgetRequired.Add(req.Price.Mul(req.Quantity))
		if req.Quantity.GreaterThan(remaining) {
			plan.Truncated = true
			continue
		}
		remaining = remaining.Sub(req.Quantity)
		plan.Orders = append(plan.Orders, req)
	}
	for i := range plan.Orders {
		plan.Orders[i].ClientOrderID = exchange.ClientOrderID("liq", i)
	}
	return plan
}

// staleSweep flags own asks priced outside [mid*0.98, mid*1.25].
func staleSweep(in Input) []string {
	floor := in.Mid.Mul(staleFloor)
	ceil := in.Mid.Mul(staleCeil)
	var ids []string
	for _, o := range in.OwnOrders {
		if o.Price.LessThan(floor) || o.Price.GreaterThan(ceil) {
			ids = append(ids, o.OrderID)
		}
	}
	return ids
}

// repositionSweep cancels up to 30% of our orders in (mid*1.02, mid*1.10]
// when the top-20 depth overshoots 1.5x the target, highest priced first.
func repositionSweep(in Input) []string {
	target := in.Cfg.MinDepthTop20.Mul(in.Cfg.ScaleFactor).Mul(repoTrigger)
	if in.Metrics.SellDepthTop20.LessThanOrEqual(target) || len(in.OwnOrders) <= repoMinOrders {
		return nil
	}

	floor := in.Mid.Mul(repoFloor)
	ceil := in.Mid.Mul(repoCeil)
	var zone []core.Order
	for _, o := range in.OwnOrders {
		if o.Price.GreaterThan(floor) && o.Price.LessThanOrEqual(ceil) {
			zone = append(zone, o)
		}
	}
	sort.Slice(zone, func(i, j int) bool { return zone[i].Price.GreaterThan(zone[j].Price) })

	max := decimal.NewFromInt(int64(len(in.OwnOrders))).Mul(repoShare).IntPart()
	if max < 1 && len(zone) > 0 {
		max = 1
	}
	if int64(len(zone)) > max {
		zone = zone[:max]
	}
	ids := make([]string, 0, len(zone))
	for _, o := range zone {
		ids = append(ids, o.OrderID)
	}
	return ids
}

// gapFill places one order inside each over-wide gap among the top 10
// asks, plus a front order when the book starts too far above mid.
func gapFill(in Input, budget decimal.Decimal, taken *priceSet) []core.OrderRequest {
	type slot struct{ price decimal.Decimal }
	var slots []slot

	front := numutil.RoundPrice(in.Mid.Mul(firstAskAt), in.Info.PricePrecision)
	if len(in.Asks) == 0 || in.Asks[0].Price.GreaterThan(front.Mul(firstAskSlack)) {
		slots = append(slots, slot{price: front})
	}

	limit := len(in.Asks) - 1
	if limit > gapScanTop-1 {
		limit = gapScanTop - 1
	}
	halfGap := one.Add(in.Cfg.MaxOrderGap.Div(hundred).Div(decimal.NewFromInt(2)))
	for i := 0; i < limit; i++ {
		gap := numutil.GapPercent(in.Asks[i].Price, in.Asks[i+1].Price)
		if gap.GreaterThan(in.Cfg.MaxOrderGap) {
			price := numutil.RoundPrice(in.Asks[i].Price.Mul(halfGap), in.Info.PricePrecision)
			slots = append(slots, slot{price: price})
		}
	}
	if len(slots) == 0 {
		return nil
	}

	quoteEach := budget.Div(decimal.NewFromInt(int64(len(slots))))
	var out []core.OrderRequest
	for _, s := range slots {
		if req, ok := sellOrder(in, s.price, quoteEach, taken); ok {
			out = append(out, req)
		}
	}
	return out
}

// depthFill builds ten rungs above the 10th ask (or mid*1.005 on a thin
// book), stepping +0.5% per rung with the weighted budget split.
func depthFill(in Input, budget decimal.Decimal, taken *priceSet) []core.OrderRequest {
	var start decimal.Decimal
	if len(in.Asks) >= gapScanTop {
		start = in.Asks[gapScanTop-1].Price
	} else {
		start = in.Mid.Mul(firstAskAt)
	}

	var out []core.OrderRequest
	price := start
	for _, w := range depthWeights {
		price = price.Mul(depthStep)
		quote := budget.Mul(decimal.NewFromInt(w)).Div(hundred)
		rounded := numutil.RoundPrice(price, in.Info.PricePrecision)
		if req, ok := sellOrder(in, rounded, quote, taken); ok {
			out = append(out, req)
		}
	}
	return out
}

// sellOrder builds one planned ask, enforcing the price-above-mid rule,
// the dedupe set and the venue minimum.
func sellOrder(in Input, price, quote decimal.Decimal, taken *priceSet) (core.OrderRequest, bool) {
	if !price.GreaterThan(in.Mid) {
		return core.OrderRequest{}, false
	}
	if !taken.add(price) {
		return core.OrderRequest{}, false
	}
	qty := numutil.RoundQty(quote.Div(price), in.Info.QuantityPrecision)
	if !numutil.MeetsMinQty(qty) {
		return core.OrderRequest{}, false
	}
	return core.OrderRequest{
		Symbol:      in.Symbol,
		Side:        core.SideSell,
		Type:        core.TypeLimit,
		Price:       price,
		Quantity:    qty,
		TimeInForce: "GTC",
	}, true
}

// priceSet deduplicates prices at symbol precision. It is seeded with our
// own resting orders and the market's ask levels so the plan never doubles
// an existing price.
type priceSet struct {
	precision int32
	seen      map[string]bool
}

func newPriceSet(in Input) *priceSet {
	s := &priceSet{precision: in.Info.PricePrecision, seen: make(map[string]bool)}
	for _, o := range in.OwnOrders {
		s.seen[s.key(o.Price)] = true
	}
	for _, lvl := range in.Asks {
		s.seen[s.key(lvl.Price)] = true
	}
	return s
}

func (s *priceSet) key(p decimal.Decimal) string {
	return numutil.RoundPrice(p, s.precision).String()
}

// add reports whether the price was free and marks it taken.
func (s *priceSet) add(p decimal.Decimal) bool {
	k := s.key(p)
	if s.seen[k] {
		return false
	}
	s.seen[k] = true
	return true
}
