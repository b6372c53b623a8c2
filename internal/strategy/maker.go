package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/exchange"
	"gcbbot/pkg/numutil"
)

// Size bounds of the oscillation, as fractions of InitialOrderSize.
var (
	makerSizeFloor = decimal.RequireFromString("0.4")
	makerSizeCeil  = decimal.NewFromInt(1)
)

// Maker rests a bid/ask pair around a target price and oscillates the
// order size between 100% and 40% of the initial size so the book never
// shows a constant, obviously-scripted quote.
type Maker struct {
	deps Deps
}

func NewMaker(deps Deps) *Maker { return &Maker{deps: deps} }

func (s *Maker) Kind() core.StrategyKind { return core.StrategyMaker }

func (s *Maker) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	params := bot.Params.(core.MakerParams)
	state := bot.State.(core.MakerState)

	if state.TargetReached {
		return &engine.Result{Outcome: core.Skipped("price bound reached"), State: state}, nil
	}
	if state.CurrentOrderSize.IsZero() {
		// Fresh bot: start at full size, shrinking first.
		state.CurrentOrderSize = params.InitialOrderSize
		state.IsDecreasing = true
	}

	snap, err := s.deps.Market.Snapshot(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}

	// Floor/ceil are kill switches, not clamps: crossing either stops the
	// bot until the operator restarts it.
	if params.PriceCeil.IsPositive() && snap.Mid.GreaterThanOrEqual(params.PriceCeil) {
		state.TargetReached = true
		return &engine.Result{
			Outcome: core.Noop().With("reason", "ceiling crossed").With("mid", snap.Mid.String()),
			State:   state,
		}, nil
	}
	if params.PriceFloor.IsPositive() && snap.Mid.LessThanOrEqual(params.PriceFloor) {
		state.TargetReached = true
		return &engine.Result{
			Outcome: core.Noop().With("reason", "floor crossed").With("mid", snap.Mid.String()),
			State:   state,
		}, nil
	}

	info, err := s.deps.Market.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}

	halfSpread := params.SpreadPercent.Div(decimal.NewFromInt(200))
	bidPrice := numutil.RoundPrice(params.TargetPrice.Mul(decimal.NewFromInt(1).Sub(halfSpread)), info.PricePrecision)
	askPrice := numutil.RoundPrice(params.TargetPrice.Mul(decimal.NewFromInt(1).Add(halfSpread)), info.PricePrecision)

	qty, err := roundBase(state.CurrentOrderSize, info.QuantityPrecision)
	if err != nil {
		return &engine.Result{Outcome: core.Skipped("order size below venue minimum"), State: state}, nil
	}

	reqs := []core.OrderRequest{
		{
			Symbol: bot.Symbol, Side: core.SideBuy, Type: core.TypeLimit,
			Price: bidPrice, Quantity: qty, TimeInForce: "GTC",
			ClientOrderID: exchange.ClientOrderID("maker", 0),
		},
		{
			Symbol: bot.Symbol, Side: core.SideSell, Type: core.TypeLimit,
			Price: askPrice, Quantity: qty, TimeInForce: "GTC",
			ClientOrderID: exchange.ClientOrderID("maker", 1),
		},
	}

	var (
		placed []core.OrderRef
		failed []core.OrderFailure
		trades []*core.Trade
	)
	for _, req := range reqs {
		order, err := s.deps.Venue.PlaceOrder(ctx, creds, req)
		if err != nil {
			failed = append(failed, failure(req, err))
			trades = append(trades, failedTrade(bot, req, err))
			continue
		}
		placed = append(placed, ref(order))
		trades = append(trades, tradeFromOrder(bot, req, order))
	}

	if len(placed) > 0 {
		state.ExecutionCount++
		state.CurrentOrderSize = s.nextSize(params, &state)
	}

	result := &engine.Result{State: state, Trades: trades}
	switch {
	case len(placed) > 0 && len(failed) > 0:
		result.Outcome = core.Partial(placed, failed)
	case len(placed) > 0:
		result.Outcome = core.Submitted(placed...).
			With("bid", bidPrice.String()).
			With("ask", askPrice.String()).
			With("size", qty.String())
	default:
		result.Outcome = core.Failed("both legs rejected", nil)
	}
	return result, nil
}

// nextSize steps the oscillation and flips direction at the bounds.
func (s *Maker) nextSize(params core.MakerParams, state *core.MakerState) decimal.Decimal {
	floor := params.InitialOrderSize.Mul(makerSizeFloor)
	ceil := params.InitialOrderSize.Mul(makerSizeCeil)

	next := state.CurrentOrderSize
	if state.IsDecreasing {
		next = next.Sub(params.IncrementStep)
		if next.LessThanOrEqual(floor) {
			next = floor
			state.IsDecreasing = false
		}
	} else {
		next = next.Add(params.IncrementStep)
		if next.GreaterThanOrEqual(ceil) {
			next = ceil
			state.IsDecreasing = true
		}
	}
	return next
}
