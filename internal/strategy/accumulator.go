package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/exchange"
	"gcbbot/pkg/numutil"
)

var decimalTwo = decimal.NewFromInt(2)

// Accumulator spends a fixed quote budget over a number of hourly slices.
// Each slice takes half at market and rests the other half as a limit bid
// just under the ask, so later sellers fill it.
type Accumulator struct {
	deps Deps
}

func NewAccumulator(deps Deps) *Accumulator { return &Accumulator{deps: deps} }

func (s *Accumulator) Kind() core.StrategyKind { return core.StrategyAccumulator }

func (s *Accumulator) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	params := bot.Params.(core.AccumulatorParams)
	state := bot.State.(core.AccumulatorState)
	now := time.Now()

	if state.ExecutedBuys >= params.DurationHours {
		return &engine.Result{Outcome: core.Noop().With("done", true)}, nil
	}
	if !state.NextBuyAt.IsZero() && now.Before(state.NextBuyAt) {
		next := state.NextBuyAt
		return &engine.Result{Outcome: core.Skipped("slice not due"), NextRunAt: &next}, nil
	}

	snap, err := s.deps.Market.Snapshot(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}
	if snap.BestAsk.IsZero() {
		return &engine.Result{Outcome: core.Skipped("no asks")}, nil
	}
	info, err := s.deps.Market.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}

	slice := params.Slice()
	if remaining := params.TotalBudget.Sub(state.SpentUSDT); slice.GreaterThan(remaining) {
		slice = remaining
	}
	if !slice.IsPositive() {
		return &engine.Result{Outcome: core.Noop().With("budget_exhausted", true)}, nil
	}

	half := slice.Div(decimalTwo)
	ask := snap.BestAsk

	// Leg 1: take half the slice from the sellers at market.
	marketQty, err := qtyFromQuote(half, ask, info.QuantityPrecision)
	if err != nil {
		return &engine.Result{Outcome: core.Skipped("slice below venue minimum")}, nil
	}
	marketReq := core.OrderRequest{
		Symbol:        bot.Symbol,
		Side:          core.SideBuy,
		Type:          core.TypeMarket,
		Quantity:      marketQty,
		ClientOrderID: exchange.ClientOrderID("accum", 0),
	}
	marketOrder, err := s.deps.Venue.PlaceOrder(ctx, creds, marketReq)
	if err != nil {
		// Market leg failed: skip the limit leg entirely rather than rest
		// a bid for a slice that never started.
		return &engine.Result{
			Outcome: core.Failed(err.Error(), nil),
			Trades:  []*core.Trade{failedTrade(bot, marketReq, err)},
		}, nil
	}

	trades := []*core.Trade{tradeFromOrder(bot, marketReq, marketOrder)}
	placed := []core.OrderRef{ref(marketOrder)}

	// Leg 2: rest the other half just under the ask.
	offset := decimal.NewFromInt(1).Sub(params.BidOffsetPercent.Div(decimal.NewFromInt(100)))
	bidPrice := numutil.RoundPrice(ask.Mul(offset), info.PricePrecision)

	state.ExecutedBuys++
	if state.StartedAt.IsZero() {
		state.StartedAt = now
	}
	state.NextBuyAt = now.Add(time.Hour)
	state.SpentUSDT = state.SpentUSDT.Add(half)
	state.AccumulatedBase = state.AccumulatedBase.Add(marketQty)

	limitQty, qtyErr := qtyFromQuote(half, bidPrice, info.QuantityPrecision)
	if qtyErr != nil {
		next := state.NextBuyAt
		return &engine.Result{
			Outcome:   core.Partial(placed, []core.OrderFailure{{Reason: qtyErr.Error(), Symbol: bot.Symbol, Side: core.SideBuy}}),
			State:     state,
			NextRunAt: &next,
			Trades:    trades,
		}, nil
	}
	limitReq := core.OrderRequest{
		Symbol:        bot.Symbol,
		Side:          core.SideBuy,
		Type:          core.TypeLimit,
		Price:         bidPrice,
		Quantity:      limitQty,
		TimeInForce:   "GTC",
		ClientOrderID: exchange.ClientOrderID("accum", 1),
	}

	next := state.NextBuyAt
	limitOrder, err := s.deps.Venue.PlaceOrder(ctx, creds, limitReq)
	if err != nil {
		trades = append(trades, failedTrade(bot, limitReq, err))
		return &engine.Result{
			Outcome:   core.Partial(placed, []core.OrderFailure{failure(limitReq, err)}),
			State:     state,
			NextRunAt: &next,
			Trades:    trades,
		}, nil
	}

	state.SpentUSDT = state.SpentUSDT.Add(half)
	trades = append(trades, tradeFromOrder(bot, limitReq, limitOrder))
	placed = append(placed, ref(limitOrder))

	outcome := core.Submitted(placed...).
		With("slice", slice.String()).
		With("executed_buys", state.ExecutedBuys).
		With("next_buy_at", state.NextBuyAt.Format(time.RFC3339))
	return &engine.Result{Outcome: outcome, State: state, NextRunAt: &next, Trades: trades}, nil
}
