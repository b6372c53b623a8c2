package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/exchange"
)

// Stabilizer nudges the last-trade price toward a target with small market
// buys, bounded by a per-window quote cap. Once the cap is spent the bot
// refuses further buys until the operator raises maxBuyAmount, which opens
// a fresh window.
type Stabilizer struct {
	deps     Deps
	notifier core.Notifier
}

func NewStabilizer(deps Deps, notifier core.Notifier) *Stabilizer {
	return &Stabilizer{deps: deps, notifier: notifier}
}

func (s *Stabilizer) Kind() core.StrategyKind { return core.StrategyStabilizer }

func (s *Stabilizer) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	params := bot.Params.(core.StabilizerParams)
	state := bot.State.(core.StabilizerState)
	now := time.Now()

	// An operator edit to maxBuyAmount opens a new spend window and
	// clears the exceeded flag.
	if !state.WindowCap.Equal(params.MaxBuyAmount) {
		state.WindowCap = params.MaxBuyAmount
		state.WindowSpent = decimal.Zero
		state.ThresholdExceeded = false
	}
	if state.ThresholdExceeded {
		return &engine.Result{Outcome: core.Skipped("window cap reached"), State: state}, nil
	}

	snap, err := s.deps.Market.Snapshot(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}
	market, err := snap.Reference(params.Reference)
	if err != nil {
		return nil, err
	}
	if market.GreaterThanOrEqual(params.TargetPrice) {
		state.LastMarketPrice = market
		return &engine.Result{Outcome: core.Noop().With("market", market.String()), State: state}, nil
	}

	// Spend the smaller of the window remainder and the free balance.
	amount := params.MaxBuyAmount.Sub(state.WindowSpent)
	available, err := availableQuote(ctx, s.deps.Venue, creds, bot.Symbol)
	if err != nil {
		return nil, err
	}
	if available.LessThan(amount) {
		amount = available
	}
	if !amount.IsPositive() {
		return &engine.Result{Outcome: core.Skipped("insufficient balance"), State: state}, nil
	}

	req := core.OrderRequest{
		Symbol:        bot.Symbol,
		Side:          core.SideBuy,
		Type:          core.TypeMarket,
		QuoteAmount:   amount,
		ClientOrderID: exchange.ClientOrderID("stab", state.ExecutionCount),
	}
	order, err := s.deps.Venue.PlaceOrder(ctx, creds, req)
	if err != nil {
		return &engine.Result{
			Outcome: core.Failed(err.Error(), nil),
			State:   state,
			Trades:  []*core.Trade{failedTrade(bot, req, err)},
		}, nil
	}
	s.deps.Market.Invalidate(bot.Symbol)

	state.ExecutionCount++
	state.WindowSpent = state.WindowSpent.Add(amount)
	state.LastExecutedAt = now
	state.LastMarketPrice = market
	state.LastFinalPrice = snap.BestAsk
	if state.WindowSpent.GreaterThanOrEqual(params.MaxBuyAmount) {
		state.ThresholdExceeded = true
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, "Stabilizer executed", "market buy toward target price", map[string]string{
			"symbol": bot.Symbol,
			"spent":  amount.String(),
			"market": market.String(),
			"target": params.TargetPrice.String(),
		})
	}

	outcome := core.Submitted(ref(order)).
		With("spent", amount.String()).
		With("window_spent", state.WindowSpent.String()).
		With("threshold_exceeded", state.ThresholdExceeded)
	return &engine.Result{
		Outcome: outcome,
		State:   state,
		Trades:  []*core.Trade{tradeFromOrder(bot, req, order)},
	}, nil
}
