package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/exchange"
)

// keeperTolerance is the relative drift between last trade and best ask
// that triggers a re-sync buy: |M - A| > A * 0.0001.
var keeperTolerance = decimal.RequireFromString("0.0001")

// PriceKeeper keeps the printed last-trade price glued to the ask. When
// the ask climbs away from the last trade it fires a micro market buy so
// the ticker follows the book.
type PriceKeeper struct {
	deps Deps
}

func NewPriceKeeper(deps Deps) *PriceKeeper { return &PriceKeeper{deps: deps} }

func (s *PriceKeeper) Kind() core.StrategyKind { return core.StrategyPriceKeeper }

func (s *PriceKeeper) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	params := bot.Params.(core.PriceKeeperParams)
	state := bot.State.(core.PriceKeeperState)

	snap, err := s.deps.Market.Snapshot(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}
	if snap.LastTrade.IsZero() || snap.BestAsk.IsZero() {
		return &engine.Result{Outcome: core.Skipped("market data incomplete")}, nil
	}

	market := snap.LastTrade
	ask := snap.BestAsk
	state.LastMarketPrice = market
	state.LastAskPrice = ask

	drift := market.Sub(ask).Abs()
	tolerance := ask.Mul(keeperTolerance)

	// Fire only when the ask moved up away from the last trade. A last
	// trade above the ask corrects itself on the next fill.
	if drift.LessThanOrEqual(tolerance) || market.GreaterThanOrEqual(ask) {
		return &engine.Result{
			Outcome: core.Noop().With("drift", drift.String()).With("tolerance", tolerance.String()),
			State:   state,
		}, nil
	}

	req := core.OrderRequest{
		Symbol:        bot.Symbol,
		Side:          core.SideBuy,
		Type:          core.TypeMarket,
		QuoteAmount:   params.OrderAmount,
		ClientOrderID: exchange.ClientOrderID("keep", state.ExecutionCount),
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
	outcome := core.Submitted(ref(order)).
		With("drift", drift.String()).
		With("ask", ask.String()).
		With("spent", params.OrderAmount.String())
	return &engine.Result{
		Outcome: outcome,
		State:   state,
		Trades:  []*core.Trade{tradeFromOrder(bot, req, order)},
	}, nil
}
