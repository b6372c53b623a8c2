package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/exchange"
	"gcbbot/pkg/numutil"
)

// PriceGap watches the bid/ask spread and rests a limit buy in the middle
// of any gap wider than the configured minimum, capturing sellers who
// cross the spread.
type PriceGap struct {
	deps Deps
}

func NewPriceGap(deps Deps) *PriceGap { return &PriceGap{deps: deps} }

func (s *PriceGap) Kind() core.StrategyKind { return core.StrategyPriceGap }

func (s *PriceGap) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	params := bot.Params.(core.PriceGapParams)
	state := bot.State.(core.PriceGapState)

	snap, err := s.deps.Market.Snapshot(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}
	if snap.BestBid.IsZero() || snap.BestAsk.IsZero() {
		return &engine.Result{Outcome: core.Skipped("one-sided book")}, nil
	}

	gap := numutil.GapPercent(snap.BestBid, snap.BestAsk)
	state.LastGapPercent = gap
	if gap.LessThanOrEqual(params.MinGapPercent) {
		return &engine.Result{
			Outcome: core.Noop().With("gap_pct", gap.String()),
			State:   state,
		}, nil
	}

	info, err := s.deps.Market.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}

	// Rest halfway into the gap, measured from the bid.
	half := gap.Div(decimal.NewFromInt(200))
	price := numutil.RoundPrice(snap.BestBid.Mul(decimal.NewFromInt(1).Add(half)), info.PricePrecision)
	qty, err := qtyFromQuote(params.OrderAmount, price, info.QuantityPrecision)
	if err != nil {
		return &engine.Result{Outcome: core.Skipped("amount below venue minimum"), State: state}, nil
	}

	req := core.OrderRequest{
		Symbol:        bot.Symbol,
		Side:          core.SideBuy,
		Type:          core.TypeLimit,
		Price:         price,
		Quantity:      qty,
		TimeInForce:   "GTC",
		ClientOrderID: exchange.ClientOrderID("gap", state.ExecutionCount),
	}
	order, err := s.deps.Venue.PlaceOrder(ctx, creds, req)
	if err != nil {
		return &engine.Result{
			Outcome: core.Failed(err.Error(), nil),
			State:   state,
			Trades:  []*core.Trade{failedTrade(bot, req, err)},
		}, nil
	}

	state.ExecutionCount++
	outcome := core.Submitted(ref(order)).
		With("gap_pct", gap.String()).
		With("price", price.String())
	return &engine.Result{
		Outcome: outcome,
		State:   state,
		Trades:  []*core.Trade{tradeFromOrder(bot, req, order)},
	}, nil
}
