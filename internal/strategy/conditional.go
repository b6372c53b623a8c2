package strategy

import (
	"context"
	"time"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/exchange"
)

// Conditional fires user-defined one-shot orders when a price crosses a
// threshold. Conditions are independent: several may trigger on the same
// tick, each gated by its own cooldown.
type Conditional struct {
	deps Deps
}

func NewConditional(deps Deps) *Conditional { return &Conditional{deps: deps} }

func (s *Conditional) Kind() core.StrategyKind { return core.StrategyConditional }

func (s *Conditional) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	params := bot.Params.(core.ConditionalParams)
	state := bot.State.(core.ConditionalState)
	if state.Conditions == nil {
		state.Conditions = make(map[string]core.ConditionState)
	}
	now := time.Now()

	var (
		placed  []core.OrderRef
		failed  []core.OrderFailure
		trades  []*core.Trade
		skipped int
	)

	for i, cond := range params.Conditions {
		symbol := cond.Symbol
		if symbol == "" {
			symbol = bot.Symbol
		}

		cs := state.Conditions[cond.ID]
		if cd := time.Duration(cond.CooldownSeconds) * time.Second; cd > 0 && !cs.LastTriggeredAt.IsZero() {
			if now.Sub(cs.LastTriggeredAt) < cd {
				skipped++
				continue
			}
		}

		snap, err := s.deps.Market.Snapshot(ctx, symbol)
		if err != nil {
			return &engine.Result{State: state}, err
		}
		if !cond.Op.Eval(snap.LastTrade, cond.Threshold) {
			continue
		}

		req, err := s.buildRequest(ctx, symbol, cond, i)
		if err != nil {
			failed = append(failed, core.OrderFailure{Reason: err.Error(), Symbol: symbol, Side: cond.Side})
			trades = append(trades, failedTrade(bot, core.OrderRequest{Symbol: symbol, Side: cond.Side, Type: cond.Type}, err))
			continue
		}

		order, err := s.deps.Venue.PlaceOrder(ctx, creds, req)
		if err != nil {
			failed = append(failed, failure(req, err))
			trades = append(trades, failedTrade(bot, req, err))
			continue
		}

		placed = append(placed, ref(order))
		trades = append(trades, tradeFromOrder(bot, req, order))

		cs.TriggerCount++
		cs.LastTriggeredAt = now
		state.Conditions[cond.ID] = cs
		state.TriggerCount++
	}

	result := &engine.Result{State: state, Trades: trades}
	switch {
	case len(placed) > 0 && len(failed) > 0:
		result.Outcome = core.Partial(placed, failed).With("triggered", len(placed)+len(failed))
	case len(placed) > 0:
		result.Outcome = core.Submitted(placed...).With("triggered", len(placed))
	case len(failed) > 0:
		result.Outcome = core.Failed("all triggered conditions failed", nil)
	case skipped > 0 && skipped == len(params.Conditions):
		result.Outcome = core.Skipped("cooldown")
	default:
		result.Outcome = core.Noop()
	}
	return result, nil
}

func (s *Conditional) buildRequest(ctx context.Context, symbol string, cond core.PriceCondition, idx int) (core.OrderRequest, error) {
	req := core.OrderRequest{
		Symbol:        symbol,
		Side:          cond.Side,
		Type:          cond.Type,
		ClientOrderID: exchange.ClientOrderID("cond", idx),
	}

	// Market buys spend quote directly; every other shape needs base qty
	// at the symbol's precision.
	if cond.Type == core.TypeMarket && cond.Side == core.SideBuy {
		req.QuoteAmount = cond.Amount
		return req, nil
	}

	info, err := s.deps.Market.SymbolInfo(ctx, symbol)
	if err != nil {
		return req, err
	}
	if cond.Side == core.SideBuy {
		// Amount is quote units for buys; convert at the limit price.
		qty, err := qtyFromQuote(cond.Amount, cond.LimitPrice, info.QuantityPrecision)
		if err != nil {
			return req, err
		}
		req.Quantity = qty
	} else {
		// Amount is base units for sells.
		qty, err := roundBase(cond.Amount, info.QuantityPrecision)
		if err != nil {
			return req, err
		}
		req.Quantity = qty
	}
	if cond.Type == core.TypeLimit {
		req.Price = cond.LimitPrice
		req.TimeInForce = "GTC"
	}
	return req, nil
}
