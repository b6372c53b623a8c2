package strategy

import (
	"context"
	"fmt"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/exchange"
	"gcbbot/pkg/numutil"
)

// BuyWall keeps a ladder of resting limit bids alive. First activation
// places every rung; after that, each tick reposts rungs whose orders
// left the book, whether filled or cancelled on the venue side.
type BuyWall struct {
	deps Deps
}

func NewBuyWall(deps Deps) *BuyWall { return &BuyWall{deps: deps} }

func (s *BuyWall) Kind() core.StrategyKind { return core.StrategyBuyWall }

func (s *BuyWall) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	params := bot.Params.(core.BuyWallParams)
	state := bot.State.(core.BuyWallState)

	info, err := s.deps.Market.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}

	if !state.OrdersPlaced {
		return s.placeWall(ctx, bot, creds, params, state, info)
	}
	return s.refill(ctx, bot, creds, params, state, info)
}

func (s *BuyWall) placeWall(ctx context.Context, bot *core.BotSpec, creds core.Credentials, params core.BuyWallParams, state core.BuyWallState, info *core.SymbolInfo) (*engine.Result, error) {
	var (
		placed []core.OrderRef
		failed []core.OrderFailure
		trades []*core.Trade
	)
	state.Placed = nil
	state.FailedRungs = nil

	for i, rung := range params.Rungs {
		order, req, err := s.placeRung(ctx, bot, creds, rung, info, i)
		if err != nil {
			state.FailedRungs = append(state.FailedRungs, i)
			failed = append(failed, failure(req, err))
			trades = append(trades, failedTrade(bot, req, err))
			continue
		}
		state.Placed = append(state.Placed, core.PlacedRung{RungIndex: i, OrderID: order.OrderID, Price: rung.Price})
		placed = append(placed, ref(order))
		trades = append(trades, tradeFromOrder(bot, req, order))
	}
	state.OrdersPlaced = true

	result := &engine.Result{State: state, Trades: trades}
	switch {
	case len(placed) > 0 && len(failed) > 0:
		result.Outcome = core.Partial(placed, failed).With("rungs", len(params.Rungs))
	case len(placed) > 0:
		result.Outcome = core.Submitted(placed...).With("rungs", len(params.Rungs))
	default:
		result.Outcome = core.Failed("no rung accepted", nil)
	}
	return result, nil
}

// refill reposts every rung whose guarding order is gone from the book.
func (s *BuyWall) refill(ctx context.Context, bot *core.BotSpec, creds core.Credentials, params core.BuyWallParams, state core.BuyWallState, info *core.SymbolInfo) (*engine.Result, error) {
	open, err := s.deps.Venue.OpenOrders(ctx, creds, bot.Symbol, core.SideBuy)
	if err != nil {
		return nil, err
	}
	openIDs := make(map[string]bool, len(open))
	for _, o := range open {
		openIDs[o.OrderID] = true
	}

	var (
		placed  []core.OrderRef
		failed  []core.OrderFailure
		trades  []*core.Trade
		kept    []core.PlacedRung
		refills int
	)
	guarded := make(map[int]bool, len(state.Placed))
	for _, pr := range state.Placed {
		if openIDs[pr.OrderID] {
			kept = append(kept, pr)
			guarded[pr.RungIndex] = true
		}
	}

	for i, rung := range params.Rungs {
		if guarded[i] {
			continue
		}
		order, req, err := s.placeRung(ctx, bot, creds, rung, info, i)
		if err != nil {
			failed = append(failed, failure(req, err))
			trades = append(trades, failedTrade(bot, req, err))
			continue
		}
		kept = append(kept, core.PlacedRung{RungIndex: i, OrderID: order.OrderID, Price: rung.Price})
		placed = append(placed, ref(order))
		trades = append(trades, tradeFromOrder(bot, req, order))
		refills++
	}

	state.Placed = kept
	state.TotalRefills += refills

	result := &engine.Result{State: state, Trades: trades}
	switch {
	case len(placed) > 0 && len(failed) > 0:
		result.Outcome = core.Partial(placed, failed).With("refills", refills)
	case len(placed) > 0:
		result.Outcome = core.Submitted(placed...).With("refills", refills).With("total_refills", state.TotalRefills)
	case len(failed) > 0:
		result.Outcome = core.Failed("refill rejected", nil)
	default:
		result.Outcome = core.Noop().With("guarded", len(kept))
	}
	return result, nil
}

func (s *BuyWall) placeRung(ctx context.Context, bot *core.BotSpec, creds core.Credentials, rung core.Rung, info *core.SymbolInfo, idx int) (*core.Order, core.OrderRequest, error) {
	price := numutil.RoundPrice(rung.Price, info.PricePrecision)
	req := core.OrderRequest{
		Symbol:        bot.Symbol,
		Side:          core.SideBuy,
		Type:          core.TypeLimit,
		Price:         price,
		TimeInForce:   "GTC",
		ClientOrderID: exchange.ClientOrderID("wall", idx),
	}
	qty, err := qtyFromQuote(rung.Quote, price, info.QuantityPrecision)
	if err != nil {
		return nil, req, fmt.Errorf("rung %d: %w", idx, err)
	}
	req.Quantity = qty
	order, err := s.deps.Venue.PlaceOrder(ctx, creds, req)
	if err != nil {
		return nil, req, err
	}
	return order, req, nil
}
