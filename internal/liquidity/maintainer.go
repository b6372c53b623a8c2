package liquidity

import (
	"context"
	"fmt"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/marketdata"
)

// Maintainer is the sell-liquidity strategy: analyze the book every
// check interval and, when auto-manage is on and the verdict fails,
// execute a repair plan through batched cancels and placements.
type Maintainer struct {
	venue  core.Venue
	market *marketdata.Provider
	log    core.Logger
}

func NewMaintainer(venue core.Venue, market *marketdata.Provider, log core.Logger) *Maintainer {
	return &Maintainer{venue: venue, market: market, log: log.WithField("component", "liquidity")}
}

func (m *Maintainer) Kind() core.StrategyKind { return core.StrategySellLiquidity }

func (m *Maintainer) Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	return m.run(ctx, bot, creds, false)
}

// ForceAdjust runs one maintenance pass immediately, ignoring the
// auto-manage flag. Driven by the supervisor's control surface.
func (m *Maintainer) ForceAdjust(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*engine.Result, error) {
	return m.run(ctx, bot, creds, true)
}

func (m *Maintainer) run(ctx context.Context, bot *core.BotSpec, creds core.Credentials, force bool) (*engine.Result, error) {
	params := bot.Params.(core.SellLiquidityParams)
	state := bot.State.(core.SellLiquidityState)
	cfg := FromParams(params)

	snap, err := m.market.Snapshot(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}

	metrics := Analyze(snap.Depth, cfg)
	state.LastMetrics = metrics
	state.LiquidityOK = metrics.AllOk

	if metrics.AllOk && !force {
		return &engine.Result{
			Outcome: core.Noop().With("all_ok", true).With("depth_top20", metrics.SellDepthTop20.String()),
			State:   state,
		}, nil
	}
	if !params.AutoManage && !force {
		// Analyzer-only mode: record the verdict, touch nothing.
		return &engine.Result{
			Outcome: core.Noop().With("all_ok", false).With("auto_manage", false),
			State:   state,
		}, nil
	}

	info, err := m.market.SymbolInfo(ctx, bot.Symbol)
	if err != nil {
		return nil, err
	}
	own, err := m.venue.OpenOrders(ctx, creds, bot.Symbol, core.SideSell)
	if err != nil {
		return nil, err
	}
	base, _ := splitSymbol(bot.Symbol)
	balances, err := m.venue.Balances(ctx, creds, []string{base})
	if err != nil {
		return nil, err
	}

	plan := Build(Input{
		Symbol:        bot.Symbol,
		Mid:           snap.Mid,
		Asks:          snap.Depth.Asks,
		OwnOrders:     own,
		Metrics:       metrics,
		Cfg:           cfg,
		Info:          info,
		AvailableBase: balances[base].Available,
	})
	state.BudgetRequired = plan.BudgetRequired

	cancels := append(append([]string{}, plan.StaleCancels...), plan.Repositions...)
	if len(cancels) > 0 {
		if err := m.venue.CancelBatch(ctx, creds, bot.Symbol, cancels); err != nil {
			m.log.Warn("liquidity cancel batch failed", "bot", bot.ID, "error", err)
		} else if params.ReconcileAfterCancel {
			// The venue acks batch cancels even for unknown ids; reconcile
			// against open orders so the next plan sees reality.
			if _, err := m.venue.OpenOrders(ctx, creds, bot.Symbol, core.SideSell); err != nil {
				m.log.Warn("post-cancel reconcile failed", "bot", bot.ID, "error", err)
			}
		}
	}

	if len(plan.Orders) == 0 {
		state.TotalMaintenance++
		return &engine.Result{
			Outcome: core.Noop().
				With("cancelled", len(cancels)).
				With("truncated", plan.Truncated).
				With("budget_required", plan.BudgetRequired.String()),
			State: state,
		}, nil
	}

	m.market.Invalidate(bot.Symbol)
	batch, err := m.venue.PlaceBatch(ctx, creds, plan.Orders)
	if err != nil {
		return &engine.Result{Outcome: core.Failed(err.Error(), nil), State: state}, nil
	}

	var (
		placed []core.OrderRef
		failed []core.OrderFailure
		trades []*core.Trade
	)
	for i := range batch.Placed {
		o := &batch.Placed[i]
		placed = append(placed, core.OrderRef{OrderID: o.OrderID, Symbol: o.Symbol, Side: o.Side})
		trades = append(trades, &core.Trade{
			Symbol:       bot.Symbol,
			Side:         core.SideSell,
			Type:         core.TypeLimit,
			RequestedQty: o.OrigQty,
			Price:        o.Price,
			VenueOrderID: o.OrderID,
			Status:       core.TradePlaced,
		})
	}
	for _, f := range batch.Failed {
		failed = append(failed, core.OrderFailure{Reason: f.Err, Symbol: bot.Symbol, Side: core.SideSell})
		trades = append(trades, &core.Trade{
			Symbol:       bot.Symbol,
			Side:         core.SideSell,
			Type:         core.TypeLimit,
			RequestedQty: f.Request.Quantity,
			Price:        f.Request.Price,
			Status:       core.TradeFailed,
			Error:        f.Err,
		})
	}

	state.TotalOrdersPlaced += len(placed)
	state.TotalMaintenance++

	var outcome core.Outcome
	switch {
	case len(placed) > 0 && len(failed) > 0:
		outcome = core.Partial(placed, failed)
	case len(placed) > 0:
		outcome = core.Submitted(placed...)
	default:
		outcome = core.Failed(fmt.Sprintf("all %d planned orders rejected", len(failed)), nil)
	}
	outcome = outcome.
		With("cancelled", len(cancels)).
		With("planned", len(plan.Orders)).
		With("budget_required", plan.BudgetRequired.String()).
		With("truncated", plan.Truncated)

	return &engine.Result{Outcome: outcome, State: state, Trades: trades}, nil
}

var quoteSuffixes = []string{"USDT", "USDC", "BTC", "ETH"}

func splitSymbol(symbol string) (base, quote string) {
	for _, suffix := range quoteSuffixes {
		if len(symbol) > len(suffix) && symbol[len(symbol)-len(suffix):] == suffix {
			return symbol[:len(symbol)-len(suffix)], suffix
		}
	}
	return symbol, "USDT"
}
