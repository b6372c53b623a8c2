// Package strategy implements the per-bot evaluators hosted by the
// engines: conditional orders, scheduled accumulation, stabilization,
// oscillating market making, buy walls, price keeping and gap taking.
// The sell-liquidity maintainer lives in the liquidity package.
package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
	"gcbbot/internal/marketdata"
	"gcbbot/pkg/numutil"
)

// Deps are the collaborators every strategy shares.
type Deps struct {
	Venue  core.Venue
	Market *marketdata.Provider
	Logger core.Logger
}

// quoteBalance and baseCurrency derive asset names from a symbol of the
// form BASEQUOTE with a known quote suffix.
var quoteSuffixes = []string{"USDT", "USDC", "BTC", "ETH"}

func splitSymbol(symbol string) (base, quote string) {
	for _, suffix := range quoteSuffixes {
		if len(symbol) > len(suffix) && symbol[len(symbol)-len(suffix):] == suffix {
			return symbol[:len(symbol)-len(suffix)], suffix
		}
	}
	return symbol, "USDT"
}

// roundBase truncates a base quantity to the symbol's precision and
// enforces the venue minimum.
func roundBase(qty decimal.Decimal, precision int32) (decimal.Decimal, error) {
	rounded := numutil.RoundQty(qty, precision)
	if !numutil.MeetsMinQty(rounded) {
		return decimal.Zero, fmt.Errorf("qty %s below venue minimum", rounded)
	}
	return rounded, nil
}

// qtyFromQuote converts a quote budget into base units at the given price,
// truncated to the symbol's quantity precision.
func qtyFromQuote(quote, price decimal.Decimal, precision int32) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	qty := numutil.RoundQty(quote.Div(price), precision)
	if !numutil.MeetsMinQty(qty) {
		return decimal.Zero, fmt.Errorf("qty %s below venue minimum", qty)
	}
	return qty, nil
}

// availableQuote fetches the free quote-asset balance for a symbol.
func availableQuote(ctx context.Context, venue core.Venue, creds core.Credentials, symbol string) (decimal.Decimal, error) {
	_, quote := splitSymbol(symbol)
	balances, err := venue.Balances(ctx, creds, []string{quote})
	if err != nil {
		return decimal.Zero, err
	}
	return balances[quote].Available, nil
}

// availableBase fetches the free base-asset balance for a symbol.
func availableBase(ctx context.Context, venue core.Venue, creds core.Credentials, symbol string) (decimal.Decimal, error) {
	base, _ := splitSymbol(symbol)
	balances, err := venue.Balances(ctx, creds, []string{base})
	if err != nil {
		return decimal.Zero, err
	}
	return balances[base].Available, nil
}

// tradeFromOrder builds the placed-trade record for an accepted order.
func tradeFromOrder(bot *core.BotSpec, req core.OrderRequest, order *core.Order) *core.Trade {
	return &core.Trade{
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		RequestedQty: req.Quantity,
		ExecutedQty:  order.ExecutedQty,
		Price:        req.Price,
		QuoteAmount:  req.QuoteAmount,
		VenueOrderID: order.OrderID,
		Status:       core.TradePlaced,
	}
}

// failedTrade builds the failed-trade record for a rejected submission.
func failedTrade(bot *core.BotSpec, req core.OrderRequest, err error) *core.Trade {
	return &core.Trade{
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		RequestedQty: req.Quantity,
		Price:        req.Price,
		QuoteAmount:  req.QuoteAmount,
		Status:       core.TradeFailed,
		Error:        err.Error(),
	}
}

func ref(order *core.Order) core.OrderRef {
	return core.OrderRef{OrderID: order.OrderID, Symbol: order.Symbol, Side: order.Side}
}

func failure(req core.OrderRequest, err error) core.OrderFailure {
	return core.OrderFailure{Reason: err.Error(), Symbol: req.Symbol, Side: req.Side}
}
