package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcbbot/internal/core"
)

func keeperBot(state core.PriceKeeperState) *core.BotSpec {
	return testBot(core.StrategyPriceKeeper, core.PriceKeeperParams{
		OrderAmount: d("2"),
	}, state)
}

func TestPriceKeeperDriftWithinTolerance(t *testing.T) {
	venue := newFakeVenue()
	venue.setBook("0.999900", "1.000050", "1.000000")
	s := NewPriceKeeper(newTestDeps(venue))

	result, err := s.Evaluate(context.Background(), keeperBot(core.PriceKeeperState{}), testCreds)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNoop, result.Outcome.Kind)
	assert.Empty(t, venue.placedOrders())

	state := result.State.(core.PriceKeeperState)
	assert.True(t, state.LastMarketPrice.Equal(d("1.000000")))
	assert.True(t, state.LastAskPrice.Equal(d("1.000050")))
}

func TestPriceKeeperChasesRisingAsk(t *testing.T) {
	venue := newFakeVenue()
	venue.setBook("0.999900", "1.000200", "1.000000")
	s := NewPriceKeeper(newTestDeps(venue))

	result, err := s.Evaluate(context.Background(), keeperBot(core.PriceKeeperState{}), testCreds)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSubmitted, result.Outcome.Kind)

	orders := venue.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, core.SideBuy, orders[0].Side)
	assert.Equal(t, core.TypeMarket, orders[0].Type)
	assert.True(t, orders[0].QuoteAmount.Equal(d("2")))

	assert.Equal(t, 1, result.State.(core.PriceKeeperState).ExecutionCount)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, core.TradePlaced, result.Trades[0].Status)
}

// A last trade printed above the ask corrects itself on the next fill.
func TestPriceKeeperIgnoresMarketAboveAsk(t *testing.T) {
	venue := newFakeVenue()
	venue.setBook("0.999900", "1.000000", "1.001000")
	s := NewPriceKeeper(newTestDeps(venue))

	result, err := s.Evaluate(context.Background(), keeperBot(core.PriceKeeperState{}), testCreds)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeNoop, result.Outcome.Kind)
	assert.Empty(t, venue.placedOrders())
}

func TestPriceKeeperSkipsWithoutTrades(t *testing.T) {
	venue := newFakeVenue()
	venue.setBook("0.999900", "1.000200", "")
	s := NewPriceKeeper(newTestDeps(venue))

	result, err := s.Evaluate(context.Background(), keeperBot(core.PriceKeeperState{}), testCreds)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSkipped, result.Outcome.Kind)
}

func TestPriceKeeperFailedOrder(t *testing.T) {
	venue := newFakeVenue()
	venue.setBook("0.999900", "1.000200", "1.000000")
	venue.placeErr = assert.AnError
	s := NewPriceKeeper(newTestDeps(venue))

	result, err := s.Evaluate(context.Background(), keeperBot(core.PriceKeeperState{}), testCreds)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeFailed, result.Outcome.Kind)
	assert.Equal(t, 0, result.State.(core.PriceKeeperState).ExecutionCount)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, core.TradeFailed, result.Trades[0].Status)
}
