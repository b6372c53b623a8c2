package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"gcbbot/internal/core"
	"gcbbot/internal/marketdata"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...any)             {}
func (nopLogger) Info(msg string, fields ...any)              {}
func (nopLogger) Warn(msg string, fields ...any)              {}
func (nopLogger) Error(msg string, fields ...any)             {}
func (nopLogger) Fatal(msg string, fields ...any)             {}
func (nopLogger) WithField(key string, value any) core.Logger { return nopLogger{} }

// fakeVenue is a scriptable venue: a fixed book, balances, and canned
// order responses. Every placed order is recorded.
type fakeVenue struct {
	mu sync.Mutex

	depth    *core.Depth
	last     decimal.Decimal
	info     *core.SymbolInfo
	balances map[string]core.Balance
	open     []core.Order

	placed    []core.OrderRequest
	placeErr  error
	failAfter int // fail placements after this many successes; 0 disables
	nextID    int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		info:     &core.SymbolInfo{Symbol: "ABCUSDT", PricePrecision: 6, QuantityPrecision: 4},
		balances: map[string]core.Balance{},
	}
}

func (v *fakeVenue) setBook(bid, ask, last string) {
	v.depth = &core.Depth{Symbol: "ABCUSDT"}
	if bid != "" {
		v.depth.Bids = []core.PriceLevel{{Price: d(bid), Qty: d("1000")}}
	}
	if ask != "" {
		v.depth.Asks = []core.PriceLevel{{Price: d(ask), Qty: d("1000")}}
	}
	if last != "" {
		v.last = d(last)
	}
}

func (v *fakeVenue) setBalance(currency, available string) {
	v.balances[currency] = core.Balance{Currency: currency, Available: d(available), Total: d(available)}
}

func (v *fakeVenue) placedOrders() []core.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]core.OrderRequest(nil), v.placed...)
}

func (v *fakeVenue) Name() string { return "fake" }

func (v *fakeVenue) ServerTime(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

func (v *fakeVenue) Depth(ctx context.Context, symbol string, limit int) (*core.Depth, error) {
	return v.depth, nil
}

func (v *fakeVenue) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if v.last.IsZero() {
		return decimal.Zero, fmt.Errorf("no trades")
	}
	return v.last, nil
}

func (v *fakeVenue) SymbolInfo(ctx context.Context, symbol string) (*core.SymbolInfo, error) {
	return v.info, nil
}

func (v *fakeVenue) Balances(ctx context.Context, creds core.Credentials, currencies []string) (map[string]core.Balance, error) {
	out := make(map[string]core.Balance)
	for _, c := range currencies {
		out[c] = v.balances[c]
	}
	return out, nil
}

func (v *fakeVenue) OpenOrders(ctx context.Context, creds core.Credentials, symbol string, side core.OrderSide) ([]core.Order, error) {
	return v.open, nil
}

func (v *fakeVenue) PlaceOrder(ctx context.Context, creds core.Credentials, req core.OrderRequest) (*core.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.placeErr != nil {
		return nil, v.placeErr
	}
	if v.failAfter > 0 && len(v.placed) >= v.failAfter {
		return nil, fmt.Errorf("order rejected")
	}
	v.placed = append(v.placed, req)
	v.nextID++
	return &core.Order{
		OrderID:       fmt.Sprintf("ord-%d", v.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		OrigQty:       req.Quantity,
	}, nil
}

func (v *fakeVenue) PlaceBatch(ctx context.Context, creds core.Credentials, items []core.OrderRequest) (*core.BatchResult, error) {
	result := &core.BatchResult{ClientBatchID: "batch-1"}
	for _, req := range items {
		order, err := v.PlaceOrder(ctx, creds, req)
		if err != nil {
			result.Failed = append(result.Failed, core.BatchFailure{Request: req, Err: err.Error()})
			continue
		}
		result.Placed = append(result.Placed, *order)
	}
	return result, nil
}

func (v *fakeVenue) CancelOrder(ctx context.Context, creds core.Credentials, symbol, orderID string) error {
	return nil
}

func (v *fakeVenue) CancelBatch(ctx context.Context, creds core.Credentials, symbol string, orderIDs []string) error {
	return nil
}

func (v *fakeVenue) CancelAllOpen(ctx context.Context, creds core.Credentials, symbol string, side core.OrderSide) error {
	return nil
}

func newTestDeps(venue *fakeVenue) Deps {
	return Deps{
		Venue:  venue,
		Market: marketdata.NewProvider(venue, time.Nanosecond),
		Logger: nopLogger{},
	}
}

func testBot(kind core.StrategyKind, params core.Params, state core.State) *core.BotSpec {
	return &core.BotSpec{
		ID:        "bot-1",
		UserID:    "user-1",
		Name:      "test bot",
		Symbol:    "ABCUSDT",
		Strategy:  kind,
		IsActive:  true,
		IsRunning: true,
		Params:    params,
		State:     state,
	}
}

var testCreds = core.Credentials{APIKey: "k", APISecret: "s"}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"ABCUSDT", "ABC", "USDT"},
		{"XYZUSDC", "XYZ", "USDC"},
		{"ABCBTC", "ABC", "BTC"},
		{"WEIRD", "WEIRD", "USDT"},
	}
	for _, tt := range tests {
		base, quote := splitSymbol(tt.symbol)
		assert.Equal(t, tt.base, base, tt.symbol)
		assert.Equal(t, tt.quote, quote, tt.symbol)
	}
}

func TestQtyFromQuote(t *testing.T) {
	qty, err := qtyFromQuote(d("5"), d("0.995"), 4)
	assert.NoError(t, err)
	assert.True(t, qty.Equal(d("5.0251")), "got %s", qty)

	_, err = qtyFromQuote(d("0.001"), d("1"), 2)
	assert.Error(t, err, "dust must be rejected")

	_, err = qtyFromQuote(d("5"), decimal.Zero, 2)
	assert.Error(t, err)
}
