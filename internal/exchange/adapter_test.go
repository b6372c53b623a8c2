package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcbbot/internal/core"
	apperrors "gcbbot/pkg/errors"
	"gcbbot/pkg/httpx"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...any)             {}
func (nopLogger) Info(msg string, fields ...any)              {}
func (nopLogger) Warn(msg string, fields ...any)              {}
func (nopLogger) Error(msg string, fields ...any)             {}
func (nopLogger) Fatal(msg string, fields ...any)             {}
func (nopLogger) WithField(key string, value any) core.Logger { return nopLogger{} }

// venueStub serves the venue A surface with scripted trade responses.
type venueStub struct {
	timeCalls  atomic.Int64
	orderCalls atomic.Int64
	onOrder    func(n int64, w http.ResponseWriter)
}

func (s *venueStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		s.timeCalls.Add(1)
		fmt.Fprintf(w, `{"code":"0","data":{"serverTime":%d}}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("/api/v1/trade/order", func(w http.ResponseWriter, r *http.Request) {
		s.onOrder(s.orderCalls.Add(1), w)
	})
	return mux
}

func newTestVenueA(t *testing.T, stub *venueStub) core.Venue {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})
}

func marketReq() core.OrderRequest {
	return core.OrderRequest{
		Symbol:      "ABCUSDT",
		Side:        core.SideBuy,
		Type:        core.TypeMarket,
		QuoteAmount: d("5"),
	}
}

func TestPlaceOrderSignsAndDecodes(t *testing.T) {
	stub := &venueStub{}
	stub.onOrder = func(n int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"code":"0","data":{"orderId":12345,"orderIdString":"12345","ordStatus":"NEW"}}`)
	}
	venue := newTestVenueA(t, stub)

	order, err := venue.PlaceOrder(context.Background(), testCreds, marketReq())
	require.NoError(t, err)
	assert.Equal(t, "12345", order.OrderID)
	// The adapter backfills symbol and side the venue omitted.
	assert.Equal(t, "ABCUSDT", order.Symbol)
	assert.Equal(t, core.SideBuy, order.Side)
}

// A drift rejection resyncs the clock and retries with a fresh signature.
func TestPlaceOrderRetriesOnTimeDrift(t *testing.T) {
	stub := &venueStub{}
	stub.onOrder = func(n int64, w http.ResponseWriter) {
		if n == 1 {
			fmt.Fprint(w, `{"code":"AUTH_104","message":"timestamp expired"}`)
			return
		}
		fmt.Fprint(w, `{"code":"0","data":{"orderId":"77"}}`)
	}
	venue := newTestVenueA(t, stub)

	order, err := venue.PlaceOrder(context.Background(), testCreds, marketReq())
	require.NoError(t, err)
	assert.Equal(t, "77", order.OrderID)
	assert.Equal(t, int64(2), stub.orderCalls.Load())
	// One sync before signing plus one forced by the drift rejection.
	assert.Equal(t, int64(2), stub.timeCalls.Load())
}

func TestPlaceOrderGivesUpAfterDriftRetries(t *testing.T) {
	stub := &venueStub{}
	stub.onOrder = func(n int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"code":"AUTH_105","message":"timestamp expired"}`)
	}
	venue := newTestVenueA(t, stub)

	_, err := venue.PlaceOrder(context.Background(), testCreds, marketReq())
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeDrift(err))
	assert.Equal(t, int64(3), stub.orderCalls.Load())
}

func TestPlaceOrderClassifiesVenueCodes(t *testing.T) {
	stub := &venueStub{}
	stub.onOrder = func(n int64, w http.ResponseWriter) {
		fmt.Fprint(w, `{"code":"TRADE_1001","message":"insufficient balance"}`)
	}
	venue := newTestVenueA(t, stub)

	_, err := venue.PlaceOrder(context.Background(), testCreds, marketReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	var venueErr *apperrors.VenueError
	require.ErrorAs(t, err, &venueErr)
	assert.Equal(t, "TRADE_1001", venueErr.Code)
	assert.Equal(t, "insufficient balance", venueErr.Msg)
}

// An error envelope delivered with a non-2xx status still carries the
// venue code; the transport wrapper must surface it, not the raw status.
func TestErrorEnvelopeOnBadStatus(t *testing.T) {
	stub := &venueStub{}
	stub.onOrder = func(n int64, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"TRADE_1010","message":"order rejected"}`)
	}
	venue := newTestVenueA(t, stub)

	_, err := venue.PlaceOrder(context.Background(), testCreds, marketReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

func TestRateLimitStatusCarriesBackoff(t *testing.T) {
	stub := &venueStub{}
	stub.onOrder = func(n int64, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
	}
	venue := newTestVenueA(t, stub)

	_, err := venue.PlaceOrder(context.Background(), testCreds, marketReq())
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))

	var venueErr *apperrors.VenueError
	require.ErrorAs(t, err, &venueErr)
	assert.Equal(t, 5*time.Second, venueErr.Backoff)
}

func TestTickerWithoutTradesFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/market/ticker", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"0","data":{"symbol":"ABCUSDT","price":"0"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	_, err := venue.Ticker(context.Background(), "ABCUSDT")
	assert.ErrorIs(t, err, apperrors.ErrMarketData)
}

func TestSymbolInfoUnknownSymbol(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/market/symbols", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"0","data":[{"symbol":"OTHERUSDT","pricePrecision":6,"quantityPrecision":2}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	_, err := venue.SymbolInfo(context.Background(), "ABCUSDT")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)
}

func TestBalancesFilterAndCase(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":"0","data":{"serverTime":%d}}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("/api/v1/account/balances", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"0","data":[
			{"currency":"usdt","available":"100.5","frozen":"10"},
			{"currency":"ABC","available":"7"}
		]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	balances, err := venue.Balances(context.Background(), testCreds, []string{"USDT"})
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances["USDT"].Available.Equal(d("100.5")))
	assert.True(t, balances["USDT"].Total.Equal(d("110.5")))
}

func TestPlaceBatchClassifiesPerItem(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":"0","data":{"serverTime":%d}}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("/api/v1/trade/batch-order", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ClientBatchID string            `json:"clientBatchId"`
			Orders        []json.RawMessage `json:"orders"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Orders, 3)
		fmt.Fprint(w, `{"code":"0","data":{"orders":[
			{"code":"0","orderId":"1"},
			{"code":"TRADE_1001","msg":"insufficient balance"},
			{"code":"0","orderId":"3"}
		]}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	items := []core.OrderRequest{marketReq(), marketReq(), marketReq()}
	result, err := venue.PlaceBatch(context.Background(), testCreds, items)
	require.NoError(t, err)
	assert.Len(t, result.Placed, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Failed[0].Index)
	assert.Contains(t, result.Failed[0].Err, "TRADE_1001")
	assert.NotEmpty(t, result.ClientBatchID)
}

// Large batches leave in chunks of ten with a pause between chunks.
func TestPlaceBatchChunksOfTen(t *testing.T) {
	var (
		mu     sync.Mutex
		sizes  []int
		stamps []time.Time
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":"0","data":{"serverTime":%d}}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("POST /api/v1/trade/batch-order", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Orders []json.RawMessage `json:"orders"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sizes = append(sizes, len(body.Orders))
		stamps = append(stamps, time.Now())
		mu.Unlock()
		items := make([]string, len(body.Orders))
		for i := range items {
			items[i] = fmt.Sprintf(`{"code":"0","orderId":"%d"}`, i+1)
		}
		fmt.Fprintf(w, `{"code":"0","data":{"orders":[%s]}}`, strings.Join(items, ","))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	items := make([]core.OrderRequest, 25)
	for i := range items {
		items[i] = marketReq()
	}
	result, err := venue.PlaceBatch(context.Background(), testCreds, items)
	require.NoError(t, err)
	assert.Len(t, result.Placed, 25)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []int{10, 10, 5}, sizes)
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), batchPause,
			"chunk %d left without the inter-batch pause", i)
	}
}

func TestCancelOrderDeletesByID(t *testing.T) {
	var gotID, gotSymbol string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":"0","data":{"serverTime":%d}}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("DELETE /api/v1/trade/order/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.PathValue("id")
		gotSymbol = r.URL.Query().Get("symbol")
		fmt.Fprint(w, `{"code":"0"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	require.NoError(t, venue.CancelOrder(context.Background(), testCreds, "ABCUSDT", "555"))
	assert.Equal(t, "555", gotID)
	assert.Equal(t, "ABCUSDT", gotSymbol)
}

func TestCancelBatchDeletesInChunks(t *testing.T) {
	var (
		mu     sync.Mutex
		chunks [][]string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":"0","data":{"serverTime":%d}}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("DELETE /api/v1/trade/batch-order", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Symbol   string   `json:"symbol"`
			OrderIDs []string `json:"orderIds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ABCUSDT", body.Symbol)
		mu.Lock()
		chunks = append(chunks, body.OrderIDs)
		mu.Unlock()
		fmt.Fprint(w, `{"code":"0"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("ord-%d", i)
	}
	require.NoError(t, venue.CancelBatch(context.Background(), testCreds, "ABCUSDT", ids))
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 2)
}

func TestCancelAllOpenDeletesWithSide(t *testing.T) {
	var gotBody map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":"0","data":{"serverTime":%d}}`, time.Now().UnixMilli())
	})
	mux.HandleFunc("DELETE /api/v1/trade/open-order", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"code":"0"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	venue := NewVenueA(srv.URL, 5*time.Second, 1000, nopLogger{}, httpx.Instruments{})

	require.NoError(t, venue.CancelAllOpen(context.Background(), testCreds, "ABCUSDT", core.SideSell))
	assert.Equal(t, "ABCUSDT", gotBody["symbol"])
	assert.Equal(t, "SELL", gotBody["side"])
}

func TestNetworkErrorWrapped(t *testing.T) {
	venue := NewVenueA("http://127.0.0.1:1", 500*time.Millisecond, 1000, nopLogger{}, httpx.Instruments{})
	_, err := venue.Depth(context.Background(), "ABCUSDT", 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
}
