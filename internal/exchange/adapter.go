package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"gcbbot/internal/core"
	apperrors "gcbbot/pkg/errors"
	"gcbbot/pkg/httpx"
)

const (
	recvWindowMillis = 5000
	timeDriftRetries = 3
	maxBatchItems    = 10
	batchPause       = 400 * time.Millisecond
)

// paths maps the venue endpoints. The two venues expose the same shapes
// under slightly different prefixes.
// Cancels are DELETE against the order surfaces: single cancel appends
// the order id to Order, batch cancel hits BatchOrder, and cancel-all
// hits OpenOrder.
type paths struct {
	Time       string
	Depth      string
	Ticker     string
	Symbols    string
	Balances   string
	OpenOrders string
	Order      string
	BatchOrder string
	OpenOrder  string
}

// signFunc signs one outgoing request with the caller's credentials and
// the venue-adjusted timestamp.
type signFunc func(creds core.Credentials, ts int64, method, requestPath string, query url.Values, body []byte, req *http.Request) error

// classifyFunc maps a venue result code to one of the shared sentinel
// errors, or nil for codes with no special handling.
type classifyFunc func(code string) error

// adapter is the shared REST client machinery behind both venue clients.
// Venue specifics reduce to paths, a signer and a code classifier.
type adapter struct {
	name     string
	http     *httpx.Client
	clock    *Clock
	limiter  *rate.Limiter
	log      core.Logger
	warnings *Warnings
	paths    paths
	sign     signFunc
	classify classifyFunc
}

func newAdapter(name string, client *httpx.Client, limiter *rate.Limiter, log core.Logger, p paths, sign signFunc, classify classifyFunc) *adapter {
	a := &adapter{
		name:     name,
		http:     client,
		limiter:  limiter,
		log:      log.WithField("venue", name),
		warnings: NewWarnings(time.Minute),
		paths:    p,
		sign:     sign,
		classify: classify,
	}
	a.clock = NewClock(a.fetchServerTime)
	return a
}

func (a *adapter) Name() string { return a.name }

func (a *adapter) fetchServerTime(ctx context.Context) (int64, error) {
	var payload serverTimePayload
	if err := a.public(ctx, http.MethodGet, a.paths.Time, nil, &payload); err != nil {
		return 0, err
	}
	if payload.millis() == 0 {
		return 0, fmt.Errorf("%s: empty server time", a.name)
	}
	return payload.millis(), nil
}

// ServerTime forces a resync and returns the venue clock.
func (a *adapter) ServerTime(ctx context.Context) (int64, error) {
	if err := a.clock.Resync(ctx); err != nil {
		return 0, err
	}
	return time.Now().UnixMilli() + a.clock.OffsetMilli(), nil
}

func (a *adapter) Depth(ctx context.Context, symbol string, limit int) (*core.Depth, error) {
	q := url.Values{"symbol": {symbol}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var payload depthPayload
	if err := a.public(ctx, http.MethodGet, a.paths.Depth, q, &payload); err != nil {
		return nil, err
	}
	return payload.toDepth(symbol)
}

func (a *adapter) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var payload tickerPayload
	q := url.Values{"symbol": {symbol}}
	if err := a.public(ctx, http.MethodGet, a.paths.Ticker, q, &payload); err != nil {
		return decimal.Zero, err
	}
	price := looseDecimal(payload.Price)
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("%s: %w: no last trade for %s", a.name, apperrors.ErrMarketData, symbol)
	}
	return price, nil
}

func (a *adapter) SymbolInfo(ctx context.Context, symbol string) (*core.SymbolInfo, error) {
	var payload []symbolPayload
	q := url.Values{"symbol": {symbol}}
	if err := a.public(ctx, http.MethodGet, a.paths.Symbols, q, &payload); err != nil {
		return nil, err
	}
	for _, s := range payload {
		if s.Symbol == symbol {
			return &core.SymbolInfo{
				Symbol:            s.Symbol,
				PricePrecision:    s.PricePrecision,
				QuantityPrecision: s.QuantityPrecision,
			}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w: %s", a.name, apperrors.ErrInvalidSymbol, symbol)
}

func (a *adapter) Balances(ctx context.Context, creds core.Credentials, currencies []string) (map[string]core.Balance, error) {
	var payload []balancePayload
	if err := a.signed(ctx, creds, http.MethodGet, a.paths.Balances, nil, nil, &payload); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		want[c] = true
	}
	out := make(map[string]core.Balance)
	for i := range payload {
		b := payload[i].toBalance()
		if len(want) == 0 || want[b.Currency] {
			out[b.Currency] = b
		}
	}
	return out, nil
}

func (a *adapter) OpenOrders(ctx context.Context, creds core.Credentials, symbol string, side core.OrderSide) ([]core.Order, error) {
	q := url.Values{"symbol": {symbol}}
	var payload []orderPayload
	if err := a.signed(ctx, creds, http.MethodGet, a.paths.OpenOrders, q, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]core.Order, 0, len(payload))
	for i := range payload {
		o := payload[i].toOrder()
		if side != "" && o.Side != side {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (a *adapter) PlaceOrder(ctx context.Context, creds core.Credentials, req core.OrderRequest) (*core.Order, error) {
	var payload orderPayload
	if err := a.signed(ctx, creds, http.MethodPost, a.paths.Order, nil, encodeOrder(req), &payload); err != nil {
		return nil, err
	}
	order := payload.toOrder()
	if order.Symbol == "" {
		order.Symbol = req.Symbol
	}
	if order.Side == "" {
		order.Side = req.Side
	}
	return &order, nil
}

// PlaceBatch submits orders in venue-sized chunks with a pause between
// chunks, classifying per-item rejections instead of failing the batch.
func (a *adapter) PlaceBatch(ctx context.Context, creds core.Credentials, items []core.OrderRequest) (*core.BatchResult, error) {
	result := &core.BatchResult{ClientBatchID: NewBatchID()}
	for offset := 0; offset < len(items); offset += maxBatchItems {
		end := offset + maxBatchItems
		if end > len(items) {
			end = len(items)
		}
		if offset > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(batchPause):
			}
		}
		if err := a.placeChunk(ctx, creds, result, items[offset:end], offset); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (a *adapter) placeChunk(ctx context.Context, creds core.Credentials, result *core.BatchResult, chunk []core.OrderRequest, offset int) error {
	bodies := make([]orderBody, len(chunk))
	for i, req := range chunk {
		bodies[i] = encodeOrder(req)
	}
	body := map[string]any{
		"clientBatchId": result.ClientBatchID,
		"orders":        bodies,
	}
	var payload batchPayload
	if err := a.signed(ctx, creds, http.MethodPost, a.paths.BatchOrder, nil, body, &payload); err != nil {
		return err
	}
	for i := range payload.Items {
		item := &payload.Items[i]
		if item.rejected() {
			idx := offset + i
			failure := core.BatchFailure{Index: idx, Err: fmt.Sprintf("%s: %s", item.Code, item.Msg)}
			if idx < offset+len(chunk) {
				failure.Request = chunk[i]
			}
			result.Failed = append(result.Failed, failure)
			continue
		}
		o := item.toOrder()
		if o.Symbol == "" && i < len(chunk) {
			o.Symbol = chunk[i].Symbol
		}
		result.Placed = append(result.Placed, o)
	}
	return nil
}

func (a *adapter) CancelOrder(ctx context.Context, creds core.Credentials, symbol, orderID string) error {
	q := url.Values{"symbol": {symbol}}
	return a.signed(ctx, creds, http.MethodDelete, a.paths.Order+"/"+orderID, q, nil, nil)
}

func (a *adapter) CancelBatch(ctx context.Context, creds core.Credentials, symbol string, orderIDs []string) error {
	for offset := 0; offset < len(orderIDs); offset += maxBatchItems {
		end := offset + maxBatchItems
		if end > len(orderIDs) {
			end = len(orderIDs)
		}
		if offset > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(batchPause):
			}
		}
		body := map[string]any{"symbol": symbol, "orderIds": orderIDs[offset:end]}
		if err := a.signed(ctx, creds, http.MethodDelete, a.paths.BatchOrder, nil, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *adapter) CancelAllOpen(ctx context.Context, creds core.Credentials, symbol string, side core.OrderSide) error {
	body := map[string]string{"symbol": symbol}
	if side != "" {
		body["side"] = string(side)
	}
	return a.signed(ctx, creds, http.MethodDelete, a.paths.OpenOrder, nil, body, nil)
}

// public issues an unauthenticated call.
func (a *adapter) public(ctx context.Context, method, path string, query url.Values, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	raw, err := a.http.Do(ctx, method, path, query, nil, nil)
	if err != nil {
		return a.wrapTransport(err)
	}
	return a.decode(raw, out)
}

// signed issues an authenticated call. Time-drift rejections trigger a
// clock resync and a fresh, re-signed attempt, up to timeDriftRetries.
func (a *adapter) signed(ctx context.Context, creds core.Credentials, method, path string, query url.Values, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
	}

	sign := func(req *http.Request, raw []byte) error {
		ts, err := a.clock.NowMilli(req.Context())
		if err != nil {
			return fmt.Errorf("venue clock: %w", err)
		}
		return a.sign(creds, ts, method, path, query, raw, req)
	}

	var lastErr error
	for attempt := 0; attempt < timeDriftRetries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		raw, err := a.http.Do(ctx, method, path, query, encoded, sign)
		if err != nil {
			err = a.wrapTransport(err)
		} else {
			err = a.decode(raw, out)
		}
		if err == nil {
			return nil
		}
		if !apperrors.IsTimeDrift(err) {
			return err
		}
		lastErr = err
		if a.warnings.Allow() {
			a.log.Warn("venue clock drift, resyncing", "attempt", attempt+1, "offset_ms", a.clock.OffsetMilli())
		}
		if rerr := a.clock.Resync(ctx); rerr != nil {
			return fmt.Errorf("resync after drift: %w", rerr)
		}
	}
	return lastErr
}

// decode unwraps the response envelope, classifying non-ok result codes.
func (a *adapter) decode(raw []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: decode envelope: %w", a.name, err)
	}
	if !env.ok() {
		return &apperrors.VenueError{
			Venue: a.name,
			Code:  env.code(),
			Msg:   env.text(),
			Kind:  a.classify(env.code()),
		}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode payload: %w", a.name, err)
	}
	return nil
}

// wrapTransport maps HTTP-level failures onto the shared sentinels. Error
// envelopes delivered with a non-2xx status still carry venue codes, so
// the body is decoded before falling back to the status class.
func (a *adapter) wrapTransport(err error) error {
	var apiErr *httpx.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w: %w", a.name, apperrors.ErrNetwork, err)
	}

	var env envelope
	if len(apiErr.Body) > 0 && json.Unmarshal(apiErr.Body, &env) == nil && env.code() != "" {
		return &apperrors.VenueError{
			Venue: a.name,
			Code:  env.code(),
			Msg:   env.text(),
			Kind:  a.classify(env.code()),
		}
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return &apperrors.VenueError{
			Venue:   a.name,
			Code:    strconv.Itoa(apiErr.StatusCode),
			Msg:     "too many requests",
			Backoff: 5 * time.Second,
			Kind:    apperrors.ErrRateLimitExceeded,
		}
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w: status %d", a.name, apperrors.ErrAuthenticationFailed, apiErr.StatusCode)
	default:
		return fmt.Errorf("%s: %w", a.name, apiErr)
	}
}
