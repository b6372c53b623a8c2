package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gcbbot/internal/core"
)

// ClientOrderID builds a client order id of the form
// <purpose>_<unixMillis>_<index>, e.g. "liq_1716899000123_4". The purpose
// prefix lets later sweeps recognize orders this process placed.
func ClientOrderID(purpose string, idx int) string {
	return fmt.Sprintf("%s_%d_%d", purpose, time.Now().UnixMilli(), idx)
}

// NewBatchID returns a fresh client batch id.
func NewBatchID() string { return uuid.NewString() }

// envelope is the common response wrapper both venues use. Result codes
// arrive as a number on one venue and a string on the other.
type envelope struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) code() string {
	return strings.Trim(string(e.Code), `"`)
}

func (e *envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

func (e *envelope) ok() bool {
	switch e.code() {
	case "", "0", "00000", "SUCCESS":
		return true
	}
	return false
}

type serverTimePayload struct {
	ServerTime int64 `json:"serverTime"`
	Timestamp  int64 `json:"timestamp"`
}

func (p *serverTimePayload) millis() int64 {
	if p.ServerTime != 0 {
		return p.ServerTime
	}
	return p.Timestamp
}

type depthPayload struct {
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Timestamp int64      `json:"timestamp"`
}

func (p *depthPayload) toDepth(symbol string) (*core.Depth, error) {
	bids, err := parseLevels(p.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	asks, err := parseLevels(p.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse asks: %w", err)
	}
	ts := time.Now()
	if p.Timestamp > 0 {
		ts = time.UnixMilli(p.Timestamp)
	}
	return &core.Depth{Symbol: symbol, Bids: bids, Asks: asks, Timestamp: ts}, nil
}

func parseLevels(raw [][]string) ([]core.PriceLevel, error) {
	out := make([]core.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("level has %d fields", len(pair))
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", pair[1], err)
		}
		out = append(out, core.PriceLevel{Price: price, Qty: qty})
	}
	return out, nil
}

type tickerPayload struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type symbolPayload struct {
	Symbol            string `json:"symbol"`
	PricePrecision    int32  `json:"pricePrecision"`
	QuantityPrecision int32  `json:"quantityPrecision"`
}

type balancePayload struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
}

func (p *balancePayload) toBalance() core.Balance {
	avail := looseDecimal(p.Available)
	frozen := looseDecimal(p.Frozen)
	return core.Balance{
		Currency:  strings.ToUpper(p.Currency),
		Available: avail,
		Frozen:    frozen,
		Total:     avail.Add(frozen),
	}
}

// orderPayload tolerates the venues' inconsistent order id encoding: one
// reports a numeric orderId that loses precision past 2^53 in JavaScript
// clients and ships the lossless orderIdString next to it, the other sends
// a plain string. json.Number keeps the numeric form intact either way.
type orderPayload struct {
	OrderID       json.Number `json:"orderId"`
	OrderIDString string      `json:"orderIdString"`
	ClientOrderID string      `json:"clientOrderId"`
	Symbol        string      `json:"symbol"`
	Side          string      `json:"side"`
	Type          string      `json:"ordType"`
	Price         string      `json:"ordPrice"`
	OrigQty       string      `json:"ordQty"`
	ExecutedQty   string      `json:"cumQty"`
	Status        string      `json:"ordStatus"`
	Timestamp     int64       `json:"timestamp"`
}

func (p *orderPayload) id() string {
	if p.OrderIDString != "" {
		return p.OrderIDString
	}
	return p.OrderID.String()
}

func (p *orderPayload) toOrder() core.Order {
	created := time.Time{}
	if p.Timestamp > 0 {
		created = time.UnixMilli(p.Timestamp)
	}
	return core.Order{
		OrderID:       p.id(),
		ClientOrderID: p.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          core.OrderSide(strings.ToUpper(p.Side)),
		Type:          core.OrderType(strings.ToUpper(p.Type)),
		Price:         looseDecimal(p.Price),
		OrigQty:       looseDecimal(p.OrigQty),
		ExecutedQty:   looseDecimal(p.ExecutedQty),
		Status:        p.Status,
		CreatedAt:     created,
	}
}

// batchItemPayload is one per-item result inside a batch response. A
// present non-ok code marks the item rejected while siblings succeeded.
type batchItemPayload struct {
	orderPayload
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (p *batchItemPayload) rejected() bool {
	switch p.Code {
	case "", "0", "00000", "SUCCESS":
		return false
	}
	return true
}

type batchPayload struct {
	ClientBatchID string             `json:"clientBatchId"`
	Items         []batchItemPayload `json:"orders"`
}

// orderBody is the serialized form of an order submission.
type orderBody struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrdType       string `json:"ordType"`
	OrdPrice      string `json:"ordPrice,omitempty"`
	OrdQty        string `json:"ordQty,omitempty"`
	OrdAmt        string `json:"ordAmt,omitempty"`
	TimeInForce   string `json:"timeInForce,omitempty"`
	ClientOrderID string `json:"clOrdId,omitempty"`
}

func encodeOrder(req core.OrderRequest) orderBody {
	body := orderBody{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		OrdType:       string(req.Type),
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	}
	if !req.Price.IsZero() {
		body.OrdPrice = req.Price.String()
	}
	if !req.Quantity.IsZero() {
		body.OrdQty = req.Quantity.String()
	}
	if !req.QuoteAmount.IsZero() {
		body.OrdAmt = req.QuoteAmount.String()
	}
	return body
}

// looseDecimal parses venue decimal strings, treating absent fields as
// zero. Venue payloads omit zero-valued amounts routinely.
func looseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
