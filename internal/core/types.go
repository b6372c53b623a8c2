// Package core defines the domain types and interfaces shared by the
// supervisor, the strategy engines and the storage layer.
package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyKind discriminates the bot spec variants.
type StrategyKind string

const (
	StrategyConditional   StrategyKind = "conditional"
	StrategyAccumulator   StrategyKind = "accumulator"
	StrategyStabilizer    StrategyKind = "stabilizer"
	StrategyMaker         StrategyKind = "maker"
	StrategyBuyWall       StrategyKind = "buywall"
	StrategyPriceKeeper   StrategyKind = "pricekeeper"
	StrategySellLiquidity StrategyKind = "sellliquidity"
	StrategyPriceGap      StrategyKind = "pricegap"
)

// AllStrategies lists every strategy kind the supervisor can host.
var AllStrategies = []StrategyKind{
	StrategyConditional,
	StrategyAccumulator,
	StrategyStabilizer,
	StrategyMaker,
	StrategyBuyWall,
	StrategyPriceKeeper,
	StrategySellLiquidity,
	StrategyPriceGap,
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the venue order type.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// ReferencePrice names which price a strategy keys its decisions on.
// The legacy implementations mixed last-trade, best-ask and mid implicitly;
// here it is always a declared parameter.
type ReferencePrice string

const (
	RefLastTrade ReferencePrice = "lastTrade"
	RefBestAsk   ReferencePrice = "bestAsk"
	RefMid       ReferencePrice = "mid"
)

// Credentials are a user's venue API credentials. The secret must never be
// logged or embedded in activity payloads.
type Credentials struct {
	APIKey    string
	APISecret string
}

// User owns credentials and bots. A bot may only execute when its owning
// user has credentials present and BotEnabled is true.
type User struct {
	ID         string
	APIKey     string
	APISecret  string
	BotEnabled bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasCredentials reports whether both key and secret are present.
func (u *User) HasCredentials() bool {
	return u.APIKey != "" && u.APISecret != ""
}

// BotSpec is the persisted description of one bot. Params are frontend-owned
// intent, State is engine-owned runtime. The two are stored and updated
// separately so writers on disjoint field sets never conflict.
type BotSpec struct {
	ID             string
	UserID         string
	Name           string
	Symbol         string
	Strategy       StrategyKind
	IsActive       bool
	IsRunning      bool
	Params         Params
	State          State
	NextRunAt      time.Time // zero means due immediately
	LastCheckedAt  time.Time
	LastExecutedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TradeStatus classifies a trade record.
type TradeStatus string

const (
	TradePlaced    TradeStatus = "placed"
	TradeFilled    TradeStatus = "filled"
	TradeFailed    TradeStatus = "failed"
	TradeCancelled TradeStatus = "cancelled"
)

// Trade is an append-only record of one order submission outcome.
// Trade records are never mutated after insert.
type Trade struct {
	ID           string
	BotID        string
	UserID       string
	Strategy     StrategyKind
	Symbol       string
	Side         OrderSide
	Type         OrderType
	RequestedQty decimal.Decimal
	ExecutedQty  decimal.Decimal
	Price        decimal.Decimal
	QuoteAmount  decimal.Decimal
	VenueOrderID string
	Status       TradeStatus
	Error        string
	Raw          json.RawMessage
	CreatedAt    time.Time
}

// Severity classifies an activity log entry.
type Severity string

const (
	SevInfo      Severity = "info"
	SevSuccess   Severity = "success"
	SevWarn      Severity = "warn"
	SevError     Severity = "error"
	SevTrade     Severity = "trade"
	SevLiquidity Severity = "liquidity"
)

// ActivityEntry is one activity log line. BotID is empty for
// supervisor-wide entries.
type ActivityEntry struct {
	ID        int64
	BotID     string
	Strategy  StrategyKind
	Severity  Severity
	Message   string
	Payload   map[string]any
	CreatedAt time.Time
}

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Depth is a top-N order book snapshot. Bids are sorted descending by
// price, asks ascending.
type Depth struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, or false when the bid side is empty.
func (d *Depth) BestBid() (PriceLevel, bool) {
	if len(d.Bids) == 0 {
		return PriceLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the ask side is empty.
func (d *Depth) BestAsk() (PriceLevel, bool) {
	if len(d.Asks) == 0 {
		return PriceLevel{}, false
	}
	return d.Asks[0], true
}

// SymbolInfo carries per-symbol precision metadata.
type SymbolInfo struct {
	Symbol            string
	PricePrecision    int32
	QuantityPrecision int32
}

// Balance is one asset balance.
type Balance struct {
	Currency  string
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Total     decimal.Decimal
}

// OrderRequest is a venue order to be placed. Limit orders require Price
// and Quantity; market buys may carry QuoteAmount instead of Quantity.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	QuoteAmount   decimal.Decimal
	TimeInForce   string
	ClientOrderID string
}

// Order is a venue order as reported back by the exchange.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Price         decimal.Decimal
	OrigQty       decimal.Decimal
	ExecutedQty   decimal.Decimal
	Status        string
	CreatedAt     time.Time
}

// BatchResult is the per-item classified result of a batch operation.
type BatchResult struct {
	ClientBatchID string
	Placed        []Order
	Failed        []BatchFailure
}

// BatchFailure records one rejected batch item.
type BatchFailure struct {
	Index   int
	Request OrderRequest
	Err     string
}
