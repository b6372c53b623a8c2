package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Params is the frontend-owned, strategy-specific configuration of a bot.
type Params interface {
	Kind() StrategyKind
	Validate() error
	// Cooldown is the minimum interval between executions enforced by the
	// engine frame. Zero means the strategy gates itself (conditional bots
	// carry a cooldown per condition).
	Cooldown() time.Duration
}

// State is the engine-owned, strategy-specific runtime record of a bot.
type State interface {
	Kind() StrategyKind
}

// ConditionOp is a comparison operator of a price condition.
type ConditionOp string

const (
	OpLT ConditionOp = "<"
	OpGT ConditionOp = ">"
	OpLE ConditionOp = "<="
	OpGE ConditionOp = ">="
)

// Eval applies the operator to (price OP threshold).
func (op ConditionOp) Eval(price, threshold decimal.Decimal) bool {
	switch op {
	case OpLT:
		return price.LessThan(threshold)
	case OpGT:
		return price.GreaterThan(threshold)
	case OpLE:
		return price.LessThanOrEqual(threshold)
	case OpGE:
		return price.GreaterThanOrEqual(threshold)
	}
	return false
}

// PriceCondition is one user-defined trigger.
type PriceCondition struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Op              ConditionOp     `json:"op"`
	Threshold       decimal.Decimal `json:"threshold"`
	Side            OrderSide       `json:"side"`
	Type            OrderType       `json:"type"`
	Amount          decimal.Decimal `json:"amount"` // quote units for buys, base for sells
	LimitPrice      decimal.Decimal `json:"limitPrice,omitempty"`
	CooldownSeconds int             `json:"cooldownSeconds"`
}

// ConditionalParams configures the conditional alert bot.
type ConditionalParams struct {
	Conditions []PriceCondition `json:"conditions"`
}

func (ConditionalParams) Kind() StrategyKind      { return StrategyConditional }
func (ConditionalParams) Cooldown() time.Duration { return 0 }

func (p ConditionalParams) Validate() error {
	if len(p.Conditions) == 0 {
		return fmt.Errorf("conditional: at least one condition required")
	}
	// Runtime state is keyed by condition id, so ids must be unique.
	seen := make(map[string]bool, len(p.Conditions))
	for i, c := range p.Conditions {
		if c.ID == "" {
			return fmt.Errorf("conditional: condition %d: id required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("conditional: duplicate condition id %q", c.ID)
		}
		seen[c.ID] = true
		switch c.Op {
		case OpLT, OpGT, OpLE, OpGE:
		default:
			return fmt.Errorf("conditional: condition %d: unknown operator %q", i, c.Op)
		}
		if !c.Amount.IsPositive() {
			return fmt.Errorf("conditional: condition %d: amount must be positive", i)
		}
		if c.Type == TypeLimit && !c.LimitPrice.IsPositive() {
			return fmt.Errorf("conditional: condition %d: limit price required", i)
		}
	}
	return nil
}

// ConditionState is the per-condition runtime record.
type ConditionState struct {
	TriggerCount    int       `json:"triggerCount"`
	LastTriggeredAt time.Time `json:"lastTriggeredAt"`
}

// ConditionalState holds trigger counters keyed by condition id.
type ConditionalState struct {
	Conditions   map[string]ConditionState `json:"conditions"`
	TriggerCount int                       `json:"triggerCount"`
}

func (ConditionalState) Kind() StrategyKind { return StrategyConditional }

// AccumulatorParams configures the scheduled accumulator (time-sliced DCA).
type AccumulatorParams struct {
	TotalBudget      decimal.Decimal `json:"totalBudget"` // quote units
	DurationHours    int             `json:"durationHours"`
	BidOffsetPercent decimal.Decimal `json:"bidOffsetPercent"`
}

func (AccumulatorParams) Kind() StrategyKind      { return StrategyAccumulator }
func (AccumulatorParams) Cooldown() time.Duration { return 0 } // nextBuyAt gates

func (p AccumulatorParams) Validate() error {
	if !p.TotalBudget.IsPositive() {
		return fmt.Errorf("accumulator: total budget must be positive")
	}
	if p.DurationHours <= 0 {
		return fmt.Errorf("accumulator: duration must be at least one hour")
	}
	if p.BidOffsetPercent.IsNegative() {
		return fmt.Errorf("accumulator: bid offset must not be negative")
	}
	return nil
}

// Slice returns the per-hour quote budget U/H.
func (p AccumulatorParams) Slice() decimal.Decimal {
	return p.TotalBudget.Div(decimal.NewFromInt(int64(p.DurationHours)))
}

// AccumulatorState is the accumulator runtime record.
type AccumulatorState struct {
	SpentUSDT       decimal.Decimal `json:"spentUsdt"`
	AccumulatedBase decimal.Decimal `json:"accumulatedBase"`
	ExecutedBuys    int             `json:"executedBuys"`
	NextBuyAt       time.Time       `json:"nextBuyAt"`
	StartedAt       time.Time       `json:"startedAt"`
}

func (AccumulatorState) Kind() StrategyKind { return StrategyAccumulator }

// StabilizerParams configures the price stabilizer.
type StabilizerParams struct {
	TargetPrice     decimal.Decimal `json:"targetPrice"`
	MaxBuyAmount    decimal.Decimal `json:"maxBuyAmount"` // per-window quote cap
	CooldownSeconds int             `json:"cooldownSeconds"`
	Reference       ReferencePrice  `json:"reference"`
}

func (StabilizerParams) Kind() StrategyKind { return StrategyStabilizer }

func (p StabilizerParams) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

func (p StabilizerParams) Validate() error {
	if !p.TargetPrice.IsPositive() {
		return fmt.Errorf("stabilizer: target price must be positive")
	}
	if !p.MaxBuyAmount.IsPositive() {
		return fmt.Errorf("stabilizer: max buy amount must be positive")
	}
	return nil
}

// StabilizerState is the stabilizer runtime record. WindowSpent accumulates
// quote spend against MaxBuyAmount; an operator update to MaxBuyAmount
// clears ThresholdExceeded.
type StabilizerState struct {
	ThresholdExceeded bool            `json:"thresholdExceeded"`
	ExecutionCount    int             `json:"executionCount"`
	WindowSpent       decimal.Decimal `json:"windowSpent"`
	WindowCap         decimal.Decimal `json:"windowCap"` // MaxBuyAmount the window was opened with
	LastExecutedAt    time.Time       `json:"lastExecutedAt"`
	LastMarketPrice   decimal.Decimal `json:"lastMarketPrice"`
	LastFinalPrice    decimal.Decimal `json:"lastFinalPrice"`
}

func (StabilizerState) Kind() StrategyKind { return StrategyStabilizer }

// MakerParams configures the oscillating market maker.
type MakerParams struct {
	TargetPrice      decimal.Decimal `json:"targetPrice"`
	SpreadPercent    decimal.Decimal `json:"spreadPercent"`
	InitialOrderSize decimal.Decimal `json:"initialOrderSize"` // base units
	PriceFloor       decimal.Decimal `json:"priceFloor"`
	PriceCeil        decimal.Decimal `json:"priceCeil"`
	IncrementStep    decimal.Decimal `json:"incrementStep"` // base units per execution
	CooldownSeconds  int             `json:"cooldownSeconds"`
}

func (MakerParams) Kind() StrategyKind { return StrategyMaker }

func (p MakerParams) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

func (p MakerParams) Validate() error {
	if !p.TargetPrice.IsPositive() {
		return fmt.Errorf("maker: target price must be positive")
	}
	if !p.SpreadPercent.IsPositive() {
		return fmt.Errorf("maker: spread must be positive")
	}
	if !p.InitialOrderSize.IsPositive() {
		return fmt.Errorf("maker: initial order size must be positive")
	}
	if !p.IncrementStep.IsPositive() {
		return fmt.Errorf("maker: increment step must be positive")
	}
	return nil
}

// MakerState is the maker runtime record. CurrentOrderSize oscillates
// between 100% and 40% of InitialOrderSize.
type MakerState struct {
	CurrentOrderSize decimal.Decimal `json:"currentOrderSize"`
	IsDecreasing     bool            `json:"isDecreasing"`
	TargetReached    bool            `json:"targetReached"`
	ExecutionCount   int             `json:"executionCount"`
}

func (MakerState) Kind() StrategyKind { return StrategyMaker }

// Rung is one (price, quote-amount) entry of a buy wall ladder.
type Rung struct {
	Price decimal.Decimal `json:"price"`
	Quote decimal.Decimal `json:"quote"`
}

// BuyWallParams configures the static buy wall. Rungs must be sorted
// descending by price.
type BuyWallParams struct {
	TargetPrice decimal.Decimal `json:"targetPrice"`
	Rungs       []Rung          `json:"rungs"`
}

func (BuyWallParams) Kind() StrategyKind      { return StrategyBuyWall }
func (BuyWallParams) Cooldown() time.Duration { return 0 }

func (p BuyWallParams) Validate() error {
	if len(p.Rungs) == 0 {
		return fmt.Errorf("buywall: at least one rung required")
	}
	for i, r := range p.Rungs {
		if !r.Price.IsPositive() || !r.Quote.IsPositive() {
			return fmt.Errorf("buywall: rung %d: price and quote must be positive", i)
		}
		if i > 0 && r.Price.GreaterThanOrEqual(p.Rungs[i-1].Price) {
			return fmt.Errorf("buywall: rungs must be sorted descending by price")
		}
	}
	return nil
}

// PlacedRung maps a rung index to the venue order guarding it.
type PlacedRung struct {
	RungIndex int             `json:"rungIndex"`
	OrderID   string          `json:"orderId"`
	Price     decimal.Decimal `json:"price"`
}

// BuyWallState is the buy wall runtime record.
type BuyWallState struct {
	OrdersPlaced bool         `json:"ordersPlaced"`
	Placed       []PlacedRung `json:"placed"`
	FailedRungs  []int        `json:"failedRungs"`
	TotalRefills int          `json:"totalRefills"`
}

func (BuyWallState) Kind() StrategyKind { return StrategyBuyWall }

// PriceKeeperParams configures the last-trade price keeper.
type PriceKeeperParams struct {
	OrderAmount     decimal.Decimal `json:"orderAmount"` // quote units per micro buy
	CooldownSeconds int             `json:"cooldownSeconds"`
}

func (PriceKeeperParams) Kind() StrategyKind { return StrategyPriceKeeper }

func (p PriceKeeperParams) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

func (p PriceKeeperParams) Validate() error {
	if !p.OrderAmount.IsPositive() {
		return fmt.Errorf("pricekeeper: order amount must be positive")
	}
	return nil
}

// PriceKeeperState is the price keeper runtime record.
type PriceKeeperState struct {
	LastMarketPrice decimal.Decimal `json:"lastMarketPrice"`
	LastAskPrice    decimal.Decimal `json:"lastAskPrice"`
	ExecutionCount  int             `json:"executionCount"`
}

func (PriceKeeperState) Kind() StrategyKind { return StrategyPriceKeeper }

// SellLiquidityParams configures the sell-side liquidity maintainer.
// Effective thresholds are MinDepth2Percent*ScaleFactor and
// MinDepthTop20*ScaleFactor.
type SellLiquidityParams struct {
	ScaleFactor          decimal.Decimal `json:"scaleFactor"`
	MinDepth2Percent     decimal.Decimal `json:"minDepth2Percent"` // quote units
	MinDepthTop20        decimal.Decimal `json:"minDepthTop20"`    // quote units
	MinOrderCount        int             `json:"minOrderCount"`
	MaxOrderGap          decimal.Decimal `json:"maxOrderGap"` // percent
	CheckIntervalSeconds int             `json:"checkIntervalSeconds"`
	AutoManage           bool            `json:"autoManage"`
	ReconcileAfterCancel bool            `json:"reconcileAfterCancel"`
}

func (SellLiquidityParams) Kind() StrategyKind { return StrategySellLiquidity }

func (p SellLiquidityParams) Cooldown() time.Duration {
	return time.Duration(p.CheckIntervalSeconds) * time.Second
}

func (p SellLiquidityParams) Validate() error {
	if !p.ScaleFactor.IsPositive() {
		return fmt.Errorf("sellliquidity: scale factor must be positive")
	}
	if p.MinOrderCount <= 0 {
		return fmt.Errorf("sellliquidity: min order count must be positive")
	}
	if !p.MaxOrderGap.IsPositive() {
		return fmt.Errorf("sellliquidity: max order gap must be positive")
	}
	return nil
}

// LiquidityMetrics is the last observed analyzer verdict.
type LiquidityMetrics struct {
	SellDepth2Pct  decimal.Decimal `json:"sellDepth2Pct"`
	SellDepthTop20 decimal.Decimal `json:"sellDepthTop20"`
	SellOrderCount int             `json:"sellOrderCount"`
	SellGapsOk     bool            `json:"sellGapsOk"`
	Depth2PctOk    bool            `json:"depth2PctOk"`
	DepthTop20Ok   bool            `json:"depthTop20Ok"`
	OrderCountOk   bool            `json:"orderCountOk"`
	AllOk          bool            `json:"allOk"`
}

// SellLiquidityState is the maintainer runtime record.
type SellLiquidityState struct {
	LastMetrics       LiquidityMetrics `json:"lastMetrics"`
	LiquidityOK       bool             `json:"liquidityOk"`
	BudgetRequired    decimal.Decimal  `json:"budgetRequired"`
	TotalOrdersPlaced int              `json:"totalOrdersPlaced"`
	TotalMaintenance  int              `json:"totalMaintenance"`
}

func (SellLiquidityState) Kind() StrategyKind { return StrategySellLiquidity }

// PriceGapParams configures the price-gap taker.
type PriceGapParams struct {
	MinGapPercent   decimal.Decimal `json:"minGapPercent"`
	OrderAmount     decimal.Decimal `json:"orderAmount"` // quote units
	CooldownSeconds int             `json:"cooldownSeconds"`
}

func (PriceGapParams) Kind() StrategyKind { return StrategyPriceGap }

func (p PriceGapParams) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

func (p PriceGapParams) Validate() error {
	if !p.MinGapPercent.IsPositive() {
		return fmt.Errorf("pricegap: min gap must be positive")
	}
	if !p.OrderAmount.IsPositive() {
		return fmt.Errorf("pricegap: order amount must be positive")
	}
	return nil
}

// PriceGapState is the price-gap runtime record.
type PriceGapState struct {
	ExecutionCount int             `json:"executionCount"`
	LastGapPercent decimal.Decimal `json:"lastGapPercent"`
}

func (PriceGapState) Kind() StrategyKind { return StrategyPriceGap }

// DecodeParams validates the discriminator and unmarshals raw JSON into the
// typed params variant for kind.
func DecodeParams(kind StrategyKind, raw []byte) (Params, error) {
	var p Params
	switch kind {
	case StrategyConditional:
		p = &ConditionalParams{}
	case StrategyAccumulator:
		p = &AccumulatorParams{}
	case StrategyStabilizer:
		p = &StabilizerParams{}
	case StrategyMaker:
		p = &MakerParams{}
	case StrategyBuyWall:
		p = &BuyWallParams{}
	case StrategyPriceKeeper:
		p = &PriceKeeperParams{}
	case StrategySellLiquidity:
		p = &SellLiquidityParams{}
	case StrategyPriceGap:
		p = &PriceGapParams{}
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", kind, err)
	}
	return deref(p), nil
}

// DecodeState unmarshals raw JSON into the typed state variant for kind.
// Empty raw yields the zero state.
func DecodeState(kind StrategyKind, raw []byte) (State, error) {
	var s State
	switch kind {
	case StrategyConditional:
		s = &ConditionalState{}
	case StrategyAccumulator:
		s = &AccumulatorState{}
	case StrategyStabilizer:
		s = &StabilizerState{}
	case StrategyMaker:
		s = &MakerState{}
	case StrategyBuyWall:
		s = &BuyWallState{}
	case StrategyPriceKeeper:
		s = &PriceKeeperState{}
	case StrategySellLiquidity:
		s = &SellLiquidityState{}
	case StrategyPriceGap:
		s = &PriceGapState{}
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("decode %s state: %w", kind, err)
		}
	}
	return derefState(s), nil
}

func deref(p Params) Params {
	switch v := p.(type) {
	case *ConditionalParams:
		return *v
	case *AccumulatorParams:
		return *v
	case *StabilizerParams:
		return *v
	case *MakerParams:
		return *v
	case *BuyWallParams:
		return *v
	case *PriceKeeperParams:
		return *v
	case *SellLiquidityParams:
		return *v
	case *PriceGapParams:
		return *v
	}
	return p
}

func derefState(s State) State {
	switch v := s.(type) {
	case *ConditionalState:
		return *v
	case *AccumulatorState:
		return *v
	case *StabilizerState:
		return *v
	case *MakerState:
		return *v
	case *BuyWallState:
		return *v
	case *PriceKeeperState:
		return *v
	case *SellLiquidityState:
		return *v
	case *PriceGapState:
		return *v
	}
	return s
}
