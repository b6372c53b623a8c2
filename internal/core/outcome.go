package core

import "encoding/json"

// OutcomeKind classifies the result of one work unit.
type OutcomeKind string

const (
	OutcomeNoop      OutcomeKind = "noop"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeSubmitted OutcomeKind = "submitted"
	OutcomePartial   OutcomeKind = "partial"
	OutcomeFailed    OutcomeKind = "failed"
)

// OrderRef identifies one accepted venue order.
type OrderRef struct {
	OrderID string
	Symbol  string
	Side    OrderSide
}

// OrderFailure records one rejected leg.
type OrderFailure struct {
	Reason string
	Symbol string
	Side   OrderSide
}

// Outcome is the classified result of a strategy work unit. Only
// submitted/partial outcomes mutate monetary counters; every outcome
// produces exactly one activity log entry.
type Outcome struct {
	Kind    OutcomeKind
	Reason  string
	Orders  []OrderRef
	Failed  []OrderFailure
	Raw     json.RawMessage
	Payload map[string]any
}

// Noop reports that conditions were not met.
func Noop() Outcome { return Outcome{Kind: OutcomeNoop} }

// Skipped reports a gate (cooldown, missing credentials, balance).
func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// Submitted reports orders accepted by the venue.
func Submitted(orders ...OrderRef) Outcome {
	return Outcome{Kind: OutcomeSubmitted, Orders: orders}
}

// Partial reports that some legs failed.
func Partial(ok []OrderRef, failed []OrderFailure) Outcome {
	return Outcome{Kind: OutcomePartial, Orders: ok, Failed: failed}
}

// Failed reports that no orders were placed.
func Failed(reason string, raw json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Raw: raw}
}

// Executed reports whether the outcome placed at least one order.
func (o Outcome) Executed() bool {
	return o.Kind == OutcomeSubmitted || o.Kind == OutcomePartial
}

// With attaches a structured payload field, for the activity log entry.
func (o Outcome) With(key string, value any) Outcome {
	if o.Payload == nil {
		o.Payload = make(map[string]any)
	}
	o.Payload[key] = value
	return o
}

// Severity maps the outcome kind to its activity log severity.
func (o Outcome) Severity() Severity {
	switch o.Kind {
	case OutcomeSubmitted:
		return SevTrade
	case OutcomePartial:
		return SevWarn
	case OutcomeFailed:
		return SevError
	case OutcomeSkipped:
		return SevWarn
	default:
		return SevInfo
	}
}
