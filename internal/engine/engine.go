// Package engine runs one scheduler loop per strategy kind. Each tick
// fans the due bots out over a shared worker pool; a per-bot try-lock
// guarantees at most one in-flight work unit per bot, so a slow venue
// call can never stack executions of the same bot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gcbbot/internal/core"
	"gcbbot/internal/telemetry"
	"gcbbot/pkg/concurrency"
	apperrors "gcbbot/pkg/errors"
	"gcbbot/pkg/retry"
)

// transientRead retries every storage read error except a missing row,
// which no retry will cure.
func transientRead(err error) bool {
	return !errors.Is(err, apperrors.ErrNotFound)
}

// workUnitTimeout bounds a single bot evaluation including venue calls.
const workUnitTimeout = 45 * time.Second

// Result is what one strategy evaluation hands back to the frame.
type Result struct {
	Outcome core.Outcome
	// State, when non-nil, replaces the bot's engine-owned runtime state.
	State core.State
	// NextRunAt, when non-nil, schedules the bot's next due time.
	NextRunAt *time.Time
	// Trades are appended to the trade history verbatim.
	Trades []*core.Trade
}

// Strategy evaluates one bot against the market. Implementations place
// orders themselves and report what happened; the frame owns persistence,
// logging and scheduling.
type Strategy interface {
	Kind() core.StrategyKind
	Evaluate(ctx context.Context, bot *core.BotSpec, creds core.Credentials) (*Result, error)
}

// Engine drives one strategy on a fixed tick.
type Engine struct {
	strategy Strategy
	repo     core.BotRepository
	creds    core.CredentialStore
	notifier core.Notifier
	pool     *concurrency.WorkerPool
	metrics  *telemetry.Metrics
	log      core.Logger
	interval time.Duration

	inflight sync.Map // bot id -> struct{}
	ring     *activityRing

	cancel context.CancelFunc
	done   chan struct{}
}

// Config wires an engine's collaborators.
type Config struct {
	Strategy Strategy
	Repo     core.BotRepository
	Creds    core.CredentialStore
	Notifier core.Notifier
	Pool     *concurrency.WorkerPool
	Metrics  *telemetry.Metrics
	Logger   core.Logger
	Interval time.Duration
}

// New creates an engine. It does not start ticking until Start.
func New(cfg Config) *Engine {
	return &Engine{
		strategy: cfg.Strategy,
		repo:     cfg.Repo,
		creds:    cfg.Creds,
		notifier: cfg.Notifier,
		pool:     cfg.Pool,
		metrics:  cfg.Metrics,
		log:      cfg.Logger.WithField("strategy", string(cfg.Strategy.Kind())),
		interval: cfg.Interval,
		ring:     newActivityRing(),
	}
}

// Recent returns the newest entries from the advisory in-memory ring.
// The persisted activity log remains the audit source of truth.
func (e *Engine) Recent(limit int) []*core.ActivityEntry {
	return e.ring.recent(limit)
}

// Kind returns the strategy kind this engine drives.
func (e *Engine) Kind() core.StrategyKind { return e.strategy.Kind() }

// Start begins the tick loop. The first tick fires immediately.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
	e.log.Info("engine started", "interval", e.interval.String())
}

// Stop cancels the tick loop and returns once it has exited. In-flight
// work units finish on the shared pool, bounded by the supervisor drain.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.log.Info("engine stopped")
}

func (e *Engine) tick(ctx context.Context) {
	kind := e.strategy.Kind()
	e.metrics.TicksTotal.WithLabelValues(string(kind)).Inc()

	var bots []*core.BotSpec
	err := retry.Do(ctx, retry.StorageRead, transientRead, func() error {
		var qerr error
		bots, qerr = e.repo.DueBots(ctx, kind, time.Now())
		return qerr
	})
	if err != nil {
		// Transient read failed twice: skip the whole tick.
		e.log.Error("due bot query failed", "error", err)
		return
	}
	e.metrics.LiveBots.WithLabelValues(string(kind)).Set(float64(len(bots)))
	if len(bots) == 0 {
		return
	}

	for _, bot := range bots {
		id := bot.ID
		if _, loaded := e.inflight.LoadOrStore(id, struct{}{}); loaded {
			// Previous work unit still running; this tick skips the bot
			// rather than queueing behind it.
			e.metrics.WorkUnitsTotal.WithLabelValues(string(kind), string(core.OutcomeSkipped)).Inc()
			continue
		}
		if err := e.pool.Submit(func() {
			defer e.inflight.Delete(id)
			e.runOne(ctx, id)
		}); err != nil {
			e.inflight.Delete(id)
			e.log.Warn("work unit rejected", "bot", id, "error", err)
		}
	}
}

// runOne executes one work unit. The bot is refetched inside the lock so
// a deactivation or parameter edit between the due query and execution is
// honored.
func (e *Engine) runOne(parent context.Context, botID string) {
	ctx, cancel := context.WithTimeout(parent, workUnitTimeout)
	defer cancel()

	kind := e.strategy.Kind()
	start := time.Now()
	log := e.log.WithField("bot", botID)

	var bot *core.BotSpec
	err := retry.Do(ctx, retry.StorageRead, transientRead, func() error {
		var gerr error
		bot, gerr = e.repo.GetBot(ctx, botID)
		return gerr
	})
	if err != nil {
		log.Error("bot refetch failed", "error", err)
		return
	}
	if !bot.IsActive || !bot.IsRunning {
		return
	}

	outcome := e.evaluate(ctx, log, bot)

	e.metrics.WorkUnitsTotal.WithLabelValues(string(kind), string(outcome.Kind)).Inc()
	e.metrics.WorkUnitSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

func (e *Engine) evaluate(ctx context.Context, log core.Logger, bot *core.BotSpec) core.Outcome {
	now := time.Now()

	creds, err := e.creds.Resolve(ctx, bot.UserID)
	if err != nil {
		// The due query filters on credentials, so hitting this means the
		// user flipped between the query and now. Not an error.
		outcome := core.Skipped("credentials unavailable")
		e.finish(ctx, log, bot, &Result{Outcome: outcome}, now)
		return outcome
	}

	if cd := bot.Params.Cooldown(); cd > 0 && !bot.LastExecutedAt.IsZero() {
		if remaining := cd - now.Sub(bot.LastExecutedAt); remaining > 0 {
			outcome := core.Skipped("cooldown").With("remaining_ms", remaining.Milliseconds())
			e.finish(ctx, log, bot, &Result{Outcome: outcome}, now)
			return outcome
		}
	}

	result, err := e.strategy.Evaluate(ctx, bot, creds)
	if err != nil {
		if result == nil {
			result = &Result{}
		}
		result.Outcome = core.Failed(err.Error(), nil)
		if apperrors.IsRateLimited(err) {
			result.Outcome = result.Outcome.With("rate_limited", true)
		}
	}
	if result == nil {
		result = &Result{Outcome: core.Noop()}
	}

	e.finish(ctx, log, bot, result, now)
	return result.Outcome
}

// finish persists everything a work unit produced: trades, the activity
// entry, and the field-scoped runtime update.
func (e *Engine) finish(ctx context.Context, log core.Logger, bot *core.BotSpec, result *Result, now time.Time) {
	kind := e.strategy.Kind()
	outcome := result.Outcome

	for _, t := range result.Trades {
		t.BotID = bot.ID
		t.UserID = bot.UserID
		t.Strategy = kind
		if err := e.repo.InsertTrade(ctx, t); err != nil {
			log.Error("trade insert failed", "error", err)
		}
	}

	for _, ref := range outcome.Orders {
		e.metrics.OrdersPlaced.WithLabelValues(string(kind), string(ref.Side)).Inc()
	}
	if n := len(outcome.Failed); n > 0 {
		e.metrics.OrdersFailed.WithLabelValues(string(kind)).Add(float64(n))
	}

	entry := &core.ActivityEntry{
		BotID:    bot.ID,
		Strategy: kind,
		Severity: outcome.Severity(),
		Message:  e.describe(bot, outcome),
		Payload:  outcome.Payload,
	}
	e.ring.add(entry)
	if err := e.repo.AppendLog(ctx, entry); err != nil {
		log.Error("activity append failed", "error", err)
	}

	upd := core.RuntimeUpdate{LastCheckedAt: &now}
	if result.State != nil {
		upd.State = result.State
	}
	if outcome.Executed() {
		upd.LastExecutedAt = &now
	}
	if result.NextRunAt != nil {
		upd.NextRunAt = result.NextRunAt
	}
	if err := e.repo.UpdateRuntime(ctx, bot.ID, upd); err != nil {
		log.Error("runtime update failed", "error", err)
	}

	switch outcome.Kind {
	case core.OutcomeSubmitted, core.OutcomePartial:
		log.Info("work unit executed", "outcome", string(outcome.Kind), "orders", len(outcome.Orders), "failed", len(outcome.Failed))
	case core.OutcomeFailed:
		log.Error("work unit failed", "reason", outcome.Reason)
		if e.notifier != nil {
			e.notifier.Notify(ctx, fmt.Sprintf("%s bot failed", kind), outcome.Reason, map[string]string{
				"bot":    bot.ID,
				"symbol": bot.Symbol,
			})
		}
	default:
		log.Debug("work unit done", "outcome", string(outcome.Kind), "reason", outcome.Reason)
	}
}

func (e *Engine) describe(bot *core.BotSpec, outcome core.Outcome) string {
	switch outcome.Kind {
	case core.OutcomeSubmitted:
		return fmt.Sprintf("%s: placed %d order(s) on %s", bot.Name, len(outcome.Orders), bot.Symbol)
	case core.OutcomePartial:
		return fmt.Sprintf("%s: placed %d order(s), %d leg(s) failed on %s", bot.Name, len(outcome.Orders), len(outcome.Failed), bot.Symbol)
	case core.OutcomeFailed:
		return fmt.Sprintf("%s: execution failed: %s", bot.Name, outcome.Reason)
	case core.OutcomeSkipped:
		return fmt.Sprintf("%s: skipped (%s)", bot.Name, outcome.Reason)
	default:
		return fmt.Sprintf("%s: conditions not met", bot.Name)
	}
}
