// Package supervisor owns the strategy engines: it decides which engines
// boot, exposes the control surface the HTTP layer consumes, and drives
// the graceful shutdown drain.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gcbbot/internal/core"
	"gcbbot/internal/engine"
	"gcbbot/internal/liquidity"
	"gcbbot/internal/marketdata"
	"gcbbot/internal/strategy"
	"gcbbot/internal/telemetry"
	"gcbbot/pkg/concurrency"
)

// tickIntervals are the fixed per-strategy scheduler periods.
var tickIntervals = map[core.StrategyKind]time.Duration{
	core.StrategyConditional:   10 * time.Second,
	core.StrategyAccumulator:   60 * time.Second,
	core.StrategyStabilizer:    5 * time.Second,
	core.StrategyMaker:         30 * time.Second,
	core.StrategyBuyWall:       10 * time.Second,
	core.StrategyPriceKeeper:   3 * time.Second,
	core.StrategySellLiquidity: 10 * time.Second,
	core.StrategyPriceGap:      3 * time.Second,
}

// alwaysOn engines boot regardless of admitted bot counts: conditional
// bots must react to user edits between restarts, and the liquidity
// maintainer must resume watching the book immediately.
var alwaysOn = map[core.StrategyKind]bool{
	core.StrategyConditional:   true,
	core.StrategySellLiquidity: true,
}

// StrategyStatus is one engine's externally visible state.
type StrategyStatus struct {
	Running      bool `json:"running"`
	LiveBotCount int  `json:"liveBotCount"`
}

// MarketView is one symbol's last observed market in the status surface.
type MarketView struct {
	Symbol    string    `json:"symbol"`
	Mid       string    `json:"mid"`
	BestBid   string    `json:"bestBid"`
	BestAsk   string    `json:"bestAsk"`
	LastTrade string    `json:"lastTrade"`
	TakenAt   time.Time `json:"takenAt"`
}

// Status is the control surface snapshot.
type Status struct {
	PerStrategy map[core.StrategyKind]StrategyStatus `json:"perStrategy"`
	Venue       string                               `json:"venue"`
	MarketData  []MarketView                         `json:"marketData"`
}

// AdjustResult reports a forced liquidity maintenance pass.
type AdjustResult struct {
	Placed int `json:"placed"`
	Failed int `json:"failed"`
}

// Deps wires the supervisor's collaborators.
type Deps struct {
	Venue        core.Venue
	Market       *marketdata.Provider
	Repo         core.BotRepository
	Creds        core.CredentialStore
	Notifier     core.Notifier
	Metrics      *telemetry.Metrics
	Logger       core.Logger
	Pool         *concurrency.WorkerPool
	DrainTimeout time.Duration
}

// Supervisor hosts one engine per strategy kind.
type Supervisor struct {
	deps       Deps
	log        core.Logger
	maintainer *liquidity.Maintainer

	mu      sync.Mutex
	engines map[core.StrategyKind]*engine.Engine
	running map[core.StrategyKind]bool
	ctx     context.Context
}

// New builds the supervisor and its engines. Nothing ticks until Boot.
func New(deps Deps) *Supervisor {
	s := &Supervisor{
		deps:    deps,
		log:     deps.Logger.WithField("component", "supervisor"),
		engines: make(map[core.StrategyKind]*engine.Engine),
		running: make(map[core.StrategyKind]bool),
	}

	sdeps := strategy.Deps{Venue: deps.Venue, Market: deps.Market, Logger: deps.Logger}
	s.maintainer = liquidity.NewMaintainer(deps.Venue, deps.Market, deps.Logger)

	strategies := []engine.Strategy{
		strategy.NewConditional(sdeps),
		strategy.NewAccumulator(sdeps),
		strategy.NewStabilizer(sdeps, deps.Notifier),
		strategy.NewMaker(sdeps),
		strategy.NewBuyWall(sdeps),
		strategy.NewPriceKeeper(sdeps),
		strategy.NewPriceGap(sdeps),
		s.maintainer,
	}
	for _, st := range strategies {
		s.engines[st.Kind()] = engine.New(engine.Config{
			Strategy: st,
			Repo:     deps.Repo,
			Creds:    deps.Creds,
			Notifier: deps.Notifier,
			Pool:     deps.Pool,
			Metrics:  deps.Metrics,
			Logger:   deps.Logger,
			Interval: tickIntervals[st.Kind()],
		})
	}
	return s
}

// Boot starts the engines that have admitted bots, plus the always-on
// ones. Booting twice without intervening work is idempotent: counting
// and starting engines writes nothing.
func (s *Supervisor) Boot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx

	for kind, eng := range s.engines {
		if s.running[kind] {
			continue
		}
		count, err := s.deps.Repo.CountAdmitted(ctx, kind)
		if err != nil {
			return fmt.Errorf("count %s bots: %w", kind, err)
		}
		if count == 0 && !alwaysOn[kind] {
			s.log.Debug("engine idle at boot", "strategy", string(kind))
			continue
		}
		eng.Start(ctx)
		s.running[kind] = true
		s.log.Info("engine booted", "strategy", string(kind), "admitted_bots", count)
	}
	return nil
}

// Start starts one engine on demand.
func (s *Supervisor) Start(kind core.StrategyKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eng, ok := s.engines[kind]
	if !ok {
		return fmt.Errorf("unknown strategy %q", kind)
	}
	if s.running[kind] {
		return nil
	}
	if s.ctx == nil {
		return fmt.Errorf("supervisor not booted")
	}
	eng.Start(s.ctx)
	s.running[kind] = true
	return nil
}

// Stop stops one engine. In-flight work units drain on the shared pool.
func (s *Supervisor) Stop(kind core.StrategyKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eng, ok := s.engines[kind]
	if !ok {
		return fmt.Errorf("unknown strategy %q", kind)
	}
	if !s.running[kind] {
		return nil
	}
	eng.Stop()
	s.running[kind] = false
	return nil
}

// EnableForUser re-admits a user's bots. Engines re-derive admission per
// tick from storage, so flipping the flag is the whole job.
func (s *Supervisor) EnableForUser(ctx context.Context, userID string) error {
	if err := s.deps.Creds.SetBotEnabled(ctx, userID, true); err != nil {
		return err
	}
	s.log.Info("user enabled", "user", userID)
	return nil
}

// DisableForUser drops a user's bots from admission. Takes effect within
// one tick. Open orders placed earlier remain on the book deliberately.
func (s *Supervisor) DisableForUser(ctx context.Context, userID string) error {
	if err := s.deps.Creds.SetBotEnabled(ctx, userID, false); err != nil {
		return err
	}
	s.log.Info("user disabled", "user", userID)
	return nil
}

// Status reports every engine's running flag and admitted bot count.
func (s *Supervisor) Status(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &Status{
		PerStrategy: make(map[core.StrategyKind]StrategyStatus, len(s.engines)),
		Venue:       s.deps.Venue.Name(),
	}
	for kind := range s.engines {
		count, err := s.deps.Repo.CountAdmitted(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("count %s bots: %w", kind, err)
		}
		out.PerStrategy[kind] = StrategyStatus{Running: s.running[kind], LiveBotCount: count}
	}
	for _, snap := range s.deps.Market.Cached() {
		out.MarketData = append(out.MarketData, MarketView{
			Symbol:    snap.Symbol,
			Mid:       snap.Mid.String(),
			BestBid:   snap.BestBid.String(),
			BestAsk:   snap.BestAsk.String(),
			LastTrade: snap.LastTrade.String(),
			TakenAt:   snap.TakenAt,
		})
	}
	return out, nil
}

// RecentActivity reads the advisory in-memory ring of one engine.
func (s *Supervisor) RecentActivity(kind core.StrategyKind, limit int) ([]*core.ActivityEntry, error) {
	s.mu.Lock()
	eng, ok := s.engines[kind]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
	return eng.Recent(limit), nil
}

// GetLogs returns the recent activity entries for one strategy.
func (s *Supervisor) GetLogs(ctx context.Context, kind core.StrategyKind, limit int) ([]*core.ActivityEntry, error) {
	return s.deps.Repo.RecentLogs(ctx, kind, limit)
}

// ForceAdjustLiquidity runs one maintenance pass for a bot right now,
// bypassing the tick and the auto-manage flag.
func (s *Supervisor) ForceAdjustLiquidity(ctx context.Context, botID string) (*AdjustResult, error) {
	bot, err := s.deps.Repo.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot.Strategy != core.StrategySellLiquidity {
		return nil, fmt.Errorf("bot %s is %s, not %s", botID, bot.Strategy, core.StrategySellLiquidity)
	}
	creds, err := s.deps.Creds.Resolve(ctx, bot.UserID)
	if err != nil {
		return nil, err
	}

	result, err := s.maintainer.ForceAdjust(ctx, bot, creds)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, t := range result.Trades {
		t.BotID = bot.ID
		t.UserID = bot.UserID
		t.Strategy = bot.Strategy
		if err := s.deps.Repo.InsertTrade(ctx, t); err != nil {
			s.log.Error("trade insert failed", "bot", bot.ID, "error", err)
		}
	}
	upd := core.RuntimeUpdate{LastCheckedAt: &now, State: result.State}
	if result.Outcome.Executed() {
		upd.LastExecutedAt = &now
	}
	if err := s.deps.Repo.UpdateRuntime(ctx, bot.ID, upd); err != nil {
		s.log.Error("runtime update failed", "bot", bot.ID, "error", err)
	}
	if err := s.deps.Repo.AppendLog(ctx, &core.ActivityEntry{
		BotID:    bot.ID,
		Strategy: bot.Strategy,
		Severity: core.SevLiquidity,
		Message:  fmt.Sprintf("%s: forced liquidity adjustment", bot.Name),
		Payload:  result.Outcome.Payload,
	}); err != nil {
		s.log.Error("activity append failed", "bot", bot.ID, "error", err)
	}

	return &AdjustResult{
		Placed: len(result.Outcome.Orders),
		Failed: len(result.Outcome.Failed),
	}, nil
}

// Shutdown stops every engine and drains the worker pool, abandoning
// work units still running after the drain deadline.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, eng := range s.engines {
		if s.running[kind] {
			eng.Stop()
			s.running[kind] = false
		}
	}
	s.deps.Pool.StopWithTimeout(s.deps.DrainTimeout)
	s.log.Info("supervisor stopped")
}
