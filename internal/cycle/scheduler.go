// Package cycle implements CycleScheduler (spec.md §4.13): the top-level
// run_many(bot_ids) loop that constructs one supervised per-bot task,
// ticks it on its own cycle_interval_seconds, and tears every component
// down on shutdown without letting one bot's failure take down its
// siblings. Grounded on `internal/scheduler/scheduler.go`'s supervised-
// goroutine-per-job shape (context-cancel propagation, per-job recover,
// WaitGroup drain on shutdown), generalized from the teacher's one-shot
// job dispatch to an indefinite per-bot interval loop.
package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helion-systems/helion/internal/cache"
	"github.com/helion-systems/helion/internal/checkpoint"
	"github.com/helion-systems/helion/internal/configcenter"
	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/events"
	"github.com/helion-systems/helion/internal/exchange"
	"github.com/helion-systems/helion/internal/llm"
	"github.com/helion-systems/helion/internal/obs"
	"github.com/helion-systems/helion/internal/pipeline"
	"github.com/helion-systems/helion/internal/ratelimit"
	"github.com/helion-systems/helion/internal/repo"
	"github.com/helion-systems/helion/internal/stages"
	"github.com/helion-systems/helion/internal/stream"
	"github.com/helion-systems/helion/internal/trailingstop"
)

const defaultStartingUSDT = 10_000.0

// Deps bundles every repository and process-wide collaborator the
// scheduler needs to construct a bot's runtime (spec.md §4.13 step 1).
type Deps struct {
	Bots         repo.BotRepo
	Exchanges    repo.ExchangeRepo
	Workflows    repo.WorkflowRepo
	LLMConfigs   repo.LLMConfigRepo
	TradeHistory repo.TradeHistoryRepo
	Config       *configcenter.ConfigCenter
	Checkpointer checkpoint.Store
	Events       *events.Manager
	Log          zerolog.Logger
}

// botRuntime holds everything spun up for one active bot, so teardown can
// walk it in the exact order spec.md §4.13 step 3 names.
type botRuntime struct {
	bot      *domain.BotConfig
	exchange exchange.Adapter
	streamer *stream.Manager
	graph    *pipeline.Graph
	ctx      context.Context
	cancel   context.CancelFunc
}

// Scheduler runs CycleScheduler: one supervised loop per active bot.
type Scheduler struct {
	deps     Deps
	failures *obs.FailureTracker

	mu       sync.Mutex
	runtimes map[int64]*botRuntime
}

// New builds a Scheduler against deps.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		deps:     deps,
		failures: obs.NewFailureTracker(),
		runtimes: make(map[int64]*botRuntime),
	}
}

// RunMany implements run_many(bot_ids): constructs every bot's runtime
// concurrently, launches one supervised loop per bot, and blocks until ctx
// is cancelled, at which point it cancels every loop, awaits them, and
// tears every bot's components down. An initialization failure removes
// that one bot from the active set without aborting the others.
func (s *Scheduler) RunMany(ctx context.Context, botIDs []int64) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var initErrs []error

	for _, id := range botIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt, err := s.buildRuntime(ctx, id)
			if err != nil {
				mu.Lock()
				initErrs = append(initErrs, fmt.Errorf("bot %d: %w", id, err))
				mu.Unlock()
				s.deps.Log.Error().Err(err).Int64("bot_id", id).Msg("bot initialization failed, excluded from active set")
				return
			}
			s.mu.Lock()
			s.runtimes[id] = rt
			s.mu.Unlock()
		}()
	}
	wg.Wait()

	s.mu.Lock()
	active := make([]*botRuntime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		active = append(active, rt)
	}
	s.mu.Unlock()

	var loopWG sync.WaitGroup
	for _, rt := range active {
		loopWG.Add(1)
		go func(rt *botRuntime) {
			defer loopWG.Done()
			s.runLoop(rt)
		}(rt)
	}

	<-ctx.Done()
	s.mu.Lock()
	for _, rt := range s.runtimes {
		rt.cancel()
	}
	s.mu.Unlock()
	loopWG.Wait()

	s.mu.Lock()
	for id, rt := range s.runtimes {
		s.teardown(rt)
		delete(s.runtimes, id)
	}
	s.mu.Unlock()

	if len(initErrs) > 0 {
		return fmt.Errorf("cycle: %d bot(s) failed to initialize: %v", len(initErrs), initErrs)
	}
	return nil
}

// buildRuntime implements spec.md §4.13 step 1 for one bot: repos →
// ConfigCenter lookup → ExchangeAdapter → StreamManager → PluginContext →
// PipelineGraph → (account+positions are fetched fresh at the start of
// every cycle, not here).
func (s *Scheduler) buildRuntime(ctx context.Context, botID int64) (*botRuntime, error) {
	bot, err := s.deps.Bots.GetByID(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot config: %w", err)
	}
	if err := bot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot config: %w", err)
	}

	exCfg, err := s.deps.Exchanges.GetByID(ctx, bot.ExchangeID)
	if err != nil {
		return nil, fmt.Errorf("load exchange config: %w", err)
	}
	adapter := buildAdapter(exCfg)

	llmCfg, err := s.resolveLLMConfig(ctx, bot.LLMID)
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}

	wf, err := s.deps.Workflows.GetWorkflow(ctx, bot.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	log := s.deps.Log.With().Int64("bot_id", bot.ID).Str("bot_name", bot.Name).Logger()
	limiter := ratelimit.New(ratelimit.WithMinInterval(100*time.Millisecond), ratelimit.WithWindow(time.Minute, 1200))

	var streamer *stream.Manager
	sharedCache := cache.New()
	if s.deps.Config != nil {
		sharedCache.SetCycleInterval(time.Duration(bot.CycleIntervalSeconds) * time.Second)
		sharedCache.SetTTLSource(s.deps.Config)
	}
	if bot.TradingMode == domain.ModeLive {
		watcher := stream.NewWSWatcher(liveStreamBaseURL(exCfg), log)
		streamer = stream.New(watcher, adapter, sharedCache, log)
	}

	pc := &stages.PluginContext{
		Bot:          bot,
		Exchange:     adapter,
		RateLimiter:  limiter,
		Stream:       streamer,
		Cache:        sharedCache,
		Config:       s.deps.Config,
		Trailing:     trailingstop.New(),
		Events:       s.deps.Events,
		LLMProvider:  llm.NewProvider(*llmCfg, log),
		TradeHistory: s.deps.TradeHistory,
		Log:          log,
		BacktestMode: bot.TradingMode == domain.ModeBacktest,
	}

	reg := pipeline.NewRegistry()
	stages.RegisterAll(reg, pc)

	graph, err := pipeline.Compile(wf, reg, s.deps.Checkpointer)
	if err != nil {
		return nil, fmt.Errorf("compile pipeline graph: %w", err)
	}

	botCtx, cancel := context.WithCancel(ctx)
	return &botRuntime{bot: bot, exchange: adapter, streamer: streamer, graph: graph, ctx: botCtx, cancel: cancel}, nil
}

func (s *Scheduler) resolveLLMConfig(ctx context.Context, llmID int64) (*domain.LLMConfig, error) {
	if llmID != 0 {
		return s.deps.LLMConfigs.GetByID(ctx, llmID)
	}
	return s.deps.LLMConfigs.GetDefault(ctx)
}

// buildAdapter constructs the concrete ExchangeAdapter. A paper adapter is
// the only concrete implementation wired (no live exchange SDK exists to
// reach for); exCfg's credentials are accepted but unused by it.
func buildAdapter(_ *domain.ExchangeConfig) exchange.Adapter {
	return exchange.NewPaperAdapter(defaultStartingUSDT, 0.0005)
}

func liveStreamBaseURL(cfg *domain.ExchangeConfig) string {
	if cfg.Testnet {
		return "wss://testnet-stream.example.com/ws"
	}
	return "wss://stream.example.com/ws"
}

// runLoop implements spec.md §4.13 step 2: sleep cycle_interval_seconds,
// then run one cycle, forever, until ctx is cancelled. A cycle's own
// failure is logged and the loop continues to the next tick (step 4); it
// never removes the bot from the active set once running.
func (s *Scheduler) runLoop(rt *botRuntime) {
	interval := time.Duration(rt.bot.CycleIntervalSeconds) * time.Second
	var carriedAlerts []string

	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-time.After(interval):
		}

		alerts, err := s.runCycle(rt.ctx, rt, carriedAlerts)
		if err != nil {
			escalate := s.failures.RecordFailure(fmt.Sprintf("bot_%d_cycle", rt.bot.ID), time.Now())
			ev := s.deps.Log.Warn()
			if escalate {
				ev = s.deps.Log.Error().Bool("escalated", true)
			}
			ev.Err(err).Int64("bot_id", rt.bot.ID).Msg("cycle failed")
			continue
		}
		s.failures.Reset(fmt.Sprintf("bot_%d_cycle", rt.bot.ID))
		carriedAlerts = alerts
	}
}

func (s *Scheduler) runCycle(ctx context.Context, rt *botRuntime, carriedAlerts []string) ([]string, error) {
	account, err := rt.exchange.FetchBalance(ctx)
	if err != nil {
		return carriedAlerts, fmt.Errorf("fetch account balance: %w", err)
	}
	positions, err := rt.exchange.FetchPositions(ctx, nil)
	if err != nil {
		return carriedAlerts, fmt.Errorf("fetch positions: %w", err)
	}

	cycleID := fmt.Sprintf("%s_%d", checkpoint.ThreadID(rt.bot.ID), time.Now().UnixNano())
	state := domain.NewState(rt.bot.ID, cycleID, "default", rt.bot.InitialBalance, carriedAlerts)
	state.Account = account
	state.Positions = positions

	s.deps.Events.Emit(events.NewCycleData(events.CycleStarted, rt.bot.ID, cycleID, ""))

	start := time.Now()
	result, err := rt.graph.Run(ctx, checkpoint.ThreadID(rt.bot.ID), state)
	if err != nil {
		s.deps.Events.Emit(events.NewCycleData(events.CycleFailed, rt.bot.ID, cycleID, err.Error()))
		return carriedAlerts, err
	}

	s.deps.Events.Emit(events.NewCycleData(events.CycleCompleted, rt.bot.ID, cycleID, ""))

	snap := obs.Snapshot()
	s.deps.Log.Info().
		Int64("bot_id", rt.bot.ID).
		Str("cycle_id", cycleID).
		Dur("duration", time.Since(start)).
		Int("positions", len(result.Positions)).
		Str("regime", string(result.MarketRegime)).
		Uint64("rss_bytes", snap.RSSBytes).
		Msg("cycle completed")

	return result.Alerts, nil
}

// teardown implements spec.md §4.13 step 3's exact component order:
// StreamManager.shutdown, ExchangeAdapter.close, PipelineGraph.cleanup.
// DB session close is the caller's responsibility (one shared *store.DB
// outlives every bot's runtime).
func (s *Scheduler) teardown(rt *botRuntime) {
	if rt.streamer != nil {
		rt.streamer.Shutdown()
	}
	if err := rt.exchange.Close(context.Background()); err != nil {
		s.deps.Log.Warn().Err(err).Int64("bot_id", rt.bot.ID).Msg("exchange adapter close failed")
	}
	rt.graph.Cleanup(context.Background())
}
