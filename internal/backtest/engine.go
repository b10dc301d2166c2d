package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helion-systems/helion/internal/cache"
	"github.com/helion-systems/helion/internal/checkpoint"
	"github.com/helion-systems/helion/internal/configcenter"
	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/events"
	"github.com/helion-systems/helion/internal/llm"
	"github.com/helion-systems/helion/internal/pipeline"
	"github.com/helion-systems/helion/internal/ratelimit"
	"github.com/helion-systems/helion/internal/stages"
	"github.com/helion-systems/helion/internal/trailingstop"
)

const defaultCommission = 0.0005
const defaultSlippage = 0.0005

// Config parameterizes one BacktestEngine run.
type Config struct {
	Bot        *domain.BotConfig
	Workflow   *domain.Workflow
	LLMConfig  domain.LLMConfig
	Symbols    []string
	Start, End time.Time
	MaxCycles  int
	Commission float64
	Slippage   float64
	Source     HistorySource
	Config     *configcenter.ConfigCenter
	Log        zerolog.Logger
}

// Report summarizes one completed backtest run (spec.md §6's "prints a
// summary report").
type Report struct {
	Cycles         int
	FinalBalance   float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	TotalReturnUSD float64
	MaxDrawdown    float64
}

// Engine is BacktestEngine: it wires a MockTrader and MockPerformanceService
// in place of a live ExchangeAdapter/TradeHistoryRepo, then drives the same
// compiled pipeline.Graph a live CycleScheduler runs, cycle by cycle, over a
// virtual cursor instead of a wall-clock ticker (spec.md §4.15).
type Engine struct {
	cfg    Config
	trader *MockTrader
	perf   *MockPerformanceService
	graph  *pipeline.Graph
}

// New preloads history and compiles the pipeline graph for cfg.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Commission == 0 {
		cfg.Commission = defaultCommission
	}
	if cfg.Slippage == 0 {
		cfg.Slippage = defaultSlippage
	}
	if len(cfg.Bot.Timeframes) == 0 {
		return nil, fmt.Errorf("backtest: bot declares no timeframes")
	}
	primaryTF := cfg.Bot.Timeframes[0]

	data, err := Load(ctx, cfg.Source, cfg.Symbols, cfg.Bot.Timeframes, cfg.Start, cfg.End)
	if err != nil {
		return nil, err
	}

	trader := NewMockTrader(data, primaryTF, cfg.Bot.InitialBalance, cfg.Commission, cfg.Slippage)
	perf := NewMockPerformanceService()

	log := cfg.Log.With().Int64("bot_id", cfg.Bot.ID).Str("mode", "backtest").Logger()
	sharedCache := cache.New()
	if cfg.Config != nil {
		sharedCache.SetTTLSource(cfg.Config)
	}
	pc := &stages.PluginContext{
		Bot:          cfg.Bot,
		Exchange:     trader,
		RateLimiter:  ratelimit.New(ratelimit.WithMinInterval(0)),
		Stream:       nil,
		Cache:        sharedCache,
		Config:       cfg.Config,
		Trailing:     trailingstop.New(),
		Events:       events.NewManager(),
		LLMProvider:  llm.NewProvider(cfg.LLMConfig, log),
		TradeHistory: perf,
		Log:          log,
		BacktestMode: true,
	}

	reg := pipeline.NewRegistry()
	stages.RegisterAll(reg, pc)

	graph, err := pipeline.Compile(cfg.Workflow, reg, checkpoint.NewMemory())
	if err != nil {
		return nil, fmt.Errorf("backtest: failed to compile pipeline graph: %w", err)
	}

	return &Engine{cfg: cfg, trader: trader, perf: perf, graph: graph}, nil
}

// Run advances the virtual cursor by bot.cycle_interval_seconds per
// iteration (expressed as spec.md §4.15 puts it, "× 1000 ms", i.e. the
// plain seconds-to-duration conversion) from Start to End, running the
// compiled graph once per cycle, until End is reached or MaxCycles caps it.
// One cycle's failure is logged and does not abort the run, mirroring
// CycleScheduler's per-bot fault isolation.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	step := time.Duration(e.cfg.Bot.CycleIntervalSeconds) * time.Second
	if step <= 0 {
		return Report{}, fmt.Errorf("backtest: cycle_interval_seconds must be positive")
	}

	cursor := e.cfg.Start
	threadID := checkpoint.ThreadID(e.cfg.Bot.ID)
	var carriedAlerts []string
	cycles := 0

	for cursor.Before(e.cfg.End) {
		if e.cfg.MaxCycles > 0 && cycles >= e.cfg.MaxCycles {
			break
		}
		select {
		case <-ctx.Done():
			return e.report(cycles), ctx.Err()
		default:
		}

		e.trader.SetCursor(cursor)
		account, err := e.trader.FetchBalance(ctx)
		if err != nil {
			return e.report(cycles), fmt.Errorf("backtest: fetch balance: %w", err)
		}
		positions, err := e.trader.FetchPositions(ctx, nil)
		if err != nil {
			return e.report(cycles), fmt.Errorf("backtest: fetch positions: %w", err)
		}

		cycleID := fmt.Sprintf("%s_%d", threadID, cycles)
		state := domain.NewState(e.cfg.Bot.ID, cycleID, "default", e.cfg.Bot.InitialBalance, carriedAlerts)
		state.Account = account
		state.Positions = positions
		state.Symbols = e.cfg.Symbols

		result, err := e.graph.Run(ctx, threadID, state)
		if err != nil {
			e.cfg.Log.Warn().Err(err).Str("cycle_id", cycleID).Msg("backtest cycle failed")
		} else {
			carriedAlerts = result.Alerts
		}

		cycles++
		cursor = cursor.Add(step)
	}

	e.graph.Cleanup(ctx)
	return e.report(cycles), nil
}

func (e *Engine) report(cycles int) Report {
	account, _ := e.trader.FetchBalance(context.Background())
	trades := e.perf.AllTrades(e.cfg.Bot.ID)

	rep := Report{Cycles: cycles, FinalBalance: account.Balances["USDT"].Total}
	equity := 1.0
	peak := equity
	for _, t := range trades {
		if t.Status != domain.TradeClosed {
			continue
		}
		rep.TotalTrades++
		rep.TotalReturnUSD += t.PnLUSD
		if t.PnLUSD > 0 {
			rep.WinningTrades++
		} else if t.PnLUSD < 0 {
			rep.LosingTrades++
		}
		equity *= 1 + t.PnLPercent/100
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > rep.MaxDrawdown {
				rep.MaxDrawdown = dd
			}
		}
	}
	return rep
}
