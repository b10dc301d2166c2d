// Command run_backtest is the CLI/process surface BacktestEngine runs
// behind (spec.md §6): `run_backtest --bot-id i --start .. --end ..
// [--max-cycles N]` replays a bot's workflow against pre-loaded history and
// prints a summary report. History is read from a JSON file (--history)
// shaped as a map of symbol -> timeframe -> candle array plus a funding
// array, since no live exchange SDK exists in this repo to fetch it from
// (see DESIGN.md's ExchangeAdapter entry).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/helion-systems/helion/internal/backtest"
	"github.com/helion-systems/helion/internal/config"
	"github.com/helion-systems/helion/internal/configcenter"
	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/store"
	"github.com/helion-systems/helion/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	botID := flag.Int64("bot-id", 0, "bot id to replay")
	startStr := flag.String("start", "", "RFC3339 start timestamp")
	endStr := flag.String("end", "", "RFC3339 end timestamp")
	maxCycles := flag.Int("max-cycles", 0, "cap the number of simulated cycles (0 = unbounded)")
	historyPath := flag.String("history", "", "path to a JSON pre-fetched OHLCV/funding history file")
	flag.Parse()

	if *botID == 0 || *startStr == "" || *endStr == "" || *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: run_backtest --bot-id i --start RFC3339 --end RFC3339 --history path.json [--max-cycles N]")
		return 1
	}
	start, err := time.Parse(time.RFC3339, *startStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid --start:", err)
		return 1
	}
	end, err := time.Parse(time.RFC3339, *endStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid --end:", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	db, err := store.Open(store.Config{Path: cfg.DataDir + "/helion.db", Profile: store.ProfileStandard, Name: "helion"})
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return 1
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("failed to migrate database")
		return 1
	}

	bots := store.NewBotRepo(db)
	bot, err := bots.GetByID(ctx, *botID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load bot config")
		return 1
	}
	workflows := store.NewWorkflowRepo(db)
	wf, err := workflows.GetWorkflow(ctx, bot.WorkflowID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load workflow")
		return 1
	}
	llmConfigs := store.NewLLMConfigRepo(db)
	llmCfg, err := llmConfigs.GetDefault(ctx)
	if bot.LLMID != 0 {
		llmCfg, err = llmConfigs.GetByID(ctx, bot.LLMID)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load llm config")
		return 1
	}

	configCenter, err := configcenter.New(ctx, store.NewSystemConfigRepo(db), log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build config center")
		return 1
	}

	source, symbols, err := loadHistoryFile(*historyPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load history file")
		return 1
	}

	engine, err := backtest.New(ctx, backtest.Config{
		Bot:       bot,
		Workflow:  wf,
		LLMConfig: *llmCfg,
		Symbols:   symbols,
		Start:     start,
		End:       end,
		MaxCycles: *maxCycles,
		Source:    source,
		Config:    configCenter,
		Log:       log,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build backtest engine")
		return 1
	}

	report, err := engine.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("backtest run failed")
		return 2
	}

	fmt.Printf("cycles=%d final_balance=%.2f total_trades=%d wins=%d losses=%d total_pnl_usd=%.2f max_drawdown=%.2f%%\n",
		report.Cycles, report.FinalBalance, report.TotalTrades, report.WinningTrades, report.LosingTrades,
		report.TotalReturnUSD, report.MaxDrawdown*100)
	return 0
}

// historyFile is the on-disk shape --history points to.
type historyFile struct {
	Symbols map[string]struct {
		Timeframes map[string][]candleJSON `json:"timeframes"`
		Funding    []float64               `json:"funding"`
	} `json:"symbols"`
}

type candleJSON struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// fileHistorySource adapts a parsed historyFile to backtest.HistorySource.
type fileHistorySource struct {
	file historyFile
}

func (f *fileHistorySource) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) (domain.OHLCVWindow, error) {
	sym, ok := f.file.Symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("history file has no symbol %s", symbol)
	}
	candles := sym.Timeframes[timeframe]
	out := make(domain.OHLCVWindow, 0, len(candles))
	for _, c := range candles {
		if since != nil && c.OpenTime.Before(*since) {
			continue
		}
		out = append(out, domain.Candle{OpenTime: c.OpenTime, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fileHistorySource) FetchFundingRateHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]float64, error) {
	sym, ok := f.file.Symbols[symbol]
	if !ok {
		return nil, nil
	}
	rates := sym.Funding
	if limit > 0 && len(rates) > limit {
		rates = rates[len(rates)-limit:]
	}
	return rates, nil
}

func loadHistoryFile(path string) (backtest.HistorySource, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read history file: %w", err)
	}
	var file historyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("parse history file: %w", err)
	}
	symbols := make([]string, 0, len(file.Symbols))
	for sym := range file.Symbols {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return &fileHistorySource{file: file}, symbols, nil
}
