package stages

import (
	"context"
	"sync"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/indicators"
	"github.com/helion-systems/helion/internal/pipeline"
)

const marketDataConcurrency = 5

// MarketDataStage implements spec.md §4.7: per symbol, pull an OHLCV
// window per configured timeframe (StreamManager → Cache → REST, in that
// order; REST is suppressed in backtest mode), compute the full indicator
// bundle, attach the current price and funding rate, and — live mode
// only — order-book/trade microstructure metrics. All per-symbol work
// runs under a bounded semaphore of 5, the fan-out width spec.md §4.7/§5
// names.
type MarketDataStage struct {
	ctx *PluginContext
}

func NewMarketDataStage(pc *PluginContext, _ map[string]interface{}) (pipeline.Node, error) {
	return &MarketDataStage{ctx: pc}, nil
}

func (s *MarketDataStage) Name() string { return "market_data" }

func (s *MarketDataStage) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:           "market_data",
		Version:        "1.0",
		Requires:       []string{"symbols"},
		Outputs:        []string{"market_data"},
		SuggestedOrder: 1,
		AutoRegister:   true,
	}
}

func (s *MarketDataStage) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	if state.MarketData == nil {
		state.MarketData = make(map[string]*domain.SymbolMarketData)
	}

	tickers := s.fetchTickers(ctx, state.Symbols)
	fundingRates := s.fetchFundingRates(ctx, state.Symbols)

	sem := make(chan struct{}, marketDataConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, symbol := range state.Symbols {
		symbol := symbol
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			md := s.buildSymbolData(ctx, symbol, tickers[symbol], fundingRates[symbol])

			mu.Lock()
			state.MarketData[symbol] = md
			mu.Unlock()
		}()
	}
	wg.Wait()

	return state, nil
}

func (s *MarketDataStage) buildSymbolData(ctx context.Context, symbol string, price, fundingRate float64) *domain.SymbolMarketData {
	md := &domain.SymbolMarketData{
		Windows:      make(map[string]domain.OHLCVWindow),
		Indicators:   make(map[string]interface{}),
		CurrentPrice: price,
		FundingRate:  fundingRate,
	}

	for _, tf := range s.ctx.Bot.Timeframes {
		window := s.fetchWindow(ctx, symbol, tf)
		if len(window) == 0 {
			// spec.md §4.7 step 1: a window missing in backtest mode means
			// skip this symbol this cycle, signaled by leaving Windows
			// empty for this timeframe; callers check len(Windows).
			continue
		}
		md.Windows[tf] = window
		md.Indicators[tf] = indicators.Compute(window)
	}

	if md.CurrentPrice == 0 {
		if last := lastClose(md.Windows, s.ctx.Bot.Timeframes); last > 0 {
			md.CurrentPrice = last
		}
	}

	if !s.ctx.BacktestMode {
		if ob, err := s.ctx.Exchange.FetchOrderBook(ctx, symbol, 20); err == nil {
			md.OrderBook = &ob
		} else {
			s.ctx.Log.Warn().Err(err).Str("symbol", symbol).Msg("order book fetch failed")
		}
		if tm, err := s.ctx.Exchange.FetchTrades(ctx, symbol, 100); err == nil {
			md.Trades = &tm
		} else {
			s.ctx.Log.Warn().Err(err).Str("symbol", symbol).Msg("trade metrics fetch failed")
		}
	}

	return md
}

// fetchWindow obtains an OHLCV window for (symbol, timeframe): StreamManager
// (which itself checks Cache before REST) in live mode, Cache-only in
// backtest mode (spec.md §4.7 step 1, §4.15).
func (s *MarketDataStage) fetchWindow(ctx context.Context, symbol, timeframe string) domain.OHLCVWindow {
	if s.ctx.Stream != nil {
		return s.ctx.Stream.GetLatestOHLCV(ctx, symbol, timeframe)
	}
	var cached domain.OHLCVWindow
	if s.ctx.Cache != nil && s.ctx.Cache.Get("ohlcv_"+timeframe, symbol+":100", &cached) {
		return cached
	}
	if s.ctx.BacktestMode {
		return nil
	}
	if err := s.ctx.RateLimiter.WaitIfNeeded(ctx); err != nil {
		return nil
	}
	window, err := s.ctx.Exchange.FetchOHLCV(ctx, symbol, timeframe, nil, 100)
	if err != nil {
		s.ctx.Log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).Msg("ohlcv fetch failed")
		return nil
	}
	return window
}

func lastClose(windows map[string]domain.OHLCVWindow, timeframes []string) float64 {
	for _, tf := range timeframes {
		if w := windows[tf]; len(w) > 0 {
			return w[len(w)-1].Close
		}
	}
	return 0
}

// fetchTickers prefers the ticker cache (through the exchange adapter's
// own batch call, rate-limited once for the whole symbol set) over N
// individual calls.
func (s *MarketDataStage) fetchTickers(ctx context.Context, symbols []string) map[string]float64 {
	if len(symbols) == 0 {
		return nil
	}
	if err := s.ctx.RateLimiter.WaitIfNeeded(ctx); err != nil {
		return nil
	}
	tickers, err := s.ctx.Exchange.FetchTickers(ctx, symbols)
	if err != nil {
		s.ctx.Log.Warn().Err(err).Msg("batch ticker fetch failed")
		return nil
	}
	return tickers
}

func (s *MarketDataStage) fetchFundingRates(ctx context.Context, symbols []string) map[string]float64 {
	if len(symbols) == 0 || !s.ctx.Exchange.Capabilities().FetchFundingRates {
		return zeroFundingRates(symbols)
	}
	if err := s.ctx.RateLimiter.WaitIfNeeded(ctx); err != nil {
		return zeroFundingRates(symbols)
	}
	rates, err := s.ctx.Exchange.FetchFundingRates(ctx, symbols)
	if err != nil {
		s.ctx.Log.Warn().Err(err).Msg("funding rate fetch failed")
		return zeroFundingRates(symbols)
	}
	return rates
}

func zeroFundingRates(symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = 0
	}
	return out
}
