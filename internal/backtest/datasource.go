// Package backtest implements BacktestEngine (spec.md §4.15): a MockTrader
// that stands in for exchange.Adapter, a BacktestDataSource that pre-loads
// historical OHLCV/funding-rate series for a fixed symbol list, and an
// Engine that drives the same compiled pipeline.Graph CycleScheduler uses,
// advancing a virtual cursor instead of waiting on a wall-clock ticker.
// Grounded on internal/cycle's CycleScheduler shape (same PluginContext
// wiring, same graph.Run per cycle) and on exchange.PaperAdapter's
// in-memory balance/position bookkeeping, generalized to fill against
// pre-loaded history instead of live ticks.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/helion-systems/helion/internal/domain"
)

// warmupPeriod extends history loading before start_date so long-period
// indicators (the 200-period 4h EMA) are warm by the first simulated cycle.
const warmupPeriod = 35 * 24 * time.Hour

// HistorySource is the subset of exchange.Adapter BacktestDataSource needs
// to pre-load history from. A real exchange adapter satisfies it directly,
// so backtests can be seeded from the same REST surface live bots use.
type HistorySource interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) (domain.OHLCVWindow, error)
	FetchFundingRateHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]float64, error)
}

type fundingPoint struct {
	at   time.Time
	rate float64
}

// BacktestDataSource holds the full pre-loaded OHLCV and funding-rate
// history for a fixed symbol/timeframe set across [start-warmup, end].
type BacktestDataSource struct {
	windows map[string]map[string]domain.OHLCVWindow // symbol -> timeframe -> candles, oldest first
	funding map[string][]fundingPoint                // symbol -> funding points, oldest first
}

// Load pre-fetches OHLCV for every symbol/timeframe pair and funding-rate
// history for every symbol, extending the window warmupPeriod before start
// so indicators warm up before the first simulated cycle (spec.md §4.15).
func Load(ctx context.Context, source HistorySource, symbols, timeframes []string, start, end time.Time) (*BacktestDataSource, error) {
	ds := &BacktestDataSource{
		windows: make(map[string]map[string]domain.OHLCVWindow, len(symbols)),
		funding: make(map[string][]fundingPoint, len(symbols)),
	}
	warmedStart := start.Add(-warmupPeriod)

	for _, symbol := range symbols {
		ds.windows[symbol] = make(map[string]domain.OHLCVWindow, len(timeframes))
		for _, tf := range timeframes {
			window, err := source.FetchOHLCV(ctx, symbol, tf, &warmedStart, 0)
			if err != nil {
				return nil, fmt.Errorf("backtest: failed to load %s %s history: %w", symbol, tf, err)
			}
			ds.windows[symbol][tf] = trimToEnd(window, end)
		}

		rates, err := source.FetchFundingRateHistory(ctx, symbol, warmedStart, 0)
		if err != nil {
			return nil, fmt.Errorf("backtest: failed to load %s funding history: %w", symbol, err)
		}
		ds.funding[symbol] = alignFunding(rates, ds.primaryWindow(symbol, timeframes), end)
	}

	return ds, nil
}

func trimToEnd(window domain.OHLCVWindow, end time.Time) domain.OHLCVWindow {
	out := window[:0:0]
	for _, c := range window {
		if c.OpenTime.After(end) {
			break
		}
		out = append(out, c)
	}
	return out
}

func (ds *BacktestDataSource) primaryWindow(symbol string, timeframes []string) domain.OHLCVWindow {
	if len(timeframes) == 0 {
		return nil
	}
	return ds.windows[symbol][timeframes[0]]
}

// alignFunding pairs a flat funding-rate history (one entry per 8h funding
// interval, oldest first) with the primary timeframe's candle open times so
// FetchFundingRates can do a fast as-of lookup later. When there are fewer
// candles than funding entries, the entries are laid on a synthetic 8-hour
// cadence that ends at end.
func alignFunding(rates []float64, primary domain.OHLCVWindow, end time.Time) []fundingPoint {
	if len(rates) == 0 {
		return nil
	}
	out := make([]fundingPoint, 0, len(rates))
	switch {
	case len(primary) >= len(rates):
		step := len(primary) / len(rates)
		if step == 0 {
			step = 1
		}
		for i, r := range rates {
			idx := i * step
			if idx >= len(primary) {
				idx = len(primary) - 1
			}
			out = append(out, fundingPoint{at: primary[idx].OpenTime, rate: r})
		}
	default:
		cursor := end.Add(-time.Duration(len(rates)) * 8 * time.Hour)
		for _, r := range rates {
			out = append(out, fundingPoint{at: cursor, rate: r})
			cursor = cursor.Add(8 * time.Hour)
		}
	}
	return out
}

// ohlcvAsOf returns the window of candles for (symbol, timeframe) whose
// open time is at or before asOf, the no-lookahead slice MarketDataStage
// is allowed to see.
func (ds *BacktestDataSource) ohlcvAsOf(symbol, timeframe string, asOf time.Time) domain.OHLCVWindow {
	full := ds.windows[symbol][timeframe]
	idx := sort.Search(len(full), func(i int) bool { return full[i].OpenTime.After(asOf) })
	return full[:idx]
}

// nextCandle returns the first candle of (symbol, timeframe) strictly after
// asOf, used by MockTrader to fill an order at the next bar's close so the
// simulation never fills against information not yet available at decision
// time.
func (ds *BacktestDataSource) nextCandle(symbol, timeframe string, asOf time.Time) (domain.Candle, bool) {
	full := ds.windows[symbol][timeframe]
	idx := sort.Search(len(full), func(i int) bool { return full[i].OpenTime.After(asOf) })
	if idx >= len(full) {
		return domain.Candle{}, false
	}
	return full[idx], true
}

func (ds *BacktestDataSource) fundingAsOf(symbol string, asOf time.Time) float64 {
	points := ds.funding[symbol]
	idx := sort.Search(len(points), func(i int) bool { return points[i].at.After(asOf) })
	if idx == 0 {
		return 0
	}
	return points[idx-1].rate
}
