// Package stream implements StreamManager (spec.md §4.4): it owns the
// mapping symbol -> set of streamed timeframes, reconciles subscriptions
// on every call to SyncSubscriptions, pre-populates the Cache on first
// subscribe so downstream reads never cold-start, and writes closed (and
// partial) candles back into the Cache as they arrive. Each subscription
// runs as one supervised goroutine, grounded directly on the teacher's
// `internal/clients/tradernet/websocket_client.go` reconnect-loop shape
// (stopChan + mutex-guarded connection state + exponential backoff capped
// at a max attempt count, after which the symbol is marked failed and the
// task exits for the next SyncSubscriptions to retry).
package stream

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helion-systems/helion/internal/cache"
	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/exchange"
)

const (
	baseReconnectDelay  = 5 * time.Second
	maxReconnectDelay   = 5 * time.Minute
	maxReconnectAttempts = 5
)

// Watcher is the exchange-side streaming primitive StreamManager drives:
// one call opens a push feed of candles for (symbol, timeframe) until ctx
// is canceled or the feed errors.
type Watcher interface {
	WatchOHLCV(ctx context.Context, symbol, timeframe string) (<-chan domain.Candle, error)
}

type subscriptionKey struct {
	symbol    string
	timeframe string
}

type subscription struct {
	cancel context.CancelFunc
	failed bool
}

// Manager is the StreamManager singleton for one bot's exchange
// connection. Safe for concurrent use.
type Manager struct {
	watcher  Watcher
	rest     exchange.Adapter
	cache    *cache.Cache
	log      zerolog.Logger

	mu   sync.Mutex
	subs map[subscriptionKey]*subscription
	wg   sync.WaitGroup
}

// New builds a Manager. rest supplies the pre-population and REST-fallback
// fetch; watcher supplies the push feed.
func New(watcher Watcher, rest exchange.Adapter, c *cache.Cache, log zerolog.Logger) *Manager {
	return &Manager{
		watcher: watcher,
		rest:    rest,
		cache:   c,
		log:     log.With().Str("component", "stream_manager").Logger(),
		subs:    make(map[subscriptionKey]*subscription),
	}
}

// SyncSubscriptions reconciles the active subscription set against
// newSymbols × timeframes: subscribes the delta, unsubscribes the
// complement, and retries any previously failed symbol that is still
// present in newSymbols.
func (m *Manager) SyncSubscriptions(ctx context.Context, newSymbols, timeframes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[subscriptionKey]bool, len(newSymbols)*len(timeframes))
	for _, sym := range newSymbols {
		for _, tf := range timeframes {
			want[subscriptionKey{sym, tf}] = true
		}
	}

	for key, sub := range m.subs {
		if !want[key] {
			sub.cancel()
			delete(m.subs, key)
			continue
		}
		if sub.failed {
			sub.cancel()
			delete(m.subs, key)
		}
	}

	for key := range want {
		if _, exists := m.subs[key]; exists {
			continue
		}
		m.startSubscription(ctx, key)
	}
}

func (m *Manager) startSubscription(parent context.Context, key subscriptionKey) {
	subCtx, cancel := context.WithCancel(parent)
	sub := &subscription{cancel: cancel}
	m.subs[key] = sub

	m.prepopulate(parent, key)

	m.wg.Add(1)
	go m.run(subCtx, key, sub)
}

// prepopulate fetches an initial window via REST so get_latest_ohlcv does
// not cold-start before the first push arrives.
func (m *Manager) prepopulate(ctx context.Context, key subscriptionKey) {
	window, err := m.rest.FetchOHLCV(ctx, key.symbol, key.timeframe, nil, 100)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", key.symbol).Str("timeframe", key.timeframe).Msg("prepopulate fetch failed")
		return
	}
	m.writeCache(key, window)
}

func (m *Manager) run(ctx context.Context, key subscriptionKey, sub *subscription) {
	defer m.wg.Done()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		feed, err := m.watcher.WatchOHLCV(ctx, key.symbol, key.timeframe)
		if err != nil {
			attempt++
			if attempt > maxReconnectAttempts {
				m.log.Error().Str("symbol", key.symbol).Str("timeframe", key.timeframe).Msg("subscription exhausted reconnect attempts, marking failed")
				m.mu.Lock()
				sub.failed = true
				m.mu.Unlock()
				return
			}
			delay := backoff(attempt)
			m.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("watch failed, retrying")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		attempt = 0
		if !m.drain(ctx, key, feed) {
			return
		}
		// feed closed without ctx cancellation: exchange dropped the
		// stream, fall through to reconnect.
	}
}

// drain consumes pushes until the feed closes or ctx is canceled, writing
// each candle to cache. Returns false if ctx was canceled.
func (m *Manager) drain(ctx context.Context, key subscriptionKey, feed <-chan domain.Candle) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case candle, ok := <-feed:
			if !ok {
				return true
			}
			m.writeCache(key, domain.OHLCVWindow{candle})
		}
	}
}

// writeCache merges the pushed candles into the cached
// `ohlcv_<tf>:<symbol>:100` window by open time: a pushed candle replaces
// the cached candle with the same open time, and an older candle is
// inserted in order rather than replacing a newer one, so the window's
// latest candle never moves back in time.
func (m *Manager) writeCache(key subscriptionKey, pushed domain.OHLCVWindow) {
	if len(pushed) == 0 {
		return
	}
	ns := "ohlcv_" + key.timeframe
	ck := key.symbol + ":100"

	var existing domain.OHLCVWindow
	m.cache.Get(ns, ck, &existing)

	merged := mergeCandles(existing, pushed)
	if err := m.cache.Set(ns, ck, merged); err != nil {
		m.log.Error().Err(err).Str("symbol", key.symbol).Msg("failed to write ohlcv cache")
	}
}

// mergeCandles appends/overwrites pushed candles into existing, keyed by
// OpenTime, keeping at most the most recent 100 bars.
func mergeCandles(existing, pushed domain.OHLCVWindow) domain.OHLCVWindow {
	byTime := make(map[time.Time]domain.Candle, len(existing)+len(pushed))
	order := make([]time.Time, 0, len(existing)+len(pushed))
	for _, c := range existing {
		if _, ok := byTime[c.OpenTime]; !ok {
			order = append(order, c.OpenTime)
		}
		byTime[c.OpenTime] = c
	}
	for _, c := range pushed {
		if _, ok := byTime[c.OpenTime]; !ok {
			order = append(order, c.OpenTime)
		}
		byTime[c.OpenTime] = c
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if order[j].Before(order[i]) {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	if len(order) > 100 {
		order = order[len(order)-100:]
	}
	out := make(domain.OHLCVWindow, len(order))
	for i, t := range order {
		out[i] = byTime[t]
	}
	return out
}

func backoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// GetLatestOHLCV reads Cache first; on miss it falls back to REST and
// back-fills the cache. A REST failure returns an empty window rather
// than an error (spec.md §4.4).
func (m *Manager) GetLatestOHLCV(ctx context.Context, symbol, timeframe string) domain.OHLCVWindow {
	ns := "ohlcv_" + timeframe
	ck := symbol + ":100"

	var window domain.OHLCVWindow
	if m.cache.Get(ns, ck, &window) {
		return window
	}

	fetched, err := m.rest.FetchOHLCV(ctx, symbol, timeframe, nil, 100)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).Msg("ohlcv rest fallback failed")
		return nil
	}
	if err := m.cache.Set(ns, ck, fetched); err != nil {
		m.log.Error().Err(err).Msg("failed to write ohlcv cache from rest fallback")
	}
	return fetched
}

// Stats is the subscription-health surface spec.md §7 names for
// diagnostics: active subscription count and the failed-symbol set.
type Stats struct {
	Active int
	Failed []string
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{}
	for key, sub := range m.subs {
		if sub.failed {
			stats.Failed = append(stats.Failed, fmt.Sprintf("%s/%s", key.symbol, key.timeframe))
		} else {
			stats.Active++
		}
	}
	return stats
}

// Shutdown cancels every subscription task and waits for them to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, sub := range m.subs {
		sub.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
