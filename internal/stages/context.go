// Package stages implements every pipeline.Node in the trading cycle:
// CoinsPickStage, MarketDataStage (spec.md §4.7), FilterStage/RegimeStage
// (§4.8), the two DecisionStage variants (§4.9), and ExecutionStage
// (§4.10). Each stage is grounded on `internal/modules/trading/service.go`'s
// service-with-logger-and-explicit-dependencies shape: a small struct
// holding only the collaborators it needs, a `Run` method doing one job,
// `fmt.Errorf("...: %w", err)` wrapping throughout.
package stages

import (
	"github.com/rs/zerolog"

	"github.com/helion-systems/helion/internal/cache"
	"github.com/helion-systems/helion/internal/configcenter"
	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/events"
	"github.com/helion-systems/helion/internal/exchange"
	"github.com/helion-systems/helion/internal/llm"
	"github.com/helion-systems/helion/internal/ratelimit"
	"github.com/helion-systems/helion/internal/repo"
	"github.com/helion-systems/helion/internal/stream"
	"github.com/helion-systems/helion/internal/trailingstop"
)

// PluginContext bundles every collaborator a node may need, built once per
// bot at scheduler startup (spec.md §4.13 step 1) and shared by every node
// a workflow instantiates for that bot.
type PluginContext struct {
	Bot          *domain.BotConfig
	Exchange     exchange.Adapter
	RateLimiter  *ratelimit.Limiter
	Stream       *stream.Manager
	Cache        *cache.Cache
	Config       *configcenter.ConfigCenter
	Trailing     *trailingstop.Tracker
	Events       *events.Manager
	LLMProvider  *llm.Provider
	TradeHistory repo.TradeHistoryRepo
	Log          zerolog.Logger

	// BacktestMode suppresses REST fallback in MarketDataStage and
	// orderbook/trade metrics collection, per spec.md §4.7/§4.15.
	BacktestMode bool
}

// ceilToStep rounds a base-asset order amount up to a multiple of the
// exchange's amount step, never truncating (spec.md §4.10 step 4: a $10.03
// notional must never round below a $10 minimum).
func ceilToStep(amount, step float64) float64 {
	if step <= 0 {
		return amount
	}
	steps := amount / step
	rounded := float64(int64(steps))
	if steps > rounded {
		rounded++
	}
	return rounded * step
}
