// Package configcenter exposes the hot-reloadable, dotted-key runtime
// configuration named in spec.md §6 (cache.ttl.*, debate.*, market_regime.*,
// batch_decision.timeout_seconds). Every key has a documented default, so
// the system runs correctly with zero rows in system_config; a row only
// overrides. Reload is a `github.com/robfig/cron/v3` `@every 30s` tick —
// the teacher's own scheduling dependency, used in `internal/queue/scheduler.go`
// to drive job ticks, repurposed here for a config poll instead of a job
// queue, since CycleScheduler already owns per-bot interval ticking.
package configcenter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helion-systems/helion/internal/cache"
	"github.com/helion-systems/helion/internal/repo"
)

const reloadSpec = "@every 30s"

// defaults holds every documented key and its fallback value, as a string
// in the same encoding Upsert would store it in (so lookups are uniform).
var defaults = map[string]string{
	"debate.enabled":                            "false",
	"debate.max_rounds":                         "2",
	"debate.timeout_per_phase":                  "120",
	"debate.trade_history_limit":                "20",
	"debate.roles":                              `["bull","bear","risk_manager"]`,
	"market_regime.adx_trending_threshold":      "25",
	"market_regime.bb_width_ranging_threshold":  "0.03",
	"market_regime.bb_width_volatile_threshold": "0.08",
	"market_regime.primary_timeframe":           "4h",
	"market_regime.continue_if_has_positions":   "true",
	"batch_decision.timeout_seconds":            "90",
}

// ConfigCenter is a process-wide singleton read view over SystemConfigRepo,
// refreshed on a timer so a row edited out-of-band is picked up without a
// restart.
type ConfigCenter struct {
	repo repo.SystemConfigRepo
	log  zerolog.Logger

	mu     sync.RWMutex
	values map[string]string

	cronSched *cron.Cron
}

// New builds a ConfigCenter and performs an initial synchronous load.
func New(ctx context.Context, r repo.SystemConfigRepo, log zerolog.Logger) (*ConfigCenter, error) {
	c := &ConfigCenter{
		repo:   r,
		log:    log.With().Str("component", "configcenter").Logger(),
		values: make(map[string]string),
	}
	if err := c.reload(ctx); err != nil {
		return nil, fmt.Errorf("configcenter: initial load failed: %w", err)
	}
	return c, nil
}

// Start begins the periodic hot-reload tick. Call once per process.
func (c *ConfigCenter) Start() error {
	c.cronSched = cron.New()
	_, err := c.cronSched.AddFunc(reloadSpec, func() {
		if err := c.reload(context.Background()); err != nil {
			c.log.Warn().Err(err).Msg("config hot-reload failed, keeping stale values")
		}
	})
	if err != nil {
		return fmt.Errorf("configcenter: failed to schedule reload: %w", err)
	}
	c.cronSched.Start()
	return nil
}

// Stop halts the hot-reload tick.
func (c *ConfigCenter) Stop() {
	if c.cronSched != nil {
		<-c.cronSched.Stop().Done()
	}
}

func (c *ConfigCenter) reload(ctx context.Context) error {
	rows, err := c.repo.GetByPrefix(ctx, "")
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.values = rows
	c.mu.Unlock()
	return nil
}

func (c *ConfigCenter) lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *ConfigCenter) stringOr(key, fallback string) string {
	if v, ok := c.lookup(key); ok {
		return v
	}
	if v, ok := defaults[key]; ok {
		return v
	}
	return fallback
}

func (c *ConfigCenter) boolOr(key string) bool {
	v := c.stringOr(key, "false")
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.log.Warn().Str("key", key).Str("value", v).Msg("invalid bool config value, using false")
		return false
	}
	return b
}

func (c *ConfigCenter) intOr(key string, fallback int) int {
	v := c.stringOr(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(v)
	if err != nil {
		c.log.Warn().Str("key", key).Str("value", v).Msg("invalid int config value, using fallback")
		return fallback
	}
	return n
}

func (c *ConfigCenter) floatOr(key string, fallback float64) float64 {
	v := c.stringOr(key, strconv.FormatFloat(fallback, 'f', -1, 64))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.log.Warn().Str("key", key).Str("value", v).Msg("invalid float config value, using fallback")
		return fallback
	}
	return f
}

// CacheTTL resolves cache.ttl.<namespace>. With no valid row it falls back
// to the internal/cache package's own built-in default, so the two packages
// never carry divergent default tables, and to 60s for a namespace that
// package has no default for.
func (c *ConfigCenter) CacheTTL(namespace string) time.Duration {
	key := "cache.ttl." + namespace
	if v, ok := c.lookup(key); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if ttl, ok := cache.DefaultTTL(namespace); ok {
		return ttl
	}
	return 60 * time.Second
}

func (c *ConfigCenter) DebateEnabled() bool { return c.boolOr("debate.enabled") }

func (c *ConfigCenter) DebateMaxRounds() int { return c.intOr("debate.max_rounds", 2) }

func (c *ConfigCenter) DebateTimeoutPerPhase() time.Duration {
	return time.Duration(c.intOr("debate.timeout_per_phase", 120)) * time.Second
}

func (c *ConfigCenter) DebateTradeHistoryLimit() int {
	return c.intOr("debate.trade_history_limit", 20)
}

// DebateRoles decodes the debate.roles JSON list, falling back to the
// documented three-role default on a missing or malformed row.
func (c *ConfigCenter) DebateRoles() []string {
	raw := c.stringOr("debate.roles", defaults["debate.roles"])
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		c.log.Warn().Err(err).Msg("invalid debate.roles value, using default roles")
		var fallback []string
		_ = json.Unmarshal([]byte(defaults["debate.roles"]), &fallback)
		return fallback
	}
	return roles
}

func (c *ConfigCenter) MarketRegimeADXTrendingThreshold() int {
	return c.intOr("market_regime.adx_trending_threshold", 25)
}

func (c *ConfigCenter) MarketRegimeBBWidthRangingThreshold() float64 {
	return c.floatOr("market_regime.bb_width_ranging_threshold", 0.03)
}

func (c *ConfigCenter) MarketRegimeBBWidthVolatileThreshold() float64 {
	return c.floatOr("market_regime.bb_width_volatile_threshold", 0.08)
}

func (c *ConfigCenter) MarketRegimePrimaryTimeframe() string {
	return c.stringOr("market_regime.primary_timeframe", "4h")
}

func (c *ConfigCenter) MarketRegimeContinueIfHasPositions() bool {
	return c.boolOr("market_regime.continue_if_has_positions")
}

func (c *ConfigCenter) BatchDecisionTimeout() time.Duration {
	return time.Duration(c.intOr("batch_decision.timeout_seconds", 90)) * time.Second
}
