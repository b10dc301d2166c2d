package configcenter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSystemConfigRepo struct {
	rows map[string]string
}

func (f *fakeSystemConfigRepo) GetByKey(_ context.Context, key string) (string, bool, error) {
	v, ok := f.rows[key]
	return v, ok, nil
}

func (f *fakeSystemConfigRepo) GetByPrefix(_ context.Context, _ string) (map[string]string, error) {
	out := make(map[string]string, len(f.rows))
	for k, v := range f.rows {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSystemConfigRepo) Upsert(_ context.Context, key, value string) error {
	f.rows[key] = value
	return nil
}

func newCenter(t *testing.T, rows map[string]string) *ConfigCenter {
	t.Helper()
	repo := &fakeSystemConfigRepo{rows: rows}
	c, err := New(context.Background(), repo, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNew_EmptyRepoFallsBackToDocumentedDefaults(t *testing.T) {
	c := newCenter(t, map[string]string{})
	assert.False(t, c.DebateEnabled())
	assert.Equal(t, 2, c.DebateMaxRounds())
	assert.Equal(t, 120*time.Second, c.DebateTimeoutPerPhase())
	assert.Equal(t, 20, c.DebateTradeHistoryLimit())
	assert.Equal(t, []string{"bull", "bear", "risk_manager"}, c.DebateRoles())
	assert.Equal(t, 25, c.MarketRegimeADXTrendingThreshold())
	assert.InDelta(t, 0.03, c.MarketRegimeBBWidthRangingThreshold(), 0.0001)
	assert.InDelta(t, 0.08, c.MarketRegimeBBWidthVolatileThreshold(), 0.0001)
	assert.Equal(t, "4h", c.MarketRegimePrimaryTimeframe())
	assert.True(t, c.MarketRegimeContinueIfHasPositions())
	assert.Equal(t, 90*time.Second, c.BatchDecisionTimeout())
}

func TestNew_RowOverridesDefault(t *testing.T) {
	c := newCenter(t, map[string]string{"debate.max_rounds": "5"})
	assert.Equal(t, 5, c.DebateMaxRounds())
}

func TestDebateRoles_MalformedRowFallsBackToDefault(t *testing.T) {
	c := newCenter(t, map[string]string{"debate.roles": "not-json"})
	assert.Equal(t, []string{"bull", "bear", "risk_manager"}, c.DebateRoles())
}

func TestCacheTTL_UsesRowOverrideWhenPresent(t *testing.T) {
	c := newCenter(t, map[string]string{"cache.ttl.tickers": "30"})
	assert.Equal(t, 30*time.Second, c.CacheTTL("tickers"))
}

func TestCacheTTL_UsesBuiltinDefaultForKnownNamespace(t *testing.T) {
	c := newCenter(t, map[string]string{})
	assert.Equal(t, 300*time.Second, c.CacheTTL("ohlcv_3m"))
}

func TestCacheTTL_FallsBackTo60sForNamespaceWithNoCachePackageDefault(t *testing.T) {
	c := newCenter(t, map[string]string{})
	// coin_selection has no internal/cache built-in default (its TTL is only
	// ever computed dynamically from the bot's cycle interval), so absent a
	// row it falls through to the final 60s fallback.
	assert.Equal(t, 60*time.Second, c.CacheTTL("coin_selection"))
}

func TestCacheTTL_FallsBackTo60sForUnknownNamespace(t *testing.T) {
	c := newCenter(t, map[string]string{})
	assert.Equal(t, 60*time.Second, c.CacheTTL("something_new"))
}

func TestReload_PicksUpRepoChangesOnNextCall(t *testing.T) {
	repo := &fakeSystemConfigRepo{rows: map[string]string{"debate.max_rounds": "1"}}
	c, err := New(context.Background(), repo, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, c.DebateMaxRounds())

	repo.rows["debate.max_rounds"] = "4"
	require.NoError(t, c.reload(context.Background()))
	assert.Equal(t, 4, c.DebateMaxRounds())
}

func TestBoolOr_InvalidValueLogsAndFallsBackToFalse(t *testing.T) {
	c := newCenter(t, map[string]string{"debate.enabled": "not-a-bool"})
	assert.False(t, c.DebateEnabled())
}
