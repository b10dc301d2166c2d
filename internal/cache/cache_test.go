package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet_RoundTrips(t *testing.T) {
	c := New()
	assert.NoError(t, c.Set(NamespaceTickers, "BTCUSDT", 12345.6))

	var out float64
	ok := c.Get(NamespaceTickers, "BTCUSDT", &out)
	assert.True(t, ok)
	assert.Equal(t, 12345.6, out)
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	c := New()
	var out float64
	assert.False(t, c.Get(NamespaceTickers, "ETHUSDT", &out))
}

func TestGet_ExpiredEntryEvictsAndMisses(t *testing.T) {
	c := New()
	c.ttls[NamespaceTickers] = time.Millisecond
	assert.NoError(t, c.Set(NamespaceTickers, "BTCUSDT", 1.0))
	time.Sleep(5 * time.Millisecond)

	var out float64
	assert.False(t, c.Get(NamespaceTickers, "BTCUSDT", &out))
	_, bucketHasKey := c.data[NamespaceTickers]["BTCUSDT"]
	assert.False(t, bucketHasKey)
}

func TestSet_UnknownNamespaceUsesDefaultTTL(t *testing.T) {
	c := New()
	assert.NoError(t, c.Set("custom_namespace", "k", "v"))
	entry := c.data["custom_namespace"]["k"]
	assert.WithinDuration(t, time.Now().Add(60*time.Second), entry.expires, time.Second)
}

func TestDelete_RemovesSingleKey(t *testing.T) {
	c := New()
	c.Set(NamespaceTickers, "BTCUSDT", 1.0)
	c.Set(NamespaceTickers, "ETHUSDT", 2.0)
	c.Delete(NamespaceTickers, "BTCUSDT")

	var out float64
	assert.False(t, c.Get(NamespaceTickers, "BTCUSDT", &out))
	assert.True(t, c.Get(NamespaceTickers, "ETHUSDT", &out))
}

func TestInvalidate_EmptyKeyDropsWholeNamespace(t *testing.T) {
	c := New()
	c.Set(NamespaceTickers, "BTCUSDT", 1.0)
	c.Set(NamespaceTickers, "ETHUSDT", 2.0)
	c.Invalidate(NamespaceTickers, "")
	_, ok := c.data[NamespaceTickers]
	assert.False(t, ok)
}

func TestCleanupExpired_EvictsOnlyExpiredEntries(t *testing.T) {
	c := New()
	c.ttls[NamespaceTickers] = time.Millisecond
	c.Set(NamespaceTickers, "stale", 1.0)
	time.Sleep(5 * time.Millisecond)
	c.ttls[NamespaceOrderbook] = time.Hour
	c.Set(NamespaceOrderbook, "fresh", 2.0)

	c.CleanupExpired()

	_, staleNamespaceExists := c.data[NamespaceTickers]
	assert.False(t, staleNamespaceExists)
	var out float64
	assert.True(t, c.Get(NamespaceOrderbook, "fresh", &out))
}

func TestSetCycleInterval_ScalesCoinSelectionTTL(t *testing.T) {
	c := New()
	c.SetCycleInterval(100 * time.Second)
	assert.Equal(t, 90*time.Second, c.ttls[NamespaceCoinSelection])
}

type fakeTTLSource struct {
	ttl time.Duration
}

func (f fakeTTLSource) CacheTTL(_ string) time.Duration { return f.ttl }

func TestSetTTLSource_OverridesSetResolvedTTL(t *testing.T) {
	c := New()
	c.SetTTLSource(fakeTTLSource{ttl: time.Millisecond})
	assert.NoError(t, c.Set(NamespaceTickers, "BTCUSDT", 1.0))

	time.Sleep(5 * time.Millisecond)
	var out float64
	assert.False(t, c.Get(NamespaceTickers, "BTCUSDT", &out))
}

func TestSetTTLSource_CoinSelectionDynamicOverrideWinsOverSource(t *testing.T) {
	c := New()
	c.SetCycleInterval(100 * time.Second)
	c.SetTTLSource(fakeTTLSource{ttl: time.Hour})

	assert.NoError(t, c.Set(NamespaceCoinSelection, "btc", 1.0))
	entry := c.data[NamespaceCoinSelection]["btc"]
	assert.WithinDuration(t, time.Now().Add(90*time.Second), entry.expires, time.Second)
}

func TestDefaultTTL_ReturnsFalseForUnknownNamespace(t *testing.T) {
	_, ok := DefaultTTL("not_a_namespace")
	assert.False(t, ok)
}
