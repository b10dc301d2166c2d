package trailingstop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helion-systems/helion/internal/domain"
)

func longPosition(entry float64) *domain.Position {
	return &domain.Position{Symbol: "BTCUSDT", Side: domain.SideBuy, EntryPrice: entry}
}

func shortPosition(entry float64) *domain.Position {
	return &domain.Position{Symbol: "BTCUSDT", Side: domain.SideSell, EntryPrice: entry}
}

func TestUpdate_DoesNotActivateBelowTrigger(t *testing.T) {
	tr := New()
	pos := longPosition(100)
	shouldClose := tr.Update(pos, 102, 1.0, 2.0, 1.0, 0.5)
	assert.False(t, shouldClose)
}

func TestUpdate_LongActivatesAndRatchetsUp(t *testing.T) {
	tr := New()
	pos := longPosition(100)

	// price rallies to 110, pnl 10% >= trigger 2% -> activates, SL set below price
	assert.False(t, tr.Update(pos, 110, 10.0, 2.0, 1.0, 0.5))
	// price keeps rising, SL should ratchet up with it
	assert.False(t, tr.Update(pos, 120, 20.0, 2.0, 1.0, 0.5))
	// price drops sharply below the ratcheted SL -> close
	assert.True(t, tr.Update(pos, 100, -0.0, 2.0, 1.0, 0.5))
}

func TestUpdate_LongNeverRatchetsBelowLockProfitFloor(t *testing.T) {
	tr := New()
	pos := longPosition(100)
	// activates at 10%, distance 1% -> candidate = 110*0.99 = 108.9, floor = 100*1.005=100.5, candidate wins
	tr.Update(pos, 110, 10.0, 2.0, 1.0, 0.5)
	// price crashes back toward entry; SL must never fall below the lock-profit floor
	shouldClose := tr.Update(pos, 100.4, 0.4, 2.0, 1.0, 0.5)
	assert.True(t, shouldClose)
}

func TestUpdate_ShortActivatesAndRatchetsDown(t *testing.T) {
	tr := New()
	pos := shortPosition(100)

	assert.False(t, tr.Update(pos, 90, 10.0, 2.0, 1.0, 0.5))
	assert.False(t, tr.Update(pos, 80, 20.0, 2.0, 1.0, 0.5))
	// price rebounds above the ratcheted SL -> close
	assert.True(t, tr.Update(pos, 100, 0.0, 2.0, 1.0, 0.5))
}

func TestUpdate_PeakPnLNeverDecreases(t *testing.T) {
	tr := New()
	pos := longPosition(100)
	tr.Update(pos, 120, 20.0, 2.0, 1.0, 0.5)
	tr.Update(pos, 110, 10.0, 2.0, 1.0, 0.5)
	assert.Equal(t, 20.0, tr.state[pos.Symbol].PeakPnLPct)
}

func TestClear_RemovesSymbolState(t *testing.T) {
	tr := New()
	pos := longPosition(100)
	tr.Update(pos, 110, 10.0, 2.0, 1.0, 0.5)
	assert.NotNil(t, tr.state[pos.Symbol])
	tr.Clear(pos.Symbol)
	assert.Nil(t, tr.state[pos.Symbol])
}
