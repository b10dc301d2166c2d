// Package trailingstop implements TrailingStop (spec.md §4.11): a
// monotonic stop-loss ratchet per open position, activated once unrealized
// PnL crosses a trigger threshold and only ever moving in the favorable
// direction. No teacher analogue exists (the equities planner has no
// intraday trailing-stop concept); the per-position mutable-state-struct
// shape follows the general service-state convention seen across the
// teacher's modules (a small struct keyed by symbol, read/written under a
// single mutex, mirroring `internal/market_regime/market_state.go`'s
// cache-refresh shape skimmed before deletion).
package trailingstop

import (
	"sync"

	"github.com/helion-systems/helion/internal/domain"
)

// State is one position's trailing-stop bookkeeping.
type State struct {
	PeakPnLPct float64
	TrailingSL float64
	Activated  bool
}

// Tracker holds per-symbol trailing-stop state for one bot. Safe for
// concurrent use, though ExecutionStage's sweep runs single-threaded per
// cycle by construction (spec.md §5).
type Tracker struct {
	mu    sync.Mutex
	state map[string]*State
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{state: make(map[string]*State)}
}

// Clear removes a symbol's trailing state, called when its position
// closes from any source (trailing stop, AI decision, or forced close).
func (t *Tracker) Clear(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, symbol)
}

// Update advances a position's trailing-stop state given its current
// unrealized PnL% and price, and reports whether the position should now
// be closed (price crossed the ratchet).
func (t *Tracker) Update(pos *domain.Position, currentPrice, pnlPct, triggerPct, distancePct, lockProfitPct float64) (shouldClose bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.state[pos.Symbol]
	if !ok {
		s = &State{}
		t.state[pos.Symbol] = s
	}

	if pnlPct > s.PeakPnLPct {
		s.PeakPnLPct = pnlPct
	}

	if !s.Activated {
		if pnlPct >= triggerPct {
			s.Activated = true
		} else {
			return false
		}
	}

	switch pos.Side {
	case domain.SideBuy:
		candidate := currentPrice * (1 - distancePct/100)
		floor := pos.EntryPrice * (1 + lockProfitPct/100)
		if candidate < floor {
			candidate = floor
		}
		if candidate > s.TrailingSL {
			s.TrailingSL = candidate
		}
		return currentPrice <= s.TrailingSL
	case domain.SideSell:
		candidate := currentPrice * (1 + distancePct/100)
		cap := pos.EntryPrice * (1 - lockProfitPct/100)
		if candidate > cap {
			candidate = cap
		}
		if s.TrailingSL == 0 || candidate < s.TrailingSL {
			s.TrailingSL = candidate
		}
		return currentPrice >= s.TrailingSL
	default:
		return false
	}
}
