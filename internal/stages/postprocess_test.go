package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helion-systems/helion/internal/domain"
)

func stateWithPosition(symbol string, side domain.PositionSide, entry, current float64) *domain.State {
	return &domain.State{
		Symbols:   []string{symbol},
		Positions: []domain.Position{{Symbol: symbol, Side: side, EntryPrice: entry}},
		MarketData: map[string]*domain.SymbolMarketData{
			symbol: {CurrentPrice: current},
		},
	}
}

func TestForceCloseLosingPositions_ClosesLongBelowThreshold(t *testing.T) {
	state := stateWithPosition("BTCUSDT", domain.SideBuy, 100, 96) // -4% pnl
	decisions := forceCloseLosingPositions(state, nil)

	assert.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionCloseLong, decisions[0].Action)
	assert.Equal(t, 100, decisions[0].Confidence)
	assert.Equal(t, 0, decisions[0].Priority)
}

func TestForceCloseLosingPositions_ClosesShortBelowThreshold(t *testing.T) {
	state := stateWithPosition("BTCUSDT", domain.SideSell, 100, 104) // -4% pnl for a short
	decisions := forceCloseLosingPositions(state, nil)

	assert.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionCloseShort, decisions[0].Action)
}

func TestForceCloseLosingPositions_LeavesPositionAboveThresholdAlone(t *testing.T) {
	state := stateWithPosition("BTCUSDT", domain.SideBuy, 100, 99) // -1% pnl, above -3% threshold
	existing := []domain.PortfolioDecision{{Symbol: "BTCUSDT", Action: domain.ActionWait}}
	decisions := forceCloseLosingPositions(state, existing)

	assert.Equal(t, existing, decisions)
}

func TestForceCloseLosingPositions_OverridesConflictingAIDecision(t *testing.T) {
	state := stateWithPosition("BTCUSDT", domain.SideBuy, 100, 90) // -10% pnl
	existing := []domain.PortfolioDecision{{Symbol: "BTCUSDT", Action: domain.ActionOpenLong, AllocationPct: 20}}
	decisions := forceCloseLosingPositions(state, existing)

	assert.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionCloseLong, decisions[0].Action)
}

func TestForceCloseLosingPositions_MissingPriceLeavesPositionUntouched(t *testing.T) {
	state := &domain.State{
		Positions:  []domain.Position{{Symbol: "BTCUSDT", Side: domain.SideBuy, EntryPrice: 100}},
		MarketData: map[string]*domain.SymbolMarketData{},
	}
	decisions := forceCloseLosingPositions(state, nil)
	assert.Empty(t, decisions)
}

func TestWhitelistSymbols_DropsDecisionsOutsideUniverse(t *testing.T) {
	decisions := []domain.PortfolioDecision{
		{Symbol: "BTCUSDT"},
		{Symbol: "NOTLISTED"},
	}
	out := whitelistSymbols(decisions, []string{"BTCUSDT"})
	assert.Len(t, out, 1)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
}

func TestCapPerSymbol_ClampsAllocationAboveMax(t *testing.T) {
	decisions := []domain.PortfolioDecision{{Symbol: "BTCUSDT", AllocationPct: 50}}
	out := capPerSymbol(decisions, 20)
	assert.Equal(t, 20.0, out[0].AllocationPct)
}

func TestCapPerSymbol_LeavesAllocationBelowMaxAlone(t *testing.T) {
	decisions := []domain.PortfolioDecision{{Symbol: "BTCUSDT", AllocationPct: 10}}
	out := capPerSymbol(decisions, 20)
	assert.Equal(t, 10.0, out[0].AllocationPct)
}

func TestCapTotal_ScalesDownActionableDecisionsProportionally(t *testing.T) {
	decisions := []domain.PortfolioDecision{
		{Symbol: "BTCUSDT", Action: domain.ActionOpenLong, AllocationPct: 60},
		{Symbol: "ETHUSDT", Action: domain.ActionOpenLong, AllocationPct: 40},
		{Symbol: "SOLUSDT", Action: domain.ActionWait, AllocationPct: 0},
	}
	out := capTotal(decisions, 50)

	assert.InDelta(t, 30.0, out[0].AllocationPct, 0.001)
	assert.InDelta(t, 20.0, out[1].AllocationPct, 0.001)
}

func TestCapTotal_LeavesDecisionsAloneWhenUnderCap(t *testing.T) {
	decisions := []domain.PortfolioDecision{{Symbol: "BTCUSDT", Action: domain.ActionOpenLong, AllocationPct: 10}}
	out := capTotal(decisions, 50)
	assert.Equal(t, 10.0, out[0].AllocationPct)
}

func TestSumActionableAllocation_IgnoresWaitAndHold(t *testing.T) {
	decisions := []domain.PortfolioDecision{
		{Action: domain.ActionOpenLong, AllocationPct: 15},
		{Action: domain.ActionWait, AllocationPct: 999},
		{Action: domain.ActionHold, AllocationPct: 999},
	}
	assert.Equal(t, 15.0, sumActionableAllocation(decisions))
}

func TestAllWaitDecisions_OneWaitPerSymbol(t *testing.T) {
	result := allWaitDecisions([]string{"BTCUSDT", "ETHUSDT"})
	assert.Len(t, result.Decisions, 2)
	assert.Equal(t, float64(100), result.CashReservePct)
	for _, d := range result.Decisions {
		assert.Equal(t, domain.ActionWait, d.Action)
	}
}

func TestPostProcessDecisions_ComputesCashReserveFromTotalAllocation(t *testing.T) {
	state := &domain.State{
		Symbols:    []string{"BTCUSDT"},
		MarketData: map[string]*domain.SymbolMarketData{},
	}
	result := domain.BatchDecisionResult{
		Decisions: []domain.PortfolioDecision{
			{Symbol: "BTCUSDT", Action: domain.ActionOpenLong, AllocationPct: 30},
		},
		StrategyRationale: "test rationale",
	}

	out := postProcessDecisions(state, result, 50, 80)

	assert.Equal(t, 30.0, out.TotalAllocationPct)
	assert.Equal(t, 70.0, out.CashReservePct)
	assert.Equal(t, "test rationale", out.StrategyRationale)
	assert.Nil(t, state.Alerts)
}
