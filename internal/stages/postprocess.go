package stages

import (
	"fmt"

	"github.com/helion-systems/helion/internal/domain"
)

const forcedCloseLossThresholdPct = -3.0

// postProcessDecisions applies spec.md §4.9.3's six normalization steps,
// shared by both BatchDecision and DebateDecision.
func postProcessDecisions(state *domain.State, result domain.BatchDecisionResult, maxSingleAllocationPct, maxTotalAllocationPct float64) domain.BatchDecisionResult {
	decisions := forceCloseLosingPositions(state, result.Decisions)
	decisions = whitelistSymbols(decisions, state.Symbols)
	decisions = capPerSymbol(decisions, maxSingleAllocationPct)
	decisions = capTotal(decisions, maxTotalAllocationPct)

	total := sumActionableAllocation(decisions)
	state.Alerts = nil

	return domain.BatchDecisionResult{
		Decisions:          decisions,
		TotalAllocationPct: total,
		CashReservePct:     100 - total,
		StrategyRationale:  result.StrategyRationale,
	}
}

// forceCloseLosingPositions injects a close decision, priority 0,
// confidence 100, for every open position whose unrealized PnL is at or
// below -3%, dropping any conflicting AI decision on the same symbol
// (spec.md §4.9.3 step 1). currentPrice comes from MarketDataStage's
// written current_price; a missing price leaves the position untouched
// rather than fabricating a PnL.
func forceCloseLosingPositions(state *domain.State, decisions []domain.PortfolioDecision) []domain.PortfolioDecision {
	bySymbol := make(map[string]domain.PortfolioDecision, len(decisions))
	for _, d := range decisions {
		bySymbol[d.Symbol] = d
	}

	var forced []domain.PortfolioDecision
	for _, pos := range state.Positions {
		md, ok := state.MarketData[pos.Symbol]
		if !ok || md.CurrentPrice == 0 {
			continue
		}
		pnlPct := pos.UnrealizedPnLPct(md.CurrentPrice)
		if pnlPct > forcedCloseLossThresholdPct {
			continue
		}
		action := domain.ActionCloseLong
		if pos.Side == domain.SideSell {
			action = domain.ActionCloseShort
		}
		forced = append(forced, domain.PortfolioDecision{
			Symbol:     pos.Symbol,
			Action:     action,
			Confidence: 100,
			Priority:   0,
			Reasoning:  fmt.Sprintf("forced close: unrealized PnL %.2f%% breached -3%%", pnlPct),
		})
		delete(bySymbol, pos.Symbol)
	}

	out := forced
	for _, d := range decisions {
		if kept, ok := bySymbol[d.Symbol]; ok && kept.Symbol == d.Symbol {
			out = append(out, d)
		}
	}
	return out
}

func whitelistSymbols(decisions []domain.PortfolioDecision, universe []string) []domain.PortfolioDecision {
	allowed := make(map[string]bool, len(universe))
	for _, s := range universe {
		allowed[s] = true
	}
	out := decisions[:0]
	for _, d := range decisions {
		if allowed[d.Symbol] {
			out = append(out, d)
		}
	}
	return out
}

func capPerSymbol(decisions []domain.PortfolioDecision, maxSingle float64) []domain.PortfolioDecision {
	for i := range decisions {
		if decisions[i].AllocationPct > maxSingle {
			decisions[i].AllocationPct = maxSingle
		}
	}
	return decisions
}

func capTotal(decisions []domain.PortfolioDecision, maxTotal float64) []domain.PortfolioDecision {
	total := sumActionableAllocation(decisions)
	if total <= maxTotal || total == 0 {
		return decisions
	}
	ratio := maxTotal / total
	for i := range decisions {
		if decisions[i].Action.Actionable() {
			decisions[i].AllocationPct *= ratio
		}
	}
	return decisions
}

func sumActionableAllocation(decisions []domain.PortfolioDecision) float64 {
	var total float64
	for _, d := range decisions {
		if d.Action.Actionable() {
			total += d.AllocationPct
		}
	}
	return total
}

// allWaitDecisions builds the fallback BatchDecisionResult: a `wait` for
// every symbol in the universe, used by every LLM call's fallback chain.
func allWaitDecisions(symbols []string) domain.BatchDecisionResult {
	decisions := make([]domain.PortfolioDecision, len(symbols))
	for i, sym := range symbols {
		decisions[i] = domain.PortfolioDecision{Symbol: sym, Action: domain.ActionWait}
	}
	return domain.BatchDecisionResult{Decisions: decisions, CashReservePct: 100}
}
