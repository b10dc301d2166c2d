package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/performance"
	"github.com/helion-systems/helion/internal/quant"
)

const performanceWindow = 50

// loadPerformance pulls the bot's recent closed trades and computes
// PerformanceCalc over them, writing the result onto state so both decision
// variants and any later inspection see the same snapshot.
func loadPerformance(ctx context.Context, s *PluginContext, state *domain.State) string {
	trades, err := s.TradeHistory.GetRecentTrades(ctx, state.BotID, performanceWindow)
	if err != nil {
		s.Log.Warn().Err(err).Msg("failed to load trade history for performance feedback")
		return "No closed trades yet; no performance feedback available."
	}

	closed := make([]domain.TradeHistory, 0, len(trades))
	for _, t := range trades {
		if t.Status == domain.TradeClosed {
			closed = append(closed, t)
		}
	}

	summary := performance.Compute(closed, performanceWindow)
	state.Performance = &domain.PerformanceSnapshot{
		TotalTrades:    summary.TotalTrades,
		WinningTrades:  summary.WinningTrades,
		LosingTrades:   summary.LosingTrades,
		WinRatePct:     summary.WinRatePct,
		AvgReturnPct:   summary.AvgReturnPct,
		TotalReturnUSD: summary.TotalReturnUSD,
		Sharpe:         summary.Sharpe,
		MaxDrawdown:    summary.MaxDrawdown,
		ProfitFactor:   summary.ProfitFactor,
		AvgWinPct:      summary.AvgWinPct,
		AvgLossPct:     summary.AvgLossPct,
	}
	return summary.ToPromptText()
}

// accountBlock renders free balances and open positions with their current
// unrealized PnL%, the shared "where do we stand" section of every prompt.
func accountBlock(state *domain.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Account balances:\n")
	assets := make([]string, 0, len(state.Account.Balances))
	for asset := range state.Account.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		bal := state.Account.Balances[asset]
		fmt.Fprintf(&b, "  %s: free=%.4f used=%.4f total=%.4f\n", asset, bal.Free, bal.Used, bal.Total)
	}

	if len(state.Positions) == 0 {
		b.WriteString("Open positions: none\n")
		return b.String()
	}

	b.WriteString("Open positions:\n")
	for _, p := range state.Positions {
		price := p.EntryPrice
		if md, ok := state.MarketData[p.Symbol]; ok && md.CurrentPrice > 0 {
			price = md.CurrentPrice
		}
		fmt.Fprintf(&b, "  %s %s amount=%.6f entry=%.4f leverage=%.1fx unrealized=%.2f%%\n",
			p.Symbol, p.Side, p.Amount, p.EntryPrice, p.Leverage, p.UnrealizedPnLPct(price))
	}
	return b.String()
}

// candidatesBlock renders each candidate symbol's quant-signal breakdown,
// funding rate, and current price, the material the decision prompt weighs
// opening/closing/holding against.
func candidatesBlock(state *domain.State) string {
	var b strings.Builder
	b.WriteString("Candidate symbols:\n")
	for _, symbol := range state.Symbols {
		md, ok := state.MarketData[symbol]
		if !ok {
			continue
		}
		result, _ := md.Indicators["quant_signal"].(quant.Result)
		fmt.Fprintf(&b, "  %s price=%.4f funding=%.4f%% quant_composite=%.1f breakdown=%v reasons=%v\n",
			symbol, md.CurrentPrice, md.FundingRate, result.Composite, result.Breakdown, result.Reasons)
	}
	return b.String()
}

// riskBlock echoes the bot's risk limits verbatim, so the model never has to
// be trusted to remember constraints across turns.
func riskBlock(r domain.RiskLimits) string {
	return fmt.Sprintf(
		"Risk constraints: max_total_allocation=%.1f%% max_single_allocation=%.1f%% "+
			"min_position_usd=%.2f max_position_usd=%.2f min_risk_reward=%.2f "+
			"max_leverage=%.1fx default_leverage=%.1fx max_funding_rate=%.3f%%",
		r.MaxTotalAllocationPct, r.MaxSingleAllocationPct, r.MinPositionSizeUSD, r.MaxPositionSizeUSD,
		r.MinRiskRewardRatio, r.MaxLeverage, r.DefaultLeverage, r.MaxFundingRatePct,
	)
}

func alertsBlock(alerts []string) string {
	if len(alerts) == 0 {
		return ""
	}
	return "Alerts from the previous cycle:\n  " + strings.Join(alerts, "\n  ") + "\n"
}

func regimeBlock(state *domain.State) string {
	return fmt.Sprintf("Market regime: %s (confidence %.2f)", state.MarketRegime, state.RegimeConfidence)
}
