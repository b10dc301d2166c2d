// Package performance computes PerformanceCalc: a rolling-window summary
// of a bot's closed trades fed back into decision prompts as feedback.
// Grounded on the teacher's formulas package (Sharpe/drawdown/stats, a
// thin wrap of gonum/stat), adapted from daily-price-series equity curves
// to a closed-trade percentage-return ledger.
package performance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/helion-systems/helion/internal/domain"
)

const defaultWindow = 50

// Summary is the PerformanceCalc result for one bot, built from its last
// Window closed trades.
type Summary struct {
	Window        int
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRatePct    float64
	AvgReturnPct  float64
	TotalReturnUSD float64
	Sharpe        float64
	MaxDrawdown   float64 // fraction, 0.15 = 15%
	ProfitFactor  float64
	AvgWinPct     float64
	AvgLossPct    float64
}

// Compute builds a Summary from the trade history's most recent (up to)
// window closed trades, oldest first. trades must already be filtered to
// TradeClosed and limited to one bot.
func Compute(trades []domain.TradeHistory, window int) Summary {
	if window <= 0 {
		window = defaultWindow
	}
	if len(trades) > window {
		trades = trades[len(trades)-window:]
	}

	s := Summary{Window: window, TotalTrades: len(trades)}
	if len(trades) == 0 {
		return s
	}

	returns := make([]float64, len(trades))
	var wins, losses []float64
	for i, t := range trades {
		returns[i] = t.PnLPercent
		s.TotalReturnUSD += t.PnLUSD
		if t.PnLUSD > 0 {
			s.WinningTrades++
			wins = append(wins, t.PnLPercent)
		} else if t.PnLUSD < 0 {
			s.LosingTrades++
			losses = append(losses, t.PnLPercent)
		}
	}

	s.WinRatePct = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	s.AvgReturnPct = stat.Mean(returns, nil)
	s.Sharpe = sharpe(returns)
	s.MaxDrawdown = maxDrawdown(returns)
	s.ProfitFactor = profitFactor(wins, losses)
	s.AvgWinPct = meanOrZero(wins)
	s.AvgLossPct = meanOrZero(losses)

	return s
}

func meanOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// sharpe computes mean/stddev of percentage returns with Bessel's
// correction (gonum's stat.StdDev already divides by n-1), returning 0 for
// fewer than two trades or a zero standard deviation.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	sd := stat.StdDev(returns, nil)
	if sd == 0 {
		return 0
	}
	return mean / sd
}

// maxDrawdown builds an equity curve by compounding the percentage returns
// from a base of 1.0, then returns the largest peak-to-trough fraction.
func maxDrawdown(returnsPct []float64) float64 {
	if len(returnsPct) == 0 {
		return 0
	}
	equity := 1.0
	peak := equity
	worst := 0.0
	for _, r := range returnsPct {
		equity *= 1 + r/100
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// profitFactor is the ratio of summed winning percentage returns to the
// absolute value of summed losing percentage returns, 0 if there are no
// losses to divide by.
func profitFactor(wins, losses []float64) float64 {
	var sumWins, sumLosses float64
	for _, w := range wins {
		sumWins += w
	}
	for _, l := range losses {
		sumLosses += l
	}
	if sumLosses == 0 {
		return 0
	}
	return sumWins / math.Abs(sumLosses)
}

// ToPromptText formats the summary for injection into a decision prompt,
// matching the feedback block DecisionStage prepends ahead of candidate
// symbols.
func (s Summary) ToPromptText() string {
	if s.TotalTrades == 0 {
		return "No closed trades yet; no performance feedback available."
	}
	return fmt.Sprintf(
		"Last %d trades: %d total, win rate %.1f%%, avg return %.2f%%, total P&L $%.2f, "+
			"Sharpe %.2f, max drawdown %.1f%%, profit factor %.2f, avg win %.2f%%, avg loss %.2f%%.",
		s.Window, s.TotalTrades, s.WinRatePct, s.AvgReturnPct, s.TotalReturnUSD,
		s.Sharpe, s.MaxDrawdown*100, s.ProfitFactor, s.AvgWinPct, s.AvgLossPct,
	)
}
