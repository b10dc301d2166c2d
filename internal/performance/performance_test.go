package performance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helion-systems/helion/internal/domain"
)

func closedTrade(pnlUSD, pnlPct float64) domain.TradeHistory {
	return domain.TradeHistory{Status: domain.TradeClosed, PnLUSD: pnlUSD, PnLPercent: pnlPct}
}

func TestCompute_EmptyTradesReturnsZeroSummary(t *testing.T) {
	s := Compute(nil, 50)
	assert.Equal(t, 0, s.TotalTrades)
	assert.Equal(t, "No closed trades yet; no performance feedback available.", s.ToPromptText())
}

func TestCompute_WinRateAndTotals(t *testing.T) {
	trades := []domain.TradeHistory{
		closedTrade(100, 5),
		closedTrade(-50, -2.5),
		closedTrade(200, 8),
	}
	s := Compute(trades, 50)

	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.InDelta(t, 66.666, s.WinRatePct, 0.01)
	assert.InDelta(t, 250.0, s.TotalReturnUSD, 0.001)
}

func TestCompute_WindowTruncatesToMostRecent(t *testing.T) {
	trades := []domain.TradeHistory{
		closedTrade(-1000, -50), // should be dropped by window=2
		closedTrade(10, 1),
		closedTrade(20, 2),
	}
	s := Compute(trades, 2)
	assert.Equal(t, 2, s.TotalTrades)
	assert.InDelta(t, 30.0, s.TotalReturnUSD, 0.001)
}

func TestCompute_ZeroWindowFallsBackToDefault(t *testing.T) {
	s := Compute(nil, 0)
	assert.Equal(t, defaultWindow, s.Window)
}

func TestSharpe_FewerThanTwoTradesReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), sharpe([]float64{5}))
	assert.Equal(t, float64(0), sharpe(nil))
}

func TestSharpe_ZeroStdDevReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), sharpe([]float64{3, 3, 3}))
}

func TestMaxDrawdown_TracksWorstPeakToTrough(t *testing.T) {
	// equity: 1.0 -> 1.1 -> 0.99 -> 1.21
	dd := maxDrawdown([]float64{10, -10, 22.22})
	assert.InDelta(t, 0.1, dd, 0.01)
}

func TestMaxDrawdown_EmptyReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), maxDrawdown(nil))
}

func TestProfitFactor_NoLossesReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), profitFactor([]float64{5, 10}, nil))
}

func TestProfitFactor_RatioOfWinsToAbsLosses(t *testing.T) {
	pf := profitFactor([]float64{10, 10}, []float64{-5})
	assert.InDelta(t, 4.0, pf, 0.001)
}

func TestToPromptText_NonEmptyIncludesWinRate(t *testing.T) {
	s := Compute([]domain.TradeHistory{closedTrade(10, 1), closedTrade(-5, -0.5)}, 50)
	text := s.ToPromptText()
	assert.Contains(t, text, "win rate")
	assert.Contains(t, text, "Sharpe")
}
