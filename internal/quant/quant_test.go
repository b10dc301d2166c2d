package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/indicators"
)

func equalWeights() domain.QuantSignalWeights {
	return domain.QuantSignalWeights{Trend: 0.25, Momentum: 0.25, Volume: 0.25, Sentiment: 0.25}
}

func TestScore_BullishAlignmentPassesFilter(t *testing.T) {
	tfs := []TimeframeBundle{
		{
			Timeframe: "1h",
			Bundle: indicators.Bundle{
				EMA20: 110, EMA50: 105, EMA200: 95,
				RSI14: 55, MACDHist: 1.2,
				OBV: 100, VolumeSMA: 10,
			},
			Price:        112,
			LatestVolume: 20,
		},
		{
			Timeframe: "4h",
			Bundle: indicators.Bundle{
				EMA20: 108, EMA50: 100, EMA200: 90,
				RSI14: 60, MACDHist: 0.8,
				OBV: 50, VolumeSMA: 10,
			},
			Price:        111,
			LatestVolume: 18,
		},
	}

	result := Score(tfs, -0.01, equalWeights(), 60)

	assert.True(t, result.Composite > 60)
	assert.True(t, result.PassFilter)
	assert.Contains(t, result.Breakdown, "trend")
	assert.Contains(t, result.Breakdown, "momentum")
	assert.Contains(t, result.Breakdown, "volume")
	assert.Contains(t, result.Breakdown, "sentiment")
	assert.NotEmpty(t, result.Reasons)
}

func TestScore_OverboughtRSIPenalizesMomentum(t *testing.T) {
	tfs := []TimeframeBundle{
		{Timeframe: "1h", Bundle: indicators.Bundle{RSI14: 85, EMA20: 10, EMA50: 10, EMA200: 10}, Price: 10},
	}
	result := Score(tfs, 0, equalWeights(), 50)
	assert.Less(t, result.Breakdown["momentum"], float64(baseScore))
}

func TestScore_OverheatedFundingPenalizesSentiment(t *testing.T) {
	tfs := []TimeframeBundle{{Timeframe: "1h"}}
	result := Score(tfs, 0.2, equalWeights(), 50)
	assert.Less(t, result.Breakdown["sentiment"], float64(baseScore))
}

func TestScore_NegativeFundingFavorsLongs(t *testing.T) {
	tfs := []TimeframeBundle{{Timeframe: "1h"}}
	result := Score(tfs, -0.05, equalWeights(), 50)
	assert.Equal(t, float64(baseScore+20), result.Breakdown["sentiment"])
}

func TestScore_EmptyTimeframesStaysAtBaseline(t *testing.T) {
	result := Score(nil, 0, equalWeights(), 50)
	assert.Equal(t, float64(baseScore), result.Breakdown["trend"])
	assert.Equal(t, float64(baseScore), result.Breakdown["momentum"])
	assert.Equal(t, float64(baseScore), result.Breakdown["volume"])
}

func TestClamp_BoundsToZeroAndHundred(t *testing.T) {
	assert.Equal(t, float64(0), clamp(-10))
	assert.Equal(t, float64(100), clamp(150))
	assert.Equal(t, float64(42), clamp(42))
}
