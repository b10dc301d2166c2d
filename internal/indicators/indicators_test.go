package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helion-systems/helion/internal/domain"
)

func closesWindow(closes []float64) domain.OHLCVWindow {
	w := make(domain.OHLCVWindow, len(closes))
	now := time.Now()
	for i, c := range closes {
		w[i] = domain.Candle{OpenTime: now.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100}
	}
	return w
}

func risingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestEMA_TooShortWindowReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), EMA(risingCloses(5, 100, 1), 20))
}

func TestEMA_SufficientWindowReturnsNonZero(t *testing.T) {
	assert.NotEqual(t, float64(0), EMA(risingCloses(30, 100, 1), 20))
}

func TestRSI_TooShortWindowReturnsNeutral50(t *testing.T) {
	assert.Equal(t, float64(50), RSI(risingCloses(5, 100, 1), 14))
}

func TestRSI_UptrendStaysWithinBounds(t *testing.T) {
	v := RSI(risingCloses(30, 100, 1), 14)
	assert.GreaterOrEqual(t, v, float64(0))
	assert.LessOrEqual(t, v, float64(100))
}

func TestMACD_TooShortWindowReturnsAllZero(t *testing.T) {
	macd, sig, hist := MACD(risingCloses(10, 100, 1), 12, 26, 9)
	assert.Equal(t, float64(0), macd)
	assert.Equal(t, float64(0), sig)
	assert.Equal(t, float64(0), hist)
}

func TestATR_TooShortWindowReturnsZero(t *testing.T) {
	closes := risingCloses(5, 100, 1)
	assert.Equal(t, float64(0), ATR(closes, closes, closes, 14))
}

func TestBollingerBands_TooShortWindowReturnsZeroValue(t *testing.T) {
	assert.Equal(t, Bollinger{}, BollingerBands(risingCloses(5, 100, 1), 20, 2, 2))
}

func TestBollinger_BandwidthPctOfZeroMiddleIsZero(t *testing.T) {
	b := Bollinger{Upper: 10, Middle: 0, Lower: 5}
	assert.Equal(t, float64(0), b.BandwidthPct())
}

func TestBollinger_BandwidthPctComputesRelativeSpread(t *testing.T) {
	b := Bollinger{Upper: 110, Middle: 100, Lower: 90}
	assert.InDelta(t, 20.0, b.BandwidthPct(), 0.001)
}

func TestADX_TooShortWindowReturnsZero(t *testing.T) {
	closes := risingCloses(10, 100, 1)
	assert.Equal(t, float64(0), ADX(closes, closes, closes, 14))
}

func TestStochastic_TooShortWindowReturnsNeutral(t *testing.T) {
	closes := risingCloses(5, 100, 1)
	k, d := Stochastic(closes, closes, closes, 14, 3, 3)
	assert.Equal(t, float64(50), k)
	assert.Equal(t, float64(50), d)
}

func TestOBV_EmptySeriesReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), OBV(nil, nil))
}

func TestVolumeSMA_TooShortWindowReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), VolumeSMA([]float64{1, 2, 3}, 20))
}

func TestCompute_BuildsFullBundleFromWindow(t *testing.T) {
	w := closesWindow(risingCloses(250, 100, 0.5))
	b := Compute(w)

	assert.NotEqual(t, float64(0), b.EMA20)
	assert.NotEqual(t, float64(0), b.EMA200)
	assert.NotEqual(t, float64(0), b.VolumeSMA)
	assert.NotEqual(t, float64(0), b.VWAP)
}

func TestVWAP_EmptySeriesReturnsZero(t *testing.T) {
	assert.Equal(t, float64(0), VWAP(nil, nil, nil, nil))
}

func TestVWAP_WeightsTypicalPriceByVolume(t *testing.T) {
	// two bars: typical price 10 with volume 1, typical price 20 with volume 3
	highs := []float64{10, 20}
	lows := []float64{10, 20}
	closes := []float64{10, 20}
	volumes := []float64{1, 3}

	// (10*1 + 20*3) / (1+3) = 70/4 = 17.5
	assert.InDelta(t, 17.5, VWAP(highs, lows, closes, volumes), 0.0001)
}

func TestClamp_RestrictsToBounds(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5, 0, 100))
	assert.Equal(t, 100.0, clamp(500, 0, 100))
	assert.Equal(t, 42.0, clamp(42, 0, 100))
}
