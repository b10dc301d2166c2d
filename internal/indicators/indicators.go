// Package indicators wraps go-talib into the pure functions IndicatorKit
// exposes to MarketDataStage: each accepts an ordered OHLCV window and
// returns a scalar or small struct, never an error. Faithful in spirit to
// the teacher's formulas package (nil-on-insufficient-data pure functions
// wrapping go-talib/gonum), but the edge policy here is a fixed neutral
// value rather than nil, since QuantSignal needs a concrete number to score
// against even on a cold-started symbol.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/helion-systems/helion/internal/domain"
)

// Bollinger holds upper/middle/lower band values for one close price.
type Bollinger struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bundle is the full indicator set computed for one (symbol, timeframe)
// window, the shape MarketDataStage writes into
// SymbolMarketData.Indicators under the timeframe's key.
type Bundle struct {
	EMA20     float64
	EMA50     float64
	EMA200    float64
	RSI14     float64
	MACD      float64
	MACDSig   float64
	MACDHist  float64
	ATR14     float64
	Bollinger Bollinger
	ADX14     float64
	StochK    float64
	StochD    float64
	OBV       float64
	VolumeSMA float64
	VWAP      float64
}

func isNaN(f float64) bool { return f != f }

func lastOrNeutral(series []float64, neutral float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !isNaN(series[i]) {
			return series[i]
		}
	}
	return neutral
}

// EMA returns the last exponential moving average value, or 0 if the
// window is shorter than period.
func EMA(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	return lastOrNeutral(talib.Ema(closes, period), 0)
}

// RSI returns the last RSI(period) value in [0,100], or the neutral value
// 50 (neither overbought nor oversold) if the window is too short.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	return lastOrNeutral(talib.Rsi(closes, period), 50)
}

// MACD returns the last MACD line, signal line, and histogram values.
// All three are 0 if the window is too short to seed the slow EMA.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist float64) {
	if len(closes) < slow+signal {
		return 0, 0, 0
	}
	m, s, h := talib.Macd(closes, fast, slow, signal)
	return lastOrNeutral(m, 0), lastOrNeutral(s, 0), lastOrNeutral(h, 0)
}

// ATR returns the last Average True Range value, or 0 if the window is too
// short.
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	return lastOrNeutral(talib.Atr(highs, lows, closes, period), 0)
}

// BollingerBands returns the last upper/middle/lower band values, all
// zero if the window is too short.
func BollingerBands(closes []float64, period int, devUp, devDown float64) Bollinger {
	if len(closes) < period {
		return Bollinger{}
	}
	upper, middle, lower := talib.BBands(closes, period, devUp, devDown, talib.SMA)
	return Bollinger{
		Upper:  lastOrNeutral(upper, 0),
		Middle: lastOrNeutral(middle, 0),
		Lower:  lastOrNeutral(lower, 0),
	}
}

// BandwidthPct returns Bollinger bandwidth as a percentage of the middle
// band, the metric RegimeStage uses to distinguish ranging from volatile.
func (b Bollinger) BandwidthPct() float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle * 100
}

// ADX returns the last Average Directional Index value in [0,100], or 0
// (no trend signal) if the window is too short.
func ADX(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period*2 {
		return 0
	}
	return lastOrNeutral(talib.Adx(highs, lows, closes, period), 0)
}

// Stochastic returns the last %K/%D values, or the neutral midpoint 50/50
// if the window is too short.
func Stochastic(highs, lows, closes []float64, kPeriod, kSlow, dPeriod int) (k, d float64) {
	if len(closes) < kPeriod+kSlow+dPeriod {
		return 50, 50
	}
	kv, dv := talib.Stoch(highs, lows, closes, kPeriod, kSlow, talib.SMA, dPeriod, talib.SMA)
	return lastOrNeutral(kv, 50), lastOrNeutral(dv, 50)
}

// OBV returns the last On-Balance Volume value, or 0 if the window is
// empty.
func OBV(closes, volumes []float64) float64 {
	if len(closes) == 0 {
		return 0
	}
	return lastOrNeutral(talib.Obv(closes, volumes), 0)
}

// VolumeSMA returns the simple moving average of volume over period bars,
// or 0 if the window is too short. QuantSignal's volume sub-score divides
// the latest volume by this to get the "ratio > 1.5" signal.
func VolumeSMA(volumes []float64, period int) float64 {
	if len(volumes) < period {
		return 0
	}
	return lastOrNeutral(talib.Sma(volumes, period), 0)
}

// VWAP returns the cumulative volume-weighted average price over the whole
// window: sum(typical_price * volume) / sum(volume), or 0 if total volume
// is zero.
func VWAP(highs, lows, closes, volumes []float64) float64 {
	var pv, totalVolume float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		pv += typical * volumes[i]
		totalVolume += volumes[i]
	}
	if totalVolume == 0 {
		return 0
	}
	return pv / totalVolume
}

// Compute builds the full Bundle for one OHLCV window, using the standard
// period set (EMA 20/50/200, RSI 14, MACD 12/26/9, ATR 14, Bollinger
// 20±2σ, ADX 14, Stochastic 14/3/3, OBV, Volume SMA 20).
func Compute(w domain.OHLCVWindow) Bundle {
	closes := w.Closes()
	highs := w.Highs()
	lows := w.Lows()
	volumes := w.Volumes()

	macd, macdSig, macdHist := MACD(closes, 12, 26, 9)
	stochK, stochD := Stochastic(highs, lows, closes, 14, 3, 3)

	return Bundle{
		EMA20:     EMA(closes, 20),
		EMA50:     EMA(closes, 50),
		EMA200:    EMA(closes, 200),
		RSI14:     RSI(closes, 14),
		MACD:      macd,
		MACDSig:   macdSig,
		MACDHist:  macdHist,
		ATR14:     ATR(highs, lows, closes, 14),
		Bollinger: BollingerBands(closes, 20, 2, 2),
		ADX14:     ADX(highs, lows, closes, 14),
		StochK:    stochK,
		StochD:    stochD,
		OBV:       OBV(closes, volumes),
		VolumeSMA: VolumeSMA(volumes, 20),
		VWAP:      VWAP(highs, lows, closes, volumes),
	}
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
