package domain

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// OHLCVWindow is an ordered series of candles for one (symbol, timeframe).
type OHLCVWindow []Candle

// Closes returns the close-price series, oldest first, the shape every
// IndicatorKit function expects.
func (w OHLCVWindow) Closes() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high-price series, oldest first.
func (w OHLCVWindow) Highs() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.High
	}
	return out
}

// Lows returns the low-price series, oldest first.
func (w OHLCVWindow) Lows() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.Low
	}
	return out
}

// Volumes returns the volume series, oldest first.
func (w OHLCVWindow) Volumes() []float64 {
	out := make([]float64, len(w))
	for i, c := range w {
		out[i] = c.Volume
	}
	return out
}

// LastClosed returns the most recent candle whose open time plus the
// timeframe duration has already elapsed as of now, along with whether one
// was found. Used by StreamManager to decide whether a push is a closed or
// a still-forming partial candle.
func (w OHLCVWindow) LastClosed(timeframe time.Duration, now time.Time) (Candle, bool) {
	for i := len(w) - 1; i >= 0; i-- {
		if now.Sub(w[i].OpenTime) >= timeframe {
			return w[i], true
		}
	}
	return Candle{}, false
}

// OrderBookMetrics summarizes a depth-20 order book snapshot.
type OrderBookMetrics struct {
	Spread         float64
	Imbalance      float64 // [-1, 1]
	LiquidityDepth float64
	BidVolume10    float64
	AskVolume10    float64
}

// TradeMetrics summarizes the last 100 public trades.
type TradeMetrics struct {
	BuySellRatio    float64
	TradeIntensity  float64 // trade count, not volume-weighted (see SPEC_FULL Open Questions)
	AvgTradeSize    float64
	PriceMomentum   float64
}

// SymbolMarketData is everything MarketDataStage assembles for one symbol
// in one cycle.
type SymbolMarketData struct {
	Windows      map[string]OHLCVWindow // timeframe -> window
	Indicators   map[string]interface{} // indicator name -> scalar/struct, plus quant breakdown once FilterStage runs
	CurrentPrice float64
	FundingRate  float64
	OrderBook    *OrderBookMetrics // live mode only
	Trades       *TradeMetrics     // live mode only
}

// MarketRegime is the classification label produced by RegimeStage.
type MarketRegime string

const (
	RegimeTrendingUp   MarketRegime = "trending_up"
	RegimeTrendingDown MarketRegime = "trending_down"
	RegimeRanging      MarketRegime = "ranging"
	RegimeVolatile     MarketRegime = "volatile"
	RegimeUncertain    MarketRegime = "uncertain"
)
