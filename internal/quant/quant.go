// Package quant implements QuantSignal (spec.md §4.6): four sub-scores in
// [0,100] combined by a bot's weight vector into a composite score, a
// breakdown, and a pass/fail against a threshold. There is no teacher
// analogue (the equities planner scores securities on fundamentals, not
// technical indicators), so the rule table below implements spec.md §4.6's
// "rule highlights" directly; the scoring-service struct shape (logger,
// pure compute method, breakdown map) follows `internal/modules/trading/service.go`'s
// general service-with-logger convention.
package quant

import (
	"math"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/indicators"
)

const baseScore = 50

// TimeframeBundle pairs one timeframe's indicator bundle with its closing
// price, the minimum QuantSignal needs per timeframe.
type TimeframeBundle struct {
	Timeframe    string
	Bundle       indicators.Bundle
	Price        float64
	LatestVolume float64
}

// Result is the QuantSignal output for one symbol.
type Result struct {
	Composite  float64
	Breakdown  map[string]float64 // "trend", "momentum", "volume", "sentiment"
	Reasons    []string
	PassFilter bool
}

// Score computes the composite QuantSignal for one symbol from its
// per-timeframe indicator bundles, funding rate, and the bot's weight
// vector + threshold.
func Score(tfs []TimeframeBundle, fundingRatePct float64, weights domain.QuantSignalWeights, threshold float64) Result {
	trend, trendReasons := trendScore(tfs)
	momentum, momentumReasons := momentumScore(tfs)
	volume, volumeReasons := volumeScore(tfs)
	sentiment, sentimentReasons := sentimentScore(fundingRatePct)

	composite := weights.Trend*trend + weights.Momentum*momentum + weights.Volume*volume + weights.Sentiment*sentiment

	reasons := make([]string, 0, len(trendReasons)+len(momentumReasons)+len(volumeReasons)+len(sentimentReasons))
	reasons = append(reasons, trendReasons...)
	reasons = append(reasons, momentumReasons...)
	reasons = append(reasons, volumeReasons...)
	reasons = append(reasons, sentimentReasons...)

	return Result{
		Composite: composite,
		Breakdown: map[string]float64{
			"trend":     trend,
			"momentum":  momentum,
			"volume":    volume,
			"sentiment": sentiment,
		},
		Reasons:    reasons,
		PassFilter: composite >= threshold,
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// trendScore rewards multi-timeframe EMA alignment (price > EMA20 >
// EMA50) and price above EMA200.
func trendScore(tfs []TimeframeBundle) (float64, []string) {
	score := float64(baseScore)
	var reasons []string

	aligned := 0
	for _, tf := range tfs {
		b := tf.Bundle
		if tf.Price > b.EMA20 && b.EMA20 > b.EMA50 {
			aligned++
		}
		if tf.Price > b.EMA200 {
			score += 10
			reasons = append(reasons, tf.Timeframe+": price above EMA200")
		} else {
			score -= 10
			reasons = append(reasons, tf.Timeframe+": price below EMA200")
		}
	}
	if len(tfs) > 0 && aligned == len(tfs) {
		score += 15
		reasons = append(reasons, "EMA alignment confirmed across all timeframes")
	}

	return clamp(score), reasons
}

// momentumScore penalizes RSI extremes (>80 or <20) and rewards MACD
// histogram agreement across timeframes.
func momentumScore(tfs []TimeframeBundle) (float64, []string) {
	score := float64(baseScore)
	var reasons []string

	bullishMACD := 0
	bearishMACD := 0
	for _, tf := range tfs {
		b := tf.Bundle
		switch {
		case b.RSI14 > 80:
			score -= 15
			reasons = append(reasons, tf.Timeframe+": RSI overbought")
		case b.RSI14 < 20:
			score -= 15
			reasons = append(reasons, tf.Timeframe+": RSI oversold")
		}
		if b.MACDHist > 0 {
			bullishMACD++
		} else if b.MACDHist < 0 {
			bearishMACD++
		}
	}
	if len(tfs) > 0 {
		if bullishMACD == len(tfs) {
			score += 15
			reasons = append(reasons, "MACD bullish agreement across timeframes")
		} else if bearishMACD == len(tfs) {
			score -= 15
			reasons = append(reasons, "MACD bearish agreement across timeframes")
		}
	}

	return clamp(score), reasons
}

// volumeScore rewards a volume ratio above 1.5x its SMA and positive OBV
// on both timeframes.
func volumeScore(tfs []TimeframeBundle) (float64, []string) {
	score := float64(baseScore)
	var reasons []string

	positiveOBV := 0
	highVolume := 0
	for _, tf := range tfs {
		b := tf.Bundle
		if b.VolumeSMA > 0 && tf.LatestVolume/b.VolumeSMA > 1.5 {
			highVolume++
		}
		if b.OBV > 0 {
			positiveOBV++
		}
	}
	if len(tfs) > 0 && highVolume > 0 {
		score += 10
		reasons = append(reasons, "volume ratio above 1.5x average")
	}
	if len(tfs) > 0 && positiveOBV == len(tfs) {
		score += 15
		reasons = append(reasons, "OBV positive on all timeframes")
	}

	return clamp(score), reasons
}

// sentimentScore is funding-rate-driven: healthy 0-0.05% rewards the
// prevailing side neutrally, overheated >0.1% signals crowding (penalize
// longs), and negative funding signals a long opportunity.
func sentimentScore(fundingRatePct float64) (float64, []string) {
	score := float64(baseScore)
	var reasons []string

	switch {
	case fundingRatePct < 0:
		score += 20
		reasons = append(reasons, "negative funding rate favors longs")
	case fundingRatePct >= 0 && fundingRatePct <= 0.05:
		reasons = append(reasons, "funding rate healthy")
	case fundingRatePct > 0.1:
		score -= 20
		reasons = append(reasons, "funding rate overheated")
	default:
		score -= 5
		reasons = append(reasons, "funding rate elevated")
	}

	return clamp(score), reasons
}
