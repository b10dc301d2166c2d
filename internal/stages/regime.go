package stages

import (
	"context"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/indicators"
	"github.com/helion-systems/helion/internal/pipeline"
)

// RegimeStage implements spec.md §4.8's optional second half: classify
// each symbol from the primary timeframe's ADX/Bollinger-bandwidth
// reading, then aggregate per-symbol votes into one market_regime label
// with a confidence in [0,1]. The aggregation is "sum of confidences per
// label, normalized by the total" — spec.md §9 calls this reasonable but
// unspecified and tells implementers not to guess beyond what's written;
// this is the literal reading of that phrase, recorded as an Open
// Question decision in DESIGN.md. The regime is context only: Decision
// reads it but a low-confidence or uncertain regime never blocks the
// cycle.
type RegimeStage struct {
	ctx *PluginContext
}

func NewRegimeStage(pc *PluginContext, _ map[string]interface{}) (pipeline.Node, error) {
	return &RegimeStage{ctx: pc}, nil
}

func (s *RegimeStage) Name() string { return "regime" }

func (s *RegimeStage) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:           "regime",
		Version:        "1.0",
		Requires:       []string{"market_data"},
		Outputs:        []string{"market_regime", "regime_confidence"},
		SuggestedOrder: 3,
		AutoRegister:   true,
	}
}

func (s *RegimeStage) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	primary := s.ctx.Bot.Timeframes[0]
	if s.ctx.Config != nil {
		primary = s.ctx.Config.MarketRegimePrimaryTimeframe()
	}
	adxThreshold := float64(25)
	rangingThreshold := 0.03
	volatileThreshold := 0.08
	if s.ctx.Config != nil {
		adxThreshold = float64(s.ctx.Config.MarketRegimeADXTrendingThreshold())
		rangingThreshold = s.ctx.Config.MarketRegimeBBWidthRangingThreshold()
		volatileThreshold = s.ctx.Config.MarketRegimeBBWidthVolatileThreshold()
	}

	votes := make(map[domain.MarketRegime]float64)
	for _, symbol := range state.Symbols {
		md, ok := state.MarketData[symbol]
		if !ok {
			continue
		}
		bundle, ok := md.Indicators[primary].(indicators.Bundle)
		if !ok {
			continue
		}
		label, confidence := classify(bundle, adxThreshold, rangingThreshold, volatileThreshold)
		votes[label] += confidence
	}

	label, confidence := aggregate(votes)
	state.MarketRegime = label
	state.RegimeConfidence = confidence
	state.RegimeDetails = map[string]interface{}{
		"primary_timeframe": primary,
		"votes":             votes,
	}

	return state, nil
}

func classify(b indicators.Bundle, adxThreshold, rangingThreshold, volatileThreshold float64) (domain.MarketRegime, float64) {
	bandwidthFraction := b.Bollinger.BandwidthPct() / 100

	switch {
	case b.ADX14 >= adxThreshold:
		confidence := clampUnit(b.ADX14 / 100)
		if b.EMA20 >= b.EMA50 {
			return domain.RegimeTrendingUp, confidence
		}
		return domain.RegimeTrendingDown, confidence
	case bandwidthFraction <= rangingThreshold:
		if rangingThreshold == 0 {
			return domain.RegimeRanging, 0.5
		}
		return domain.RegimeRanging, clampUnit(1 - bandwidthFraction/rangingThreshold)
	case bandwidthFraction >= volatileThreshold:
		return domain.RegimeVolatile, clampUnit(bandwidthFraction / (volatileThreshold * 2))
	default:
		return domain.RegimeUncertain, 0.5
	}
}

func aggregate(votes map[domain.MarketRegime]float64) (domain.MarketRegime, float64) {
	var total float64
	var winner domain.MarketRegime = domain.RegimeUncertain
	var winnerScore float64
	for label, score := range votes {
		total += score
		if score > winnerScore {
			winnerScore = score
			winner = label
		}
	}
	if total == 0 {
		return domain.RegimeUncertain, 0
	}
	return winner, clampUnit(winnerScore / total)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
