package stages

import (
	"context"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/indicators"
	"github.com/helion-systems/helion/internal/pipeline"
	"github.com/helion-systems/helion/internal/quant"
)

// FilterStage implements spec.md §4.8's first half: score every symbol
// with QuantSignal against the bot's weight vector and threshold, retain
// only symbols that pass, and attach the full signal breakdown into that
// symbol's indicators under the "quant_signal" key for the decision
// prompt to read.
type FilterStage struct {
	ctx *PluginContext
}

func NewFilterStage(pc *PluginContext, _ map[string]interface{}) (pipeline.Node, error) {
	return &FilterStage{ctx: pc}, nil
}

func (s *FilterStage) Name() string { return "filter" }

func (s *FilterStage) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:           "filter",
		Version:        "1.0",
		Requires:       []string{"market_data"},
		Outputs:        []string{"symbols", "quant_signal"},
		SuggestedOrder: 2,
		AutoRegister:   true,
	}
}

func (s *FilterStage) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	held := make(map[string]bool, len(state.Positions))
	for _, p := range state.Positions {
		held[p.Symbol] = true
	}

	var passed []string
	for _, symbol := range state.Symbols {
		md, ok := state.MarketData[symbol]
		if !ok || len(md.Windows) == 0 {
			continue
		}

		result := quant.Score(timeframeBundles(md), md.FundingRate, s.ctx.Bot.QuantSignalWeights, float64(s.ctx.Bot.QuantSignalThreshold))
		md.Indicators["quant_signal"] = result

		// An open position stays in the universe regardless of the
		// filter so ExecutionStage/TrailingStop keep pricing it (spec.md
		// §9 Open Question: positions on filtered-out symbols persist).
		if result.PassFilter || held[symbol] {
			passed = append(passed, symbol)
		}
	}

	state.Symbols = passed
	return state, nil
}

// timeframeBundles collects every timeframe's precomputed indicators.Bundle
// for a symbol into the shape QuantSignal.Score expects.
func timeframeBundles(md *domain.SymbolMarketData) []quant.TimeframeBundle {
	var out []quant.TimeframeBundle
	for tf, window := range md.Windows {
		bundle, ok := md.Indicators[tf].(indicators.Bundle)
		if !ok {
			continue
		}
		out = append(out, quant.TimeframeBundle{
			Timeframe:    tf,
			Bundle:       bundle,
			Price:        md.CurrentPrice,
			LatestVolume: window[len(window)-1].Volume,
		})
	}
	return out
}
