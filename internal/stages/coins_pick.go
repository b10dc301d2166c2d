package stages

import (
	"context"
	"fmt"
	"strconv"

	"github.com/helion-systems/helion/internal/cache"
	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/pipeline"
)

// CoinsPickStage seeds State.Symbols with the bot's tradeable universe: a
// statically configured candidate list (the node's own config, since
// spec.md leaves universe discovery unspecified beyond "coin selection"),
// always including any symbol with a currently open position so
// MarketDataStage keeps pricing it for TrailingStop/ExecutionStage even
// if it would otherwise have dropped out. The selection is cached under
// the coin_selection namespace, keyed per bot, so repeated cycles within
// the TTL window (cycle_interval × 0.9, per spec.md §4.1) skip re-resolving
// the universe.
type CoinsPickStage struct {
	ctx      *PluginContext
	universe []string
}

// NewCoinsPickStage builds a CoinsPickStage from its node config map. The
// "symbols" key holds the candidate universe; an empty/missing list falls
// back to the bot's currently open positions only.
func NewCoinsPickStage(pc *PluginContext, config map[string]interface{}) (pipeline.Node, error) {
	var universe []string
	if raw, ok := config["symbols"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				universe = append(universe, s)
			}
		}
	}
	return &CoinsPickStage{ctx: pc, universe: universe}, nil
}

func (s *CoinsPickStage) Name() string { return "coins_pick" }

func (s *CoinsPickStage) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:           "coins_pick",
		Version:        "1.0",
		Outputs:        []string{"symbols"},
		SuggestedOrder: 0,
		AutoRegister:   true,
	}
}

func (s *CoinsPickStage) cacheKey() string {
	return "bot_" + strconv.FormatInt(s.ctx.Bot.ID, 10)
}

func (s *CoinsPickStage) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	var cached []string
	if s.ctx.Cache.Get(cache.NamespaceCoinSelection, s.cacheKey(), &cached) {
		state.Symbols = mergeHeldPositions(cached, state.Positions)
		return state, nil
	}

	selected := append([]string(nil), s.universe...)
	selected = mergeHeldPositions(selected, state.Positions)

	if err := s.ctx.Cache.Set(cache.NamespaceCoinSelection, s.cacheKey(), selected); err != nil {
		s.ctx.Log.Warn().Err(err).Msg("failed to cache coin selection")
	}

	state.Symbols = selected
	if len(state.Symbols) == 0 {
		return state, fmt.Errorf("stages: coins_pick produced an empty universe for bot %d", s.ctx.Bot.ID)
	}
	return state, nil
}

// mergeHeldPositions appends any open-position symbol missing from base,
// so an existing position is never orphaned from MarketDataStage's feed.
func mergeHeldPositions(base []string, positions []domain.Position) []string {
	has := make(map[string]bool, len(base))
	for _, s := range base {
		has[s] = true
	}
	out := append([]string(nil), base...)
	for _, p := range positions {
		if !has[p.Symbol] {
			out = append(out, p.Symbol)
			has[p.Symbol] = true
		}
	}
	return out
}
