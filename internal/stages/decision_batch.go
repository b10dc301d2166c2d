package stages

import (
	"context"
	"time"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/llm"
	"github.com/helion-systems/helion/internal/pipeline"
)

const defaultBatchDecisionTimeout = 90 * time.Second

// BatchDecisionStage implements spec.md §4.9.1: a single LLM call receives
// performance feedback, account/position state, every candidate symbol's
// quant breakdown, and the bot's risk constraints, and returns one
// portfolio-wide decision set in a single structured response.
type BatchDecisionStage struct {
	ctx *PluginContext
}

func NewBatchDecisionStage(pc *PluginContext, _ map[string]interface{}) (pipeline.Node, error) {
	return &BatchDecisionStage{ctx: pc}, nil
}

func (s *BatchDecisionStage) Name() string { return "batch_decision" }

func (s *BatchDecisionStage) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:           "batch_decision",
		Version:        "1.0",
		Requires:       []string{"market_data", "symbols"},
		Outputs:        []string{"batch_decision"},
		SuggestedOrder: 4,
		AutoRegister:   true,
	}
}

func (s *BatchDecisionStage) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	feedback := loadPerformance(ctx, s.ctx, state)

	prompt := feedback + "\n\n" + regimeBlock(state) + "\n" + alertsBlock(state.Alerts) +
		accountBlock(state) + "\n" + candidatesBlock(state) + "\n" + riskBlock(s.ctx.Bot.RiskLimits)

	messages := []llm.Message{
		{Role: "system", Content: batchDecisionSystemPrompt},
		{Role: "user", Content: prompt},
	}

	timeout := defaultBatchDecisionTimeout
	if s.ctx.Config != nil {
		timeout = s.ctx.Config.BatchDecisionTimeout()
	}

	symbols := state.Symbols
	model := llm.Bind[domain.BatchDecisionResult](s.ctx.LLMProvider, "batch_decision", batchDecisionSchema).
		WithFallback(func() domain.BatchDecisionResult { return allWaitDecisions(symbols) })

	result, err := model.Invoke(ctx, messages, timeout)
	if err != nil {
		return state, err
	}

	processed := postProcessDecisions(state, result, s.ctx.Bot.RiskLimits.MaxSingleAllocationPct, s.ctx.Bot.RiskLimits.MaxTotalAllocationPct)
	state.BatchDecision = &processed
	return state, nil
}

const batchDecisionSystemPrompt = "You are the portfolio decision engine for an automated futures trading bot. " +
	"Given performance history, account state, open positions, and candidate symbols with quant signal " +
	"breakdowns, decide one action per candidate symbol: open_long, open_short, close_long, close_short, " +
	"wait, or hold. Respect the stated risk constraints exactly. Prefer wait when signal quality is low."

var batchDecisionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"strategy_rationale": map[string]interface{}{"type": "string"},
		"decisions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"symbol":         map[string]interface{}{"type": "string"},
					"action":         map[string]interface{}{"type": "string", "enum": []string{"open_long", "open_short", "close_long", "close_short", "wait", "hold"}},
					"allocation_pct": map[string]interface{}{"type": "number"},
					"leverage":       map[string]interface{}{"type": "number"},
					"stop_loss":      map[string]interface{}{"type": "number"},
					"take_profit":    map[string]interface{}{"type": "number"},
					"confidence":     map[string]interface{}{"type": "integer"},
					"reasoning":      map[string]interface{}{"type": "string"},
					"priority":       map[string]interface{}{"type": "integer"},
				},
				"required": []string{"symbol", "action"},
			},
		},
	},
	"required": []string{"decisions"},
}
