package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/llm"
	"github.com/helion-systems/helion/internal/pipeline"
)

const (
	defaultDebateMaxRounds    = 2
	defaultDebateTimeout      = 120 * time.Second
	defaultDebateTradeHistory = 20
)

// DebateDecisionStage implements spec.md §4.9.2: the four-role, multi-round
// alternative to BatchDecisionStage. An analyst frames each candidate, bull
// and bear roles argue over a configurable number of free-text rounds, each
// then submits one structured final suggestion, and a risk manager role
// synthesizes the transcript into the same BatchDecisionResult shape
// BatchDecisionStage produces, so ExecutionStage never has to know which
// variant ran.
type DebateDecisionStage struct {
	ctx *PluginContext
}

func NewDebateDecisionStage(pc *PluginContext, _ map[string]interface{}) (pipeline.Node, error) {
	return &DebateDecisionStage{ctx: pc}, nil
}

func (s *DebateDecisionStage) Name() string { return "debate_decision" }

func (s *DebateDecisionStage) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:           "debate_decision",
		Version:        "1.0",
		Requires:       []string{"market_data", "symbols"},
		Outputs:        []string{"batch_decision", "debate_decision"},
		SuggestedOrder: 4,
		AutoRegister:   true,
	}
}

type analystResponse struct {
	Outputs []domain.AnalystOutput `json:"outputs"`
}

type roundResponse struct {
	Rounds []domain.DebateRound `json:"rounds"`
}

type suggestionResponse struct {
	Suggestions []domain.TraderSuggestion `json:"suggestions"`
}

func (s *DebateDecisionStage) Run(ctx context.Context, state *domain.State) (*domain.State, error) {
	feedback := loadPerformance(ctx, s.ctx, state)
	maxRounds := defaultDebateMaxRounds
	phaseTimeout := defaultDebateTimeout
	if s.ctx.Config != nil {
		maxRounds = s.ctx.Config.DebateMaxRounds()
		phaseTimeout = s.ctx.Config.DebateTimeoutPerPhase()
	}

	base := feedback + "\n\n" + regimeBlock(state) + "\n" + alertsBlock(state.Alerts) +
		accountBlock(state) + "\n" + candidatesBlock(state)

	analyst, err := s.runAnalyst(ctx, base, phaseTimeout)
	if err != nil {
		return state, err
	}

	var rounds []domain.DebateRound
	for round := 1; round <= maxRounds; round++ {
		r, err := s.runRound(ctx, base, analyst, rounds, round, phaseTimeout)
		if err != nil {
			return state, err
		}
		rounds = append(rounds, r...)
	}

	bullFinal, bearFinal, err := s.runFinalSuggestionsConcurrently(ctx, base, analyst, rounds, phaseTimeout)
	if err != nil {
		return state, err
	}

	final, err := s.runRiskManager(ctx, base, analyst, bullFinal, bearFinal, state.Symbols, phaseTimeout)
	if err != nil {
		return state, err
	}

	processed := postProcessDecisions(state, final, s.ctx.Bot.RiskLimits.MaxSingleAllocationPct, s.ctx.Bot.RiskLimits.MaxTotalAllocationPct)

	state.DebateDecision = &domain.DebateDecisionResult{
		AnalystOutputs:  analyst,
		BullSuggestions: bullFinal,
		BearSuggestions: bearFinal,
		DebateRounds:    rounds,
		FinalDecision:   processed,
		DebateSummary:   processed.StrategyRationale,
	}
	state.BatchDecision = &processed
	return state, nil
}

func (s *DebateDecisionStage) runAnalyst(ctx context.Context, base string, timeout time.Duration) ([]domain.AnalystOutput, error) {
	messages := []llm.Message{
		{Role: "system", Content: "You are the analyst role in a four-role trading debate. Summarize the trend, key price levels, and a one-sentence thesis for every candidate symbol."},
		{Role: "user", Content: base},
	}
	model := llm.Bind[analystResponse](s.ctx.LLMProvider, "debate_analyst", analystSchema).
		WithFallback(func() analystResponse { return analystResponse{} })
	resp, err := model.Invoke(ctx, messages, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Outputs, nil
}

func (s *DebateDecisionStage) runRound(ctx context.Context, base string, analyst []domain.AnalystOutput, priorRounds []domain.DebateRound, round int, timeout time.Duration) ([]domain.DebateRound, error) {
	transcript := renderTranscript(analyst, priorRounds)
	messages := []llm.Message{
		{Role: "system", Content: fmt.Sprintf("You are running debate round %d between a bull and a bear trader role for every candidate symbol. Bull argues for opening/holding long exposure, bear argues for opening/holding short exposure or closing. Keep each opinion to one or two sentences.", round)},
		{Role: "user", Content: base + "\n\n" + transcript},
	}
	model := llm.Bind[roundResponse](s.ctx.LLMProvider, "debate_round", roundSchema).
		WithFallback(func() roundResponse { return roundResponse{} })
	resp, err := model.Invoke(ctx, messages, timeout)
	if err != nil {
		return nil, err
	}
	for i := range resp.Rounds {
		resp.Rounds[i].Round = round
	}
	return resp.Rounds, nil
}

// runFinalSuggestionsConcurrently runs the bull and bear final-suggestion
// calls in parallel (spec.md §5: "the debate stage runs Bull and Bear
// concurrently per symbol"), returning the first error either side hits.
func (s *DebateDecisionStage) runFinalSuggestionsConcurrently(ctx context.Context, base string, analyst []domain.AnalystOutput, rounds []domain.DebateRound, timeout time.Duration) ([]domain.TraderSuggestion, []domain.TraderSuggestion, error) {
	type result struct {
		suggestions []domain.TraderSuggestion
		err         error
	}
	bullCh := make(chan result, 1)
	bearCh := make(chan result, 1)

	go func() {
		suggestions, err := s.runFinalSuggestions(ctx, base, analyst, rounds, "bull", timeout)
		bullCh <- result{suggestions, err}
	}()
	go func() {
		suggestions, err := s.runFinalSuggestions(ctx, base, analyst, rounds, "bear", timeout)
		bearCh <- result{suggestions, err}
	}()

	bull, bear := <-bullCh, <-bearCh
	if bull.err != nil {
		return nil, nil, bull.err
	}
	if bear.err != nil {
		return nil, nil, bear.err
	}
	return bull.suggestions, bear.suggestions, nil
}

func (s *DebateDecisionStage) runFinalSuggestions(ctx context.Context, base string, analyst []domain.AnalystOutput, rounds []domain.DebateRound, role string, timeout time.Duration) ([]domain.TraderSuggestion, error) {
	transcript := renderTranscript(analyst, rounds)
	messages := []llm.Message{
		{Role: "system", Content: fmt.Sprintf("You are the %s trader role concluding the debate. Submit one final structured suggestion per candidate symbol: action (long/short/wait), confidence, allocation_pct capped at 30, stop_loss_pct, take_profit_pct, and reasoning.", role)},
		{Role: "user", Content: base + "\n\n" + transcript},
	}
	model := llm.Bind[suggestionResponse](s.ctx.LLMProvider, "debate_final_"+role, suggestionSchema).
		WithFallback(func() suggestionResponse { return suggestionResponse{} })
	resp, err := model.Invoke(ctx, messages, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

func (s *DebateDecisionStage) runRiskManager(ctx context.Context, base string, analyst []domain.AnalystOutput, bull, bear []domain.TraderSuggestion, symbols []string, timeout time.Duration) (domain.BatchDecisionResult, error) {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nBull final suggestions:\n")
	for _, t := range bull {
		fmt.Fprintf(&b, "  %s: %s conf=%d alloc=%.1f%% sl=%.2f%% tp=%.2f%% — %s\n", t.Symbol, t.Action, t.Confidence, t.AllocationPct, t.StopLossPct, t.TakeProfitPct, t.Reasoning)
	}
	b.WriteString("Bear final suggestions:\n")
	for _, t := range bear {
		fmt.Fprintf(&b, "  %s: %s conf=%d alloc=%.1f%% sl=%.2f%% tp=%.2f%% — %s\n", t.Symbol, t.Action, t.Confidence, t.AllocationPct, t.StopLossPct, t.TakeProfitPct, t.Reasoning)
	}
	b.WriteString("\n" + riskBlock(s.ctx.Bot.RiskLimits))

	messages := []llm.Message{
		{Role: "system", Content: "You are the risk manager role closing out the debate. Weigh the bull and bear final suggestions against the stated risk constraints and emit one portfolio decision per candidate symbol."},
		{Role: "user", Content: b.String()},
	}
	model := llm.Bind[domain.BatchDecisionResult](s.ctx.LLMProvider, "debate_risk_manager", batchDecisionSchema).
		WithFallback(func() domain.BatchDecisionResult { return allWaitDecisions(symbols) })
	return model.Invoke(ctx, messages, timeout)
}

func renderTranscript(analyst []domain.AnalystOutput, rounds []domain.DebateRound) string {
	var b strings.Builder
	b.WriteString("Analyst outputs:\n")
	for _, a := range analyst {
		fmt.Fprintf(&b, "  %s: %s trend, levels=%v — %s\n", a.Symbol, a.Trend, a.KeyLevels, a.Summary)
	}
	if len(rounds) > 0 {
		b.WriteString("Debate so far:\n")
		for _, r := range rounds {
			fmt.Fprintf(&b, "  round %d %s: bull=%q bear=%q\n", r.Round, r.Symbol, r.BullOpinion, r.BearOpinion)
		}
	}
	return b.String()
}

var analystSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"outputs": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"symbol":     map[string]interface{}{"type": "string"},
					"trend":      map[string]interface{}{"type": "string", "enum": []string{"bullish", "bearish", "neutral"}},
					"key_levels": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "number"}},
					"summary":    map[string]interface{}{"type": "string"},
				},
				"required": []string{"symbol", "trend"},
			},
		},
	},
	"required": []string{"outputs"},
}

var roundSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"rounds": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"symbol":       map[string]interface{}{"type": "string"},
					"bull_opinion": map[string]interface{}{"type": "string"},
					"bear_opinion": map[string]interface{}{"type": "string"},
				},
				"required": []string{"symbol", "bull_opinion", "bear_opinion"},
			},
		},
	},
	"required": []string{"rounds"},
}

var suggestionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"suggestions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"symbol":          map[string]interface{}{"type": "string"},
					"action":          map[string]interface{}{"type": "string", "enum": []string{"long", "short", "wait"}},
					"confidence":      map[string]interface{}{"type": "integer"},
					"allocation_pct":  map[string]interface{}{"type": "number"},
					"stop_loss_pct":   map[string]interface{}{"type": "number"},
					"take_profit_pct": map[string]interface{}{"type": "number"},
					"reasoning":       map[string]interface{}{"type": "string"},
				},
				"required": []string{"symbol", "action"},
			},
		},
	},
	"required": []string{"suggestions"},
}
