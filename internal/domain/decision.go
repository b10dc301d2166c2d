package domain

import "time"

// DecisionAction is one portfolio action the decision stage can emit.
type DecisionAction string

const (
	ActionOpenLong   DecisionAction = "open_long"
	ActionOpenShort  DecisionAction = "open_short"
	ActionCloseLong  DecisionAction = "close_long"
	ActionCloseShort DecisionAction = "close_short"
	ActionWait       DecisionAction = "wait"
	ActionHold       DecisionAction = "hold"
)

// Actionable reports whether the action requires ExecutionStage to do
// anything, i.e. is neither wait nor hold.
func (a DecisionAction) Actionable() bool {
	return a != ActionWait && a != ActionHold
}

// IsClose reports whether the action closes an existing position.
func (a DecisionAction) IsClose() bool {
	return a == ActionCloseLong || a == ActionCloseShort
}

// IsOpen reports whether the action opens a new position.
func (a DecisionAction) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// PortfolioDecision is one symbol's proposed action, produced by the
// decision stage and consumed (after post-processing) by ExecutionStage.
// JSON tags match the wire shape every decision LLM call is bound to.
type PortfolioDecision struct {
	Symbol        string         `json:"symbol"`
	Action        DecisionAction `json:"action"`
	AllocationPct float64        `json:"allocation_pct"`
	Leverage      float64        `json:"leverage"`
	StopLoss      *float64       `json:"stop_loss,omitempty"`
	TakeProfit    *float64       `json:"take_profit,omitempty"`
	Confidence    int            `json:"confidence"` // [0, 100]
	Reasoning     string         `json:"reasoning"`
	Priority      int            `json:"priority"` // lower = earlier
}

// BatchDecisionResult is the portfolio-level output of either decision
// variant, after post-processing normalization.
type BatchDecisionResult struct {
	Decisions          []PortfolioDecision `json:"decisions"`
	TotalAllocationPct float64             `json:"total_allocation_pct"`
	CashReservePct     float64             `json:"cash_reserve_pct"`
	StrategyRationale  string              `json:"strategy_rationale"`
}

// AnalystOutput is one symbol's trend call from the debate's analyst phase.
type AnalystOutput struct {
	Symbol    string    `json:"symbol"`
	Trend     string    `json:"trend"` // bullish | bearish | neutral
	KeyLevels []float64 `json:"key_levels"`
	Summary   string    `json:"summary"`
}

// TraderSuggestion is a bull or bear role's final-round structured opinion.
type TraderSuggestion struct {
	Symbol        string  `json:"symbol"`
	Action        string  `json:"action"` // long | short | wait
	Confidence    int     `json:"confidence"`
	AllocationPct float64 `json:"allocation_pct"` // [0, 30]
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	Reasoning     string  `json:"reasoning"`
}

// DebateRound captures one round's free-text exchange for one symbol.
type DebateRound struct {
	Symbol      string `json:"symbol"`
	Round       int    `json:"round"`
	BullOpinion string `json:"bull_opinion"`
	BearOpinion string `json:"bear_opinion"`
}

// DebateDecisionResult is the multi-role debate's full transcript plus its
// final portfolio decision.
type DebateDecisionResult struct {
	AnalystOutputs  []AnalystOutput     `json:"analyst_outputs"`
	BullSuggestions []TraderSuggestion  `json:"bull_suggestions"`
	BearSuggestions []TraderSuggestion  `json:"bear_suggestions"`
	DebateRounds    []DebateRound       `json:"debate_rounds"`
	FinalDecision   BatchDecisionResult `json:"final_decision"`
	DebateSummary   string              `json:"debate_summary"`
	CompletedAt     time.Time           `json:"completed_at"`
}
