// Package domain holds the data model shared by every stage of one trading
// cycle: bot/exchange/workflow configuration, the per-cycle State, and the
// account/position/order/decision types that flow through the pipeline.
package domain

import "fmt"

// TradingMode selects how ExecutionStage's orders are realized.
type TradingMode string

const (
	ModePaper    TradingMode = "paper"
	ModeLive     TradingMode = "live"
	ModeBacktest TradingMode = "backtest"
)

// RiskLimits is the embedded risk-constraint block of a BotConfig.
type RiskLimits struct {
	MaxTotalAllocationPct    float64
	MaxSingleAllocationPct   float64
	MinPositionSizeUSD       float64
	MaxPositionSizeUSD       float64
	MinRiskRewardRatio       float64
	MaxLeverage              float64
	DefaultLeverage          float64
	MaxFundingRatePct        float64
	MaxConsecutiveLosses     int
	MaxDailyLossPct          float64
	MaxDrawdownPct           float64
	TrailingStopEnabled      bool
	TrailingStopTriggerPct   float64
	TrailingStopDistancePct  float64
	TrailingStopLockProfitPct float64
}

// QuantSignalWeights is the trend/momentum/volume/sentiment weight vector
// used by QuantSignal. Invariant: the four weights must sum to 1.0.
type QuantSignalWeights struct {
	Trend     float64
	Momentum  float64
	Volume    float64
	Sentiment float64
}

// Sum returns the sum of the four weights, used to validate the BotConfig
// invariant that weights sum to 1.0.
func (w QuantSignalWeights) Sum() float64 {
	return w.Trend + w.Momentum + w.Volume + w.Sentiment
}

// BotConfig is one row in the bot table. It is immutable during a cycle;
// it may only be edited between cycles.
type BotConfig struct {
	ID                   int64
	Name                 string
	ExchangeID           int64
	WorkflowID           int64
	LLMID                int64
	TradingMode          TradingMode
	CycleIntervalSeconds int
	Timeframes           []string
	RiskLimits           RiskLimits
	QuantSignalWeights   QuantSignalWeights
	QuantSignalThreshold int
	TracingEnabled       bool
	InitialBalance       float64
}

// Validate checks the BotConfig invariants that must hold before a bot is
// admitted to the active set. A BadConfig-kind error removes the bot from
// scheduling (see errs.BadConfig).
func (b *BotConfig) Validate() error {
	const epsilon = 1e-6
	if sum := b.QuantSignalWeights.Sum(); sum < 1.0-epsilon || sum > 1.0+epsilon {
		return fmt.Errorf("quant signal weights must sum to 1.0, got %f", sum)
	}
	if b.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("cycle_interval_seconds must be positive")
	}
	if len(b.Timeframes) == 0 {
		return fmt.Errorf("bot must declare at least one timeframe")
	}
	switch b.TradingMode {
	case ModePaper, ModeLive, ModeBacktest:
	default:
		return fmt.Errorf("unknown trading mode %q", b.TradingMode)
	}
	return nil
}

// ExchangeConfig holds exchange credentials and the adapter type for a bot.
type ExchangeConfig struct {
	ID         int64
	AdapterType string
	APIKey     string
	APISecret  string
	Testnet    bool
}

// LLMConfig identifies the chat model backing a bot's decision stage.
type LLMConfig struct {
	ID       int64
	Provider string // openai_compatible | anthropic | ollama
	Model    string
	BaseURL  string
	APIKey   string
	Default  bool
}
