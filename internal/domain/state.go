package domain

// State is the per-cycle working object. It is created by CycleScheduler at
// the start of each cycle, populated stage by stage in linear order, and
// discarded at cycle end. It has a single owner: the bot's current cycle
// task. No stage should retain a reference to a past cycle's State.
type State struct {
	BotID          int64
	CycleID        string
	PromptName     string
	InitialBalance float64

	// Symbols is the ordered universe. CoinsPickStage seeds it; FilterStage
	// narrows it; the decision stage is restricted to it as a whitelist.
	Symbols []string

	// MarketData is keyed by symbol, populated by MarketDataStage and
	// enriched by FilterStage with the quant-signal breakdown.
	MarketData map[string]*SymbolMarketData

	Account   Account
	Positions []Position

	BatchDecision  *BatchDecisionResult
	DebateDecision *DebateDecisionResult

	Performance *PerformanceSnapshot

	// Alerts carries risk-rejection messages from the previous cycle into
	// this one's decision prompt; it is cleared once the decision stage has
	// read it (post-processing step 6 of §4.9.3).
	Alerts []string

	MarketRegime     MarketRegime
	RegimeConfidence float64
	RegimeDetails    map[string]interface{}
}

// NewState seeds a fresh per-cycle State, carrying forward only what
// survives across cycles: bot identity, prompt name, initial balance, and
// the previous cycle's alerts. Account and positions must be populated
// separately from a fresh exchange read.
func NewState(botID int64, cycleID, promptName string, initialBalance float64, carriedAlerts []string) *State {
	alerts := make([]string, len(carriedAlerts))
	copy(alerts, carriedAlerts)
	return &State{
		BotID:          botID,
		CycleID:        cycleID,
		PromptName:     promptName,
		InitialBalance: initialBalance,
		MarketData:     make(map[string]*SymbolMarketData),
		Alerts:         alerts,
	}
}

// AddAlert appends a risk-rejection or other warning message for the next
// cycle's decision prompt to see.
func (s *State) AddAlert(msg string) {
	s.Alerts = append(s.Alerts, msg)
}

// PositionBySymbol returns the open position for symbol, if any.
func (s *State) PositionBySymbol(symbol string) *Position {
	for i := range s.Positions {
		if s.Positions[i].Symbol == symbol {
			return &s.Positions[i]
		}
	}
	return nil
}

// RemovePositionBySymbol drops symbol's position from State, used after a
// close order is confirmed filled.
func (s *State) RemovePositionBySymbol(symbol string) {
	out := s.Positions[:0]
	for _, p := range s.Positions {
		if p.Symbol != symbol {
			out = append(out, p)
		}
	}
	s.Positions = out
}

// HasSymbol reports whether symbol is in the current universe.
func (s *State) HasSymbol(symbol string) bool {
	for _, sym := range s.Symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

// PerformanceSnapshot is PerformanceCalc's computed metrics, attached to
// State so the decision stage can render them into its prompt.
type PerformanceSnapshot struct {
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRatePct      float64
	AvgReturnPct    float64
	TotalReturnUSD  float64
	Sharpe          float64
	MaxDrawdown     float64 // fraction, 0.15 = 15%
	ProfitFactor    float64
	AvgWinPct       float64
	AvgLossPct      float64
}
