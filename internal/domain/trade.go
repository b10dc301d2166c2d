package domain

import "time"

// TradeSide is the directional side of a recorded trade (distinct from
// PositionSide's buy/sell wire vocabulary; TradeHistory speaks long/short).
type TradeSide string

const (
	TradeLong  TradeSide = "long"
	TradeShort TradeSide = "short"
)

// TradeStatus is the lifecycle state of one TradeHistory row.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// TradeHistory is the authoritative ledger row for one position's
// lifecycle, from open to close. Invariant: a symbol has at most one row
// with Status == TradeOpen per bot.
type TradeHistory struct {
	ID         int64
	BotID      int64
	Symbol     string
	Side       TradeSide
	Action     DecisionAction
	EntryPrice float64
	ExitPrice  *float64
	Amount     float64
	Leverage   float64
	PnLUSD     float64
	PnLPercent float64
	FeePaid    float64
	Status     TradeStatus
	OpenedAt   time.Time
	ClosedAt   *time.Time
	CycleID    string
	OrderID    string
}

// ComputePnL fills in ExitPrice/PnLUSD/PnLPercent/ClosedAt/Status for a
// close, following the sign convention in spec.md §8 property 5: a long's
// pnl is (exit-entry)*amount-fee, a short's is (entry-exit)*amount-fee, and
// pct is computed against the entry*amount cost basis.
func (t *TradeHistory) ComputePnL(exitPrice float64, fee float64, closedAt time.Time) {
	var pnl float64
	switch t.Side {
	case TradeLong:
		pnl = (exitPrice-t.EntryPrice)*t.Amount - fee
	case TradeShort:
		pnl = (t.EntryPrice-exitPrice)*t.Amount - fee
	}
	costBasis := t.EntryPrice * t.Amount
	var pct float64
	if costBasis != 0 {
		pct = pnl / costBasis * 100
	}
	t.ExitPrice = &exitPrice
	t.PnLUSD = pnl
	t.PnLPercent = pct
	t.FeePaid = fee
	t.ClosedAt = &closedAt
	t.Status = TradeClosed
}
