// Package exchange defines the ExchangeAdapter contract (spec.md §4.3):
// the narrow, per-collaborator interface the rest of the core programs
// against, following the teacher's `internal/scheduler/interfaces.go`
// convention of one Xxx...Interface per external collaborator so every
// stage can be tested against a mock. Every adapter call passes through a
// ratelimit.Limiter except WebSocket subscriptions, which StreamManager
// owns directly.
package exchange

import (
	"context"
	"time"

	"github.com/helion-systems/helion/internal/domain"
)

// Capabilities reports what an adapter's underlying exchange SDK
// supports, consulted before use so missing capabilities degrade to
// documented defaults rather than failing (spec.md §6).
type Capabilities struct {
	AttachedSLTP           bool
	FetchFundingRates      bool
	FetchOpenInterests     bool
	FetchFundingRateHistory bool
}

// AmountPrecision describes how an adapter rounds a base-asset amount and
// the exchange's minimum order notional, used by ExecutionStage's
// ceiling-rounding step.
type AmountPrecision struct {
	Step       float64 // smallest representable amount increment
	MinNotional float64
}

// Adapter is the full ExchangeAdapter contract. Every method may suspend
// on network I/O; callers serialize access through a ratelimit.Limiter.
type Adapter interface {
	Capabilities() Capabilities
	AmountPrecision(symbol string) AmountPrecision

	LoadMarkets(ctx context.Context) error
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) (domain.OHLCVWindow, error)
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]float64, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookMetrics, error)
	FetchTrades(ctx context.Context, symbol string, limit int) (domain.TradeMetrics, error)
	FetchFundingRates(ctx context.Context, symbols []string) (map[string]float64, error)
	FetchFundingRateHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]float64, error)

	FetchBalance(ctx context.Context) (domain.Account, error)
	FetchPositions(ctx context.Context, symbols []string) ([]domain.Position, error)

	CreateOrder(ctx context.Context, req OrderRequest) (domain.OrderResult, error)
	EditOrder(ctx context.Context, orderID, symbol string, req OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	CancelOrders(ctx context.Context, orderIDs []string, symbol string) error
	FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderResult, error)

	// WaitForOrderFill polls FetchOrder until the order reaches a terminal
	// status (closed or canceled) or maxWait elapses, returning the latest
	// snapshot either way.
	WaitForOrderFill(ctx context.Context, orderID, symbol string, maxWait, pollInterval time.Duration) (domain.OrderResult, error)

	Close(ctx context.Context) error
}

// OrderRequest is the parameter set for CreateOrder/EditOrder.
type OrderRequest struct {
	Symbol          string
	Type            domain.OrderType
	Side            domain.PositionSide
	Amount          float64
	Price           *float64 // nil for market orders
	Leverage        float64
	StopLossPrice   *float64 // set when Capabilities().AttachedSLTP
	TakeProfitPrice *float64
	ReduceOnly      bool
}

// DefaultWaitForOrderFill implements the generic poll-until-terminal loop
// (spec.md §4.3 and §6's 5s cap) in terms of an adapter's own FetchOrder,
// so concrete adapters can embed it instead of re-implementing polling.
func DefaultWaitForOrderFill(ctx context.Context, fetch func(context.Context) (domain.OrderResult, error), maxWait, pollInterval time.Duration) (domain.OrderResult, error) {
	deadline := time.Now().Add(maxWait)
	var last domain.OrderResult
	for {
		result, err := fetch(ctx)
		if err != nil {
			return last, err
		}
		last = result
		if result.Status == domain.OrderClosed || result.Status == domain.OrderCanceled {
			return result, nil
		}
		if time.Now().After(deadline) {
			return result, nil
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}
