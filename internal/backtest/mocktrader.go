package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helion-systems/helion/internal/domain"
	"github.com/helion-systems/helion/internal/exchange"
)

// MockTrader is the BacktestEngine's exchange.Adapter: it answers every
// read against BacktestDataSource as of the engine's current cursor and
// fills orders at the next candle's close times (1 ± slippage), the same
// no-lookahead contract spec.md §4.15 describes. Bookkeeping (balance,
// positions) mirrors exchange.PaperAdapter exactly; only price discovery
// and fill timing differ.
type MockTrader struct {
	mu         sync.Mutex
	data       *BacktestDataSource
	primaryTF  string
	cursor     time.Time
	balances   map[string]domain.AssetBalance
	positions  map[string]domain.Position
	commission float64
	slippage   float64
}

// NewMockTrader builds a MockTrader seeded with startingUSDT, reading
// candles from data on primaryTF to discover prices and confirm fills.
func NewMockTrader(data *BacktestDataSource, primaryTF string, startingUSDT, commission, slippage float64) *MockTrader {
	return &MockTrader{
		data:      data,
		primaryTF: primaryTF,
		balances: map[string]domain.AssetBalance{
			"USDT": {Free: startingUSDT, Total: startingUSDT},
		},
		positions:  make(map[string]domain.Position),
		commission: commission,
		slippage:   slippage,
	}
}

// SetCursor advances the simulated clock. Engine calls this once per cycle
// before running the pipeline graph.
func (m *MockTrader) SetCursor(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = t
}

func (m *MockTrader) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{FetchFundingRates: true, FetchFundingRateHistory: true}
}

func (m *MockTrader) AmountPrecision(symbol string) exchange.AmountPrecision {
	return exchange.AmountPrecision{Step: 0.0001, MinNotional: 10}
}

func (m *MockTrader) LoadMarkets(ctx context.Context) error { return nil }

func (m *MockTrader) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) (domain.OHLCVWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := m.data.ohlcvAsOf(symbol, timeframe, m.cursor)
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window, nil
}

func (m *MockTrader) currentPrice(symbol string) (float64, error) {
	window := m.data.ohlcvAsOf(symbol, m.primaryTF, m.cursor)
	if len(window) == 0 {
		return 0, fmt.Errorf("backtest: no candle for %s at or before %s", symbol, m.cursor)
	}
	return window[len(window)-1].Close, nil
}

func (m *MockTrader) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentPrice(symbol)
}

func (m *MockTrader) FetchTickers(ctx context.Context, symbols []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if price, err := m.currentPrice(s); err == nil {
			out[s] = price
		}
	}
	return out, nil
}

func (m *MockTrader) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookMetrics, error) {
	return domain.OrderBookMetrics{}, nil
}

func (m *MockTrader) FetchTrades(ctx context.Context, symbol string, limit int) (domain.TradeMetrics, error) {
	return domain.TradeMetrics{}, nil
}

func (m *MockTrader) FetchFundingRates(ctx context.Context, symbols []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = m.data.fundingAsOf(s, m.cursor)
	}
	return out, nil
}

func (m *MockTrader) FetchFundingRateHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := m.data.funding[symbol]
	out := make([]float64, 0, len(points))
	for _, p := range points {
		if !p.at.Before(since) && !p.at.After(m.cursor) {
			out = append(out, p.rate)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MockTrader) FetchBalance(ctx context.Context) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]domain.AssetBalance, len(m.balances))
	for k, v := range m.balances {
		snapshot[k] = v
	}
	return domain.Account{AsOf: m.cursor, Balances: snapshot}, nil
}

func (m *MockTrader) FetchPositions(ctx context.Context, symbols []string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make([]domain.Position, 0, len(m.positions))
	for sym, pos := range m.positions {
		if len(symbols) == 0 || want[sym] {
			out = append(out, pos)
		}
	}
	return out, nil
}

// CreateOrder fills at the next candle's close after the current cursor,
// never the candle the decision was made on, and applies symmetric
// slippage and commission (spec.md §4.15 / Open Question on slippage
// sign: source applies it symmetrically to both sides, so this does too).
func (m *MockTrader) CreateOrder(ctx context.Context, req exchange.OrderRequest) (domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candle, ok := m.data.nextCandle(req.Symbol, m.primaryTF, m.cursor)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("backtest: no further candle to fill %s against", req.Symbol)
	}
	fillPrice := candle.Close
	if req.Side == domain.SideBuy {
		fillPrice *= 1 + m.slippage
	} else {
		fillPrice *= 1 - m.slippage
	}

	notional := req.Amount * fillPrice
	fee := notional * m.commission

	usdt := m.balances["USDT"]
	if req.ReduceOnly {
		if pos, ok := m.positions[req.Symbol]; ok && pos.Leverage > 0 {
			margin := pos.EntryPrice * pos.Amount / pos.Leverage
			pnl := (fillPrice - pos.EntryPrice) * pos.Amount
			if pos.Side == domain.SideSell {
				pnl = -pnl
			}
			usdt.Used -= margin
			usdt.Free += margin + pnl
		}
		delete(m.positions, req.Symbol)
		usdt.Free -= fee
	} else {
		margin := notional / req.Leverage
		usdt.Free -= margin + fee
		usdt.Used += margin
		m.positions[req.Symbol] = domain.Position{
			ID:              uuid.NewString(),
			Symbol:          req.Symbol,
			Side:            req.Side,
			Type:            req.Type,
			Status:          domain.PositionOpen,
			EntryPrice:      fillPrice,
			CurrentAverage:  fillPrice,
			Amount:          req.Amount,
			Leverage:        req.Leverage,
			StopLossPrice:   req.StopLossPrice,
			TakeProfitPrice: req.TakeProfitPrice,
		}
	}
	usdt.Total = usdt.Free + usdt.Used
	m.balances["USDT"] = usdt

	return domain.OrderResult{
		Success:      true,
		OrderID:      uuid.NewString(),
		Symbol:       req.Symbol,
		Status:       domain.OrderClosed,
		Filled:       req.Amount,
		Remaining:    0,
		AveragePrice: fillPrice,
		FeeCost:      fee,
	}, nil
}

func (m *MockTrader) EditOrder(ctx context.Context, orderID, symbol string, req exchange.OrderRequest) (domain.OrderResult, error) {
	return m.CreateOrder(ctx, req)
}

func (m *MockTrader) CancelOrder(ctx context.Context, orderID, symbol string) error { return nil }

func (m *MockTrader) CancelOrders(ctx context.Context, orderIDs []string, symbol string) error {
	return nil
}

func (m *MockTrader) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderResult, error) {
	return domain.OrderResult{OrderID: orderID, Symbol: symbol, Status: domain.OrderClosed, Filled: 1}, nil
}

// WaitForOrderFill returns immediately: every MockTrader fill is already
// terminal by the time CreateOrder returns.
func (m *MockTrader) WaitForOrderFill(ctx context.Context, orderID, symbol string, maxWait, pollInterval time.Duration) (domain.OrderResult, error) {
	return m.FetchOrder(ctx, orderID, symbol)
}

func (m *MockTrader) Close(ctx context.Context) error { return nil }
