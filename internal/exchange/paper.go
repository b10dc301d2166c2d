package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helion-systems/helion/internal/domain"
)

// PaperAdapter is a dry-run Adapter: it fills every order immediately at
// the last price it was told about via UpdatePrice, debiting/crediting an
// in-memory USDT balance, and keeps positions in memory. It has no
// exchange capabilities (no attached SL/TP, no funding-rate feed), so
// ExecutionStage falls back to its documented defaults. Useful for
// exercising the pipeline against live market data without risking funds.
type PaperAdapter struct {
	mu        sync.Mutex
	balances  map[string]domain.AssetBalance
	positions map[string]domain.Position
	prices    map[string]float64
	commission float64
}

// NewPaperAdapter builds a PaperAdapter seeded with startingUSDT free
// balance and the given commission rate (e.g. 0.0004 for 4bps).
func NewPaperAdapter(startingUSDT, commission float64) *PaperAdapter {
	return &PaperAdapter{
		balances: map[string]domain.AssetBalance{
			"USDT": {Free: startingUSDT, Total: startingUSDT},
		},
		positions:  make(map[string]domain.Position),
		prices:     make(map[string]float64),
		commission: commission,
	}
}

// UpdatePrice records the latest known price for symbol, used by
// FetchTicker/FetchTickers and as the fill price for the next order.
func (p *PaperAdapter) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperAdapter) Capabilities() Capabilities {
	return Capabilities{}
}

func (p *PaperAdapter) AmountPrecision(symbol string) AmountPrecision {
	return AmountPrecision{Step: 0.0001, MinNotional: 10}
}

func (p *PaperAdapter) LoadMarkets(ctx context.Context) error { return nil }

func (p *PaperAdapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) (domain.OHLCVWindow, error) {
	return nil, fmt.Errorf("exchange: paper adapter has no historical OHLCV source, rely on StreamManager/Cache")
}

func (p *PaperAdapter) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("exchange: no price recorded for %s", symbol)
	}
	return price, nil
}

func (p *PaperAdapter) FetchTickers(ctx context.Context, symbols []string) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if price, ok := p.prices[s]; ok {
			out[s] = price
		}
	}
	return out, nil
}

func (p *PaperAdapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookMetrics, error) {
	return domain.OrderBookMetrics{}, nil
}

func (p *PaperAdapter) FetchTrades(ctx context.Context, symbol string, limit int) (domain.TradeMetrics, error) {
	return domain.TradeMetrics{}, nil
}

func (p *PaperAdapter) FetchFundingRates(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = 0
	}
	return out, nil
}

func (p *PaperAdapter) FetchFundingRateHistory(ctx context.Context, symbol string, since time.Time, limit int) ([]float64, error) {
	return nil, nil
}

func (p *PaperAdapter) FetchBalance(ctx context.Context) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make(map[string]domain.AssetBalance, len(p.balances))
	for k, v := range p.balances {
		snapshot[k] = v
	}
	return domain.Account{AsOf: time.Now(), Balances: snapshot}, nil
}

func (p *PaperAdapter) FetchPositions(ctx context.Context, symbols []string) ([]domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make([]domain.Position, 0, len(p.positions))
	for sym, pos := range p.positions {
		if len(symbols) == 0 || want[sym] {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (p *PaperAdapter) CreateOrder(ctx context.Context, req OrderRequest) (domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[req.Symbol]
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("exchange: no price recorded for %s", req.Symbol)
	}
	if req.Price != nil {
		price = *req.Price
	}

	notional := req.Amount * price
	fee := notional * p.commission

	usdt := p.balances["USDT"]
	if req.ReduceOnly {
		if pos, ok := p.positions[req.Symbol]; ok && pos.Leverage > 0 {
			margin := pos.EntryPrice * pos.Amount / pos.Leverage
			pnl := (price - pos.EntryPrice) * pos.Amount
			if pos.Side == domain.SideSell {
				pnl = -pnl
			}
			usdt.Used -= margin
			usdt.Free += margin + pnl
		}
		delete(p.positions, req.Symbol)
		usdt.Free -= fee
	} else {
		margin := notional / req.Leverage
		usdt.Free -= margin + fee
		usdt.Used += margin
		p.positions[req.Symbol] = domain.Position{
			ID:             uuid.NewString(),
			Symbol:         req.Symbol,
			Side:           req.Side,
			Type:           req.Type,
			Status:         domain.PositionOpen,
			EntryPrice:     price,
			CurrentAverage: price,
			Amount:         req.Amount,
			Leverage:       req.Leverage,
			StopLossPrice:  req.StopLossPrice,
			TakeProfitPrice: req.TakeProfitPrice,
		}
	}
	usdt.Total = usdt.Free + usdt.Used
	p.balances["USDT"] = usdt

	return domain.OrderResult{
		Success:      true,
		OrderID:      uuid.NewString(),
		Symbol:       req.Symbol,
		Status:       domain.OrderClosed,
		Filled:       req.Amount,
		Remaining:    0,
		AveragePrice: price,
		FeeCost:      fee,
	}, nil
}

func (p *PaperAdapter) EditOrder(ctx context.Context, orderID, symbol string, req OrderRequest) (domain.OrderResult, error) {
	return p.CreateOrder(ctx, req)
}

func (p *PaperAdapter) CancelOrder(ctx context.Context, orderID, symbol string) error { return nil }

func (p *PaperAdapter) CancelOrders(ctx context.Context, orderIDs []string, symbol string) error {
	return nil
}

func (p *PaperAdapter) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderResult, error) {
	return domain.OrderResult{OrderID: orderID, Symbol: symbol, Status: domain.OrderClosed}, nil
}

func (p *PaperAdapter) WaitForOrderFill(ctx context.Context, orderID, symbol string, maxWait, pollInterval time.Duration) (domain.OrderResult, error) {
	return p.FetchOrder(ctx, orderID, symbol)
}

func (p *PaperAdapter) Close(ctx context.Context) error { return nil }
