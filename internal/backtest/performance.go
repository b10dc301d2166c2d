package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helion-systems/helion/internal/domain"
)

// MockPerformanceService is the backtest twin of a sqlite-backed
// TradeHistoryRepo: same repo.TradeHistoryRepo contract PerformanceCalc
// reads from, backed by an in-memory slice instead of a table, so a
// backtest run never touches the durable ledger a live bot writes to.
type MockPerformanceService struct {
	mu     sync.Mutex
	nextID int64
	trades []domain.TradeHistory
}

// NewMockPerformanceService builds an empty in-memory trade ledger.
func NewMockPerformanceService() *MockPerformanceService {
	return &MockPerformanceService{}
}

func (m *MockPerformanceService) Create(ctx context.Context, trade *domain.TradeHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = m.nextID
	m.trades = append(m.trades, *trade)
	return nil
}

func (m *MockPerformanceService) CloseTradeBySymbol(ctx context.Context, botID int64, symbol string, exitPrice, pnlUSD, pnlPercent, feePaid float64, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.trades) - 1; i >= 0; i-- {
		t := &m.trades[i]
		if t.BotID == botID && t.Symbol == symbol && t.Status == domain.TradeOpen {
			t.ExitPrice = &exitPrice
			t.PnLUSD = pnlUSD
			t.PnLPercent = pnlPercent
			t.FeePaid = feePaid
			t.ClosedAt = &closedAt
			t.Status = domain.TradeClosed
			return nil
		}
	}
	return fmt.Errorf("backtest: no open trade for bot %d symbol %s", botID, symbol)
}

func (m *MockPerformanceService) GetRecentTrades(ctx context.Context, botID int64, limit int) ([]domain.TradeHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TradeHistory, 0, limit)
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if m.trades[i].BotID == botID {
			out = append(out, m.trades[i])
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out, nil
}

func (m *MockPerformanceService) GetOpenTradeBySymbol(ctx context.Context, botID int64, symbol string) (*domain.TradeHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].BotID == botID && m.trades[i].Symbol == symbol && m.trades[i].Status == domain.TradeOpen {
			t := m.trades[i]
			return &t, nil
		}
	}
	return nil, nil
}

// AllTrades returns every recorded trade, used by Engine to build the
// final backtest report.
func (m *MockPerformanceService) AllTrades(botID int64) []domain.TradeHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TradeHistory, 0, len(m.trades))
	for _, t := range m.trades {
		if t.BotID == botID {
			out = append(out, t)
		}
	}
	return out
}
