// Package repo defines the repository contracts the core consumes from the
// (externally specified) database persistence layer. No SQL lives here —
// these are the narrow interfaces listed in spec.md §6, one per collaborator,
// so every stage can be tested against a mock.
package repo

import (
	"context"
	"time"

	"github.com/helion-systems/helion/internal/domain"
)

// BotRepo reads and updates bot configuration rows.
type BotRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.BotConfig, error)
	ListActive(ctx context.Context) ([]domain.BotConfig, error)
	Update(ctx context.Context, bot *domain.BotConfig) error
}

// WorkflowRepo reads and writes Workflow DAG definitions.
type WorkflowRepo interface {
	GetWorkflow(ctx context.Context, id int64) (*domain.Workflow, error)
	GetNodeConfigDict(ctx context.Context, nodeID string) (map[string]interface{}, error)
	ClearNodesAndEdges(ctx context.Context, workflowID int64) error
	AddNode(ctx context.Context, workflowID int64, node domain.WorkflowNode) error
	AddEdge(ctx context.Context, workflowID int64, edge domain.WorkflowEdge) error
	SetNodeConfig(ctx context.Context, nodeID string, config map[string]interface{}) error
}

// ExchangeRepo reads exchange credential rows.
type ExchangeRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.ExchangeConfig, error)
}

// LLMConfigRepo reads LLM provider configuration rows.
type LLMConfigRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.LLMConfig, error)
	GetDefault(ctx context.Context) (*domain.LLMConfig, error)
}

// SystemConfigRepo reads and writes dotted-key system configuration,
// backing ConfigCenter's hot-reloadable views (spec.md §6).
type SystemConfigRepo interface {
	GetByKey(ctx context.Context, key string) (string, bool, error)
	GetByPrefix(ctx context.Context, prefix string) (map[string]string, error)
	Upsert(ctx context.Context, key, value string) error
}

// TradeHistoryRepo is the authoritative trade ledger used by ExecutionStage
// bookkeeping, the consecutive-loss risk gate, and PerformanceCalc.
type TradeHistoryRepo interface {
	Create(ctx context.Context, trade *domain.TradeHistory) error
	CloseTradeBySymbol(ctx context.Context, botID int64, symbol string, exitPrice, pnlUSD, pnlPercent, feePaid float64, closedAt time.Time) error
	GetRecentTrades(ctx context.Context, botID int64, limit int) ([]domain.TradeHistory, error)
	GetOpenTradeBySymbol(ctx context.Context, botID int64, symbol string) (*domain.TradeHistory, error)
}
