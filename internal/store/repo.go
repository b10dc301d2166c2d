package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/helion-systems/helion/internal/domain"
)

// BotRepo is the sqlite-backed implementation of repo.BotRepo.
type BotRepo struct{ db *DB }

func NewBotRepo(db *DB) *BotRepo { return &BotRepo{db: db} }

func (r *BotRepo) GetByID(ctx context.Context, id int64) (*domain.BotConfig, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT id, name, exchange_id, workflow_id, llm_id, trading_mode,
		cycle_interval_seconds, timeframes, risk_limits, quant_signal_weights, quant_signal_threshold,
		tracing_enabled, initial_balance FROM bots WHERE id = ?`, id)
	return scanBot(row)
}

func (r *BotRepo) ListActive(ctx context.Context) ([]domain.BotConfig, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT id, name, exchange_id, workflow_id, llm_id, trading_mode,
		cycle_interval_seconds, timeframes, risk_limits, quant_signal_weights, quant_signal_threshold,
		tracing_enabled, initial_balance FROM bots WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: list active bots: %w", err)
	}
	defer rows.Close()

	var out []domain.BotConfig
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bot)
	}
	return out, rows.Err()
}

func (r *BotRepo) Update(ctx context.Context, bot *domain.BotConfig) error {
	timeframes, err := json.Marshal(bot.Timeframes)
	if err != nil {
		return err
	}
	riskLimits, err := json.Marshal(bot.RiskLimits)
	if err != nil {
		return err
	}
	weights, err := json.Marshal(bot.QuantSignalWeights)
	if err != nil {
		return err
	}

	_, err = r.db.conn.ExecContext(ctx, `UPDATE bots SET name=?, exchange_id=?, workflow_id=?, llm_id=?,
		trading_mode=?, cycle_interval_seconds=?, timeframes=?, risk_limits=?, quant_signal_weights=?,
		quant_signal_threshold=?, tracing_enabled=?, initial_balance=? WHERE id=?`,
		bot.Name, bot.ExchangeID, bot.WorkflowID, bot.LLMID, bot.TradingMode, bot.CycleIntervalSeconds,
		string(timeframes), string(riskLimits), string(weights), bot.QuantSignalThreshold,
		bot.TracingEnabled, bot.InitialBalance, bot.ID)
	if err != nil {
		return fmt.Errorf("store: update bot %d: %w", bot.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(row rowScanner) (*domain.BotConfig, error) {
	var bot domain.BotConfig
	var timeframesJSON, riskLimitsJSON, weightsJSON string
	err := row.Scan(&bot.ID, &bot.Name, &bot.ExchangeID, &bot.WorkflowID, &bot.LLMID, &bot.TradingMode,
		&bot.CycleIntervalSeconds, &timeframesJSON, &riskLimitsJSON, &weightsJSON, &bot.QuantSignalThreshold,
		&bot.TracingEnabled, &bot.InitialBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan bot: %w", err)
	}
	if err := json.Unmarshal([]byte(timeframesJSON), &bot.Timeframes); err != nil {
		return nil, fmt.Errorf("store: decode timeframes: %w", err)
	}
	if err := json.Unmarshal([]byte(riskLimitsJSON), &bot.RiskLimits); err != nil {
		return nil, fmt.Errorf("store: decode risk_limits: %w", err)
	}
	if err := json.Unmarshal([]byte(weightsJSON), &bot.QuantSignalWeights); err != nil {
		return nil, fmt.Errorf("store: decode quant_signal_weights: %w", err)
	}
	return &bot, nil
}

// ExchangeRepo is the sqlite-backed implementation of repo.ExchangeRepo.
type ExchangeRepo struct{ db *DB }

func NewExchangeRepo(db *DB) *ExchangeRepo { return &ExchangeRepo{db: db} }

func (r *ExchangeRepo) GetByID(ctx context.Context, id int64) (*domain.ExchangeConfig, error) {
	var cfg domain.ExchangeConfig
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT id, adapter_type, api_key, api_secret, testnet FROM exchanges WHERE id = ?`, id,
	).Scan(&cfg.ID, &cfg.AdapterType, &cfg.APIKey, &cfg.APISecret, &cfg.Testnet)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: exchange %d not found", id)
		}
		return nil, fmt.Errorf("store: get exchange %d: %w", id, err)
	}
	return &cfg, nil
}

// LLMConfigRepo is the sqlite-backed implementation of repo.LLMConfigRepo.
type LLMConfigRepo struct{ db *DB }

func NewLLMConfigRepo(db *DB) *LLMConfigRepo { return &LLMConfigRepo{db: db} }

func (r *LLMConfigRepo) GetByID(ctx context.Context, id int64) (*domain.LLMConfig, error) {
	var cfg domain.LLMConfig
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT id, provider, model, base_url, api_key, is_default FROM llm_configs WHERE id = ?`, id,
	).Scan(&cfg.ID, &cfg.Provider, &cfg.Model, &cfg.BaseURL, &cfg.APIKey, &cfg.Default)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: llm config %d not found", id)
		}
		return nil, fmt.Errorf("store: get llm config %d: %w", id, err)
	}
	return &cfg, nil
}

func (r *LLMConfigRepo) GetDefault(ctx context.Context) (*domain.LLMConfig, error) {
	var cfg domain.LLMConfig
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT id, provider, model, base_url, api_key, is_default FROM llm_configs WHERE is_default = 1 LIMIT 1`,
	).Scan(&cfg.ID, &cfg.Provider, &cfg.Model, &cfg.BaseURL, &cfg.APIKey, &cfg.Default)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: no default llm config configured")
		}
		return nil, fmt.Errorf("store: get default llm config: %w", err)
	}
	return &cfg, nil
}

// SystemConfigRepo is the sqlite-backed implementation of repo.SystemConfigRepo.
type SystemConfigRepo struct{ db *DB }

func NewSystemConfigRepo(db *DB) *SystemConfigRepo { return &SystemConfigRepo{db: db} }

func (r *SystemConfigRepo) GetByKey(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.conn.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get system config %q: %w", key, err)
	}
	return value, true, nil
}

func (r *SystemConfigRepo) GetByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT key, value FROM system_config WHERE key LIKE ?`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("store: get system config prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r *SystemConfigRepo) Upsert(ctx context.Context, key, value string) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO system_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: upsert system config %q: %w", key, err)
	}
	return nil
}

// WorkflowRepo is the sqlite-backed implementation of repo.WorkflowRepo.
type WorkflowRepo struct{ db *DB }

func NewWorkflowRepo(db *DB) *WorkflowRepo { return &WorkflowRepo{db: db} }

func (r *WorkflowRepo) GetWorkflow(ctx context.Context, id int64) (*domain.Workflow, error) {
	wf := &domain.Workflow{ID: id}
	if err := r.db.conn.QueryRowContext(ctx, `SELECT name FROM workflows WHERE id = ?`, id).Scan(&wf.Name); err != nil {
		return nil, fmt.Errorf("store: get workflow %d: %w", id, err)
	}

	nodeRows, err := r.db.conn.QueryContext(ctx,
		`SELECT name, plugin_name, execution_order, enabled, config FROM workflow_nodes WHERE workflow_id = ? ORDER BY execution_order`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get workflow nodes: %w", err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var n domain.WorkflowNode
		var configJSON string
		if err := nodeRows.Scan(&n.Name, &n.PluginName, &n.ExecutionOrder, &n.Enabled, &configJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(configJSON), &n.Config); err != nil {
			return nil, fmt.Errorf("store: decode node config for %q: %w", n.Name, err)
		}
		wf.Nodes = append(wf.Nodes, n)
	}

	edgeRows, err := r.db.conn.QueryContext(ctx,
		`SELECT from_node, to_node, condition FROM workflow_edges WHERE workflow_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get workflow edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e domain.WorkflowEdge
		if err := edgeRows.Scan(&e.From, &e.To, &e.Condition); err != nil {
			return nil, err
		}
		wf.Edges = append(wf.Edges, e)
	}

	return wf, nil
}

func (r *WorkflowRepo) GetNodeConfigDict(ctx context.Context, nodeID string) (map[string]interface{}, error) {
	var configJSON string
	err := r.db.conn.QueryRowContext(ctx, `SELECT config FROM workflow_nodes WHERE name = ?`, nodeID).Scan(&configJSON)
	if err != nil {
		return nil, fmt.Errorf("store: get node config for %q: %w", nodeID, err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(configJSON), &out); err != nil {
		return nil, fmt.Errorf("store: decode node config for %q: %w", nodeID, err)
	}
	return out, nil
}

func (r *WorkflowRepo) ClearNodesAndEdges(ctx context.Context, workflowID int64) error {
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM workflow_nodes WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("store: clear workflow nodes: %w", err)
	}
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM workflow_edges WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("store: clear workflow edges: %w", err)
	}
	return nil
}

func (r *WorkflowRepo) AddNode(ctx context.Context, workflowID int64, node domain.WorkflowNode) error {
	configJSON, err := json.Marshal(node.Config)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx,
		`INSERT INTO workflow_nodes (workflow_id, name, plugin_name, execution_order, enabled, config)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		workflowID, node.Name, node.PluginName, node.ExecutionOrder, node.Enabled, string(configJSON))
	if err != nil {
		return fmt.Errorf("store: add workflow node %q: %w", node.Name, err)
	}
	return nil
}

func (r *WorkflowRepo) AddEdge(ctx context.Context, workflowID int64, edge domain.WorkflowEdge) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO workflow_edges (workflow_id, from_node, to_node, condition) VALUES (?, ?, ?, ?)`,
		workflowID, edge.From, edge.To, edge.Condition)
	if err != nil {
		return fmt.Errorf("store: add workflow edge %s->%s: %w", edge.From, edge.To, err)
	}
	return nil
}

func (r *WorkflowRepo) SetNodeConfig(ctx context.Context, nodeID string, config map[string]interface{}) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return err
	}
	_, err = r.db.conn.ExecContext(ctx, `UPDATE workflow_nodes SET config = ? WHERE name = ?`, string(configJSON), nodeID)
	if err != nil {
		return fmt.Errorf("store: set node config for %q: %w", nodeID, err)
	}
	return nil
}

// TradeHistoryRepo is the sqlite-backed implementation of repo.TradeHistoryRepo.
type TradeHistoryRepo struct{ db *DB }

func NewTradeHistoryRepo(db *DB) *TradeHistoryRepo { return &TradeHistoryRepo{db: db} }

func (r *TradeHistoryRepo) Create(ctx context.Context, trade *domain.TradeHistory) error {
	res, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO trade_history (bot_id, symbol, side, action, entry_price, amount, leverage, status,
			opened_at, cycle_id, order_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.BotID, trade.Symbol, trade.Side, trade.Action, trade.EntryPrice, trade.Amount,
		trade.Leverage, trade.Status, trade.OpenedAt, trade.CycleID, trade.OrderID)
	if err != nil {
		return fmt.Errorf("store: create trade history row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	trade.ID = id
	return nil
}

func (r *TradeHistoryRepo) CloseTradeBySymbol(ctx context.Context, botID int64, symbol string, exitPrice, pnlUSD, pnlPercent, feePaid float64, closedAt time.Time) error {
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE trade_history SET exit_price=?, pnl_usd=?, pnl_percent=?, fee_paid=?, status='closed', closed_at=?
		 WHERE id = (SELECT id FROM trade_history WHERE bot_id=? AND symbol=? AND status='open' ORDER BY opened_at DESC LIMIT 1)`,
		exitPrice, pnlUSD, pnlPercent, feePaid, closedAt, botID, symbol)
	if err != nil {
		return fmt.Errorf("store: close trade for %s: %w", symbol, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("store: no open trade found for bot %d symbol %s", botID, symbol)
	}
	return nil
}

func (r *TradeHistoryRepo) GetRecentTrades(ctx context.Context, botID int64, limit int) ([]domain.TradeHistory, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT id, bot_id, symbol, side, action, entry_price, exit_price, amount, leverage, pnl_usd,
			pnl_percent, fee_paid, status, opened_at, closed_at, cycle_id, order_id
		 FROM trade_history WHERE bot_id = ? AND status = 'closed' ORDER BY closed_at DESC LIMIT ?`,
		botID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get recent trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeHistory
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	// Reverse to oldest-first, the order PerformanceCalc expects.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (r *TradeHistoryRepo) GetOpenTradeBySymbol(ctx context.Context, botID int64, symbol string) (*domain.TradeHistory, error) {
	row := r.db.conn.QueryRowContext(ctx,
		`SELECT id, bot_id, symbol, side, action, entry_price, exit_price, amount, leverage, pnl_usd,
			pnl_percent, fee_paid, status, opened_at, closed_at, cycle_id, order_id
		 FROM trade_history WHERE bot_id = ? AND symbol = ? AND status = 'open' ORDER BY opened_at DESC LIMIT 1`,
		botID, symbol)
	trade, err := scanTrade(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func scanTrade(row rowScanner) (domain.TradeHistory, error) {
	var t domain.TradeHistory
	var exitPrice sql.NullFloat64
	var closedAt sql.NullTime
	err := row.Scan(&t.ID, &t.BotID, &t.Symbol, &t.Side, &t.Action, &t.EntryPrice, &exitPrice, &t.Amount,
		&t.Leverage, &t.PnLUSD, &t.PnLPercent, &t.FeePaid, &t.Status, &t.OpenedAt, &closedAt, &t.CycleID, &t.OrderID)
	if err != nil {
		return domain.TradeHistory{}, fmt.Errorf("store: scan trade: %w", err)
	}
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	return t, nil
}
