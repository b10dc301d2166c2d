// Package store provides the sqlite-backed connection and repository
// implementations behind internal/repo's interfaces, plus the schema's
// checkpoints table that internal/checkpoint's SQLite store writes to.
// Directly grounded on the teacher's internal/database/db.go:
// same pure-Go modernc.org/sqlite driver, the same DatabaseProfile-driven
// PRAGMA connection string (WAL + profile-specific synchronous/auto_vacuum
// settings), and the same connection-pool tuning for a long-running
// process.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Profile selects a PRAGMA tuning preset for one database file.
type Profile string

const (
	// ProfileLedger maximizes durability for the TradeHistory audit trail.
	ProfileLedger Profile = "ledger"
	// ProfileCache maximizes speed for ephemeral checkpoint/system-config rows.
	ProfileCache Profile = "cache"
	// ProfileStandard balances the two for bot/workflow/exchange config tables.
	ProfileStandard Profile = "standard"
)

// Config holds sqlite connection configuration.
type Config struct {
	Path    string
	Profile Profile
	Name    string
}

// DB wraps a tuned sqlite connection.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// Open creates the data directory if needed and opens a sqlite connection
// tuned for cfg.Profile.
func Open(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("store: failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("store: failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database %s: %w", cfg.Name, err)
	}
	configureConnectionPool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, profile: cfg.Profile, name: cfg.Name}, nil
}

func buildConnectionString(path string, profile Profile) string {
	connStr := path + "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		connStr += "&_pragma=synchronous(FULL)"
		connStr += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
		connStr += "&_pragma=auto_vacuum(FULL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	case ProfileStandard:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)"
	return connStr
}

func configureConnectionPool(conn *sql.DB, profile Profile) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if profile == ProfileCache {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
	}
}

// Conn returns the underlying *sql.DB for repository queries.
func (db *DB) Conn() *sql.DB { return db.conn }

// Close closes the database connection.
func (db *DB) Close() error { return db.conn.Close() }

// Migrate applies the schema DDL, idempotent via CREATE TABLE IF NOT EXISTS.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("store: migration failed for %s: %w", db.name, err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS bots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	exchange_id INTEGER NOT NULL,
	workflow_id INTEGER NOT NULL,
	llm_id INTEGER NOT NULL,
	trading_mode TEXT NOT NULL,
	cycle_interval_seconds INTEGER NOT NULL,
	timeframes TEXT NOT NULL,
	risk_limits TEXT NOT NULL,
	quant_signal_weights TEXT NOT NULL,
	quant_signal_threshold INTEGER NOT NULL,
	tracing_enabled INTEGER NOT NULL DEFAULT 0,
	initial_balance REAL NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS workflows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id INTEGER NOT NULL REFERENCES workflows(id),
	name TEXT NOT NULL,
	plugin_name TEXT NOT NULL,
	execution_order INTEGER NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	config TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS workflow_edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id INTEGER NOT NULL REFERENCES workflows(id),
	from_node TEXT NOT NULL,
	to_node TEXT NOT NULL,
	condition TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	adapter_type TEXT NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	api_secret TEXT NOT NULL DEFAULT '',
	testnet INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS llm_configs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	base_url TEXT NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS system_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	action TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL,
	amount REAL NOT NULL,
	leverage REAL NOT NULL,
	pnl_usd REAL NOT NULL DEFAULT 0,
	pnl_percent REAL NOT NULL DEFAULT 0,
	fee_paid REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	closed_at DATETIME,
	cycle_id TEXT NOT NULL,
	order_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_history_bot_symbol_status ON trade_history(bot_id, symbol, status);

CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id TEXT PRIMARY KEY,
	state BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`
