// Package dbstore is the SQLite-backed persistence layer shared by
// both service processes, implementing the Store interfaces each
// engine package declares (scoring.Store, matching.Store, and the
// Ingest/Audit stores) over the eight relations of §3.
package dbstore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection and its schema migrations.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at dsn and runs pending
// migrations. dsn should already carry the WAL/foreign-key pragmas,
// e.g. "file:reality.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)".
func Open(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// SqlDB exposes the underlying *sql.DB for callers that need it
// directly (e.g. a future CLI inspection tool).
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS instruments (
				symbol         TEXT PRIMARY KEY,
				name           TEXT NOT NULL,
				description    TEXT NOT NULL DEFAULT '',
				market_weight  REAL NOT NULL,
				reality_weight REAL NOT NULL,
				min_price      REAL NOT NULL DEFAULT 0,
				max_price      REAL NOT NULL DEFAULT 100,
				created_at     TEXT NOT NULL,
				CHECK (market_weight >= 0 AND market_weight <= 1),
				CHECK (reality_weight >= 0 AND reality_weight <= 1),
				CHECK (max_price >= min_price)
			);

			CREATE TABLE IF NOT EXISTS scores (
				symbol        TEXT PRIMARY KEY REFERENCES instruments(symbol),
				reality_score REAL NOT NULL,
				final_price   REAL NOT NULL,
				confidence    REAL NOT NULL,
				last_updated  TEXT NOT NULL,
				CHECK (reality_score >= 0 AND reality_score <= 100),
				CHECK (final_price >= 0 AND final_price <= 100),
				CHECK (confidence >= 0 AND confidence <= 1)
			);

			CREATE TABLE IF NOT EXISTS events (
				event_id                TEXT PRIMARY KEY,
				timestamp                TEXT NOT NULL,
				stocks                   TEXT NOT NULL,
				quick_score              REAL NOT NULL DEFAULT 0,
				impact_points            REAL NOT NULL,
				summary                  TEXT NOT NULL DEFAULT '',
				sources                  TEXT NOT NULL DEFAULT '[]',
				num_independent_sources  INTEGER NOT NULL DEFAULT 0,
				llm_mode                 TEXT NOT NULL DEFAULT 'skipped',
				meta                     TEXT,
				processed                INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);

			CREATE TABLE IF NOT EXISTS audit_records (
				id          TEXT PRIMARY KEY,
				event_id    TEXT NOT NULL REFERENCES events(event_id),
				symbol      TEXT NOT NULL REFERENCES instruments(symbol),
				summary     TEXT NOT NULL DEFAULT '',
				impact      REAL NOT NULL,
				sources     TEXT NOT NULL DEFAULT '[]',
				approved    TEXT NOT NULL DEFAULT 'pending',
				approver    TEXT,
				reason      TEXT,
				created_at  TEXT NOT NULL,
				decided_at  TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_audit_state ON audit_records(approved);

			CREATE TABLE IF NOT EXISTS score_changes (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol     TEXT NOT NULL REFERENCES instruments(symbol),
				event_id   TEXT NOT NULL,
				old_score  REAL NOT NULL,
				new_score  REAL NOT NULL,
				delta      REAL NOT NULL,
				timestamp  TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_score_changes_symbol ON score_changes(symbol, timestamp);

			CREATE TABLE IF NOT EXISTS llm_calls (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp     TEXT NOT NULL,
				mode          TEXT NOT NULL,
				input_hash    TEXT NOT NULL,
				event_ids     TEXT NOT NULL DEFAULT '[]',
				summary       TEXT NOT NULL DEFAULT '',
				impact_points REAL NOT NULL DEFAULT 0,
				model_name    TEXT NOT NULL DEFAULT '',
				tokens_used   INTEGER NOT NULL DEFAULT 0,
				cost_usd      REAL NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS orders (
				order_id    TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL,
				symbol      TEXT NOT NULL REFERENCES instruments(symbol),
				side        TEXT NOT NULL,
				type        TEXT NOT NULL,
				price       TEXT NOT NULL DEFAULT '0',
				qty         TEXT NOT NULL,
				filled      TEXT NOT NULL DEFAULT '0',
				status      TEXT NOT NULL,
				created_at  TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders(symbol, status);
			CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

			CREATE TABLE IF NOT EXISTS trades (
				trade_id      TEXT PRIMARY KEY,
				symbol        TEXT NOT NULL REFERENCES instruments(symbol),
				price         TEXT NOT NULL,
				qty           TEXT NOT NULL,
				buy_order_id  TEXT NOT NULL,
				sell_order_id TEXT NOT NULL,
				timestamp     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, timestamp);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	return nil
}
