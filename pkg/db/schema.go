package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Money columns hold decimal strings so SQLite and PostgreSQL round-trip them exactly.
// Timestamps are unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS customers (
    name TEXT PRIMARY KEY,
    wallet TEXT,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
    customer_name TEXT NOT NULL,
    currency TEXT NOT NULL,
    amount TEXT NOT NULL DEFAULT '0',
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (customer_name, currency)
);

CREATE TABLE IF NOT EXISTS trades (
    order_id TEXT PRIMARY KEY,
    customer_name TEXT NOT NULL,
    direction TEXT NOT NULL,
    base_currency TEXT NOT NULL,
    quote_currency TEXT NOT NULL,
    base_amount TEXT NOT NULL,
    rate TEXT NOT NULL,
    operator TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    settled_in TEXT NOT NULL DEFAULT '0',
    settled_out TEXT NOT NULL DEFAULT '0',
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_customer_status ON trades (customer_name, status, created_at);
CREATE INDEX IF NOT EXISTS idx_trades_created ON trades (created_at);

CREATE TABLE IF NOT EXISTS adjustments (
    id {{serial}},
    customer_name TEXT NOT NULL,
    currency TEXT NOT NULL,
    amount TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adjustments_customer ON adjustments (customer_name, created_at);

CREATE TABLE IF NOT EXISTS expenses (
    id {{serial}},
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    purpose TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expenses_created ON expenses (created_at);

CREATE TABLE IF NOT EXISTS order_sequence (
    name TEXT PRIMARY KEY,
    last_value BIGINT NOT NULL DEFAULT 0
);
`

func schemaFor(dialect Dialect) string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect == DialectPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(schema, "{{serial}}", serial)
}

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if d.Dialect == DialectSQLite {
		if _, err := d.DB.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			return fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := d.DB.Exec(schemaFor(d.Dialect)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if d.Dialect == DialectSQLite {
		if err := ensureColumn(d.DB, "customers", "wallet", "TEXT"); err != nil {
			return err
		}
	}
	return nil
}

// VerifySchema reports the ledger tables missing from the database.
func VerifySchema(d *Database) ([]string, error) {
	var missing []string
	for _, table := range []string{"customers", "balances", "trades", "adjustments", "expenses", "order_sequence"} {
		ok, err := tableExists(d, table)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

func tableExists(d *Database, table string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if d.Dialect == DialectPostgres {
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1`
	}
	var n int
	if err := d.DB.QueryRow(query, table).Scan(&n); err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return n > 0, nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
