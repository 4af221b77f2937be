package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Connect opens a PostgreSQL pool and verifies the connection.
func Connect(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// schema holds the DDL for the tables this core owns. Orders are owned by
// the order service but live in the same database; only the columns this
// core touches are declared here.
const schema = `
CREATE TABLE IF NOT EXISTS product_stock (
	product_id          TEXT PRIMARY KEY,
	track_quantity      BOOLEAN NOT NULL DEFAULT TRUE,
	quantity            INTEGER NOT NULL DEFAULT 0,
	low_stock_threshold INTEGER NOT NULL DEFAULT 0,
	allow_backorders    BOOLEAN NOT NULL DEFAULT FALSE,
	unit_price          BIGINT NOT NULL DEFAULT 0,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory_movements (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	delta      INTEGER NOT NULL,
	type       TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	reference  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_movements_product ON inventory_movements (product_id, created_at DESC);

CREATE TABLE IF NOT EXISTS payments (
	id                 TEXT PRIMARY KEY,
	order_id           TEXT NOT NULL,
	amount             BIGINT NOT NULL,
	refunded_amount    BIGINT NOT NULL DEFAULT 0,
	currency           TEXT NOT NULL,
	status             TEXT NOT NULL,
	gateway            TEXT NOT NULL,
	method             TEXT NOT NULL DEFAULT '',
	transaction_id     TEXT NOT NULL DEFAULT '',
	gateway_payment_id TEXT NOT NULL DEFAULT '',
	gateway_response   JSONB,
	metadata           JSONB,
	processed_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_payments_order ON payments (order_id);
CREATE INDEX IF NOT EXISTS idx_payments_tx ON payments (gateway, transaction_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_active_per_order
	ON payments (order_id) WHERE status IN ('pending', 'processing');

CREATE TABLE IF NOT EXISTS orders (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	items      JSONB NOT NULL DEFAULT '[]',
	total      BIGINT NOT NULL DEFAULT 0,
	currency   TEXT NOT NULL DEFAULT 'KRW',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS order_status_history (
	id         BIGSERIAL PRIMARY KEY,
	order_id   TEXT NOT NULL,
	status     TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_history_order ON order_status_history (order_id, created_at);
`

// EnsureSchema creates the tables this core needs if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
