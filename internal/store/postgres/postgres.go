// Package postgres stores items, rooms and the ledger in PostgreSQL for
// deployments where several processes apply movements against one database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// SQLDB exposes pool as a *sql.DB for the administrative queries in package
// store. Closing it does not close the pool.
func SQLDB(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL CHECK (role IN ('admin', 'manager', 'user')),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS rooms (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    location   TEXT NOT NULL DEFAULT '',
    active     BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS categories (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS items (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT,
    category_id BIGINT REFERENCES categories(id),
    room_id     BIGINT REFERENCES rooms(id),
    quantity    INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    status      TEXT NOT NULL DEFAULT 'out_of_stock'
                CHECK (status IN ('in_stock', 'low_stock', 'out_of_stock')),
    price       NUMERIC(12, 2) NOT NULL DEFAULT 0,
    version     BIGINT NOT NULL DEFAULT 1,
    image       BYTEA,
    image_mime  TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS transactions (
    id           BIGSERIAL PRIMARY KEY,
    item_id      BIGINT NOT NULL REFERENCES items(id),
    kind         TEXT NOT NULL CHECK (kind IN ('in', 'out', 'transfer')),
    quantity     INTEGER NOT NULL CHECK (quantity > 0),
    from_room_id BIGINT REFERENCES rooms(id),
    to_room_id   BIGINT REFERENCES rooms(id),
    actor_id     BIGINT NOT NULL REFERENCES users(id),
    occurred_at  TIMESTAMPTZ NOT NULL,
    note         TEXT,
    reference    TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK (
        (kind = 'in' AND from_room_id IS NULL AND to_room_id IS NOT NULL) OR
        (kind = 'out' AND from_room_id IS NOT NULL AND to_room_id IS NULL) OR
        (kind = 'transfer' AND from_room_id IS NOT NULL AND to_room_id IS NOT NULL
            AND from_room_id <> to_room_id)
    )
);

CREATE INDEX IF NOT EXISTS idx_items_room ON items(room_id);
CREATE INDEX IF NOT EXISTS idx_items_category ON items(category_id);

CREATE INDEX IF NOT EXISTS idx_transactions_item ON transactions(item_id, id);
CREATE INDEX IF NOT EXISTS idx_transactions_occurred ON transactions(occurred_at);
CREATE INDEX IF NOT EXISTS idx_transactions_from_room ON transactions(from_room_id);
CREATE INDEX IF NOT EXISTS idx_transactions_to_room ON transactions(to_room_id);

CREATE OR REPLACE FUNCTION transactions_append_only() RETURNS trigger AS $$
BEGIN
    IF TG_OP = 'DELETE' THEN
        RAISE EXCEPTION 'ledger entries cannot be deleted';
    END IF;
    IF NEW.item_id <> OLD.item_id OR NEW.kind <> OLD.kind OR NEW.quantity <> OLD.quantity
        OR NEW.from_room_id IS DISTINCT FROM OLD.from_room_id
        OR NEW.to_room_id IS DISTINCT FROM OLD.to_room_id
        OR NEW.actor_id <> OLD.actor_id OR NEW.created_at <> OLD.created_at THEN
        RAISE EXCEPTION 'only occurred_at, note and reference of a ledger entry can change';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_transactions_append_only ON transactions;
CREATE TRIGGER trg_transactions_append_only
    BEFORE UPDATE OR DELETE ON transactions
    FOR EACH ROW EXECUTE FUNCTION transactions_append_only();

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates all tables if they don't exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
