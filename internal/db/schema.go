package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'manager', 'user')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS rooms (
    id         INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    location   TEXT NOT NULL DEFAULT '',
    active     INTEGER NOT NULL DEFAULT 1 CHECK (active IN (0, 1)),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS categories (
    id         INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS items (
    id          INTEGER PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT,
    category_id INTEGER REFERENCES categories(id),
    room_id     INTEGER REFERENCES rooms(id),
    quantity    INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    status      TEXT NOT NULL DEFAULT 'out_of_stock' CHECK (status IN ('in_stock', 'low_stock', 'out_of_stock')),
    price       TEXT NOT NULL DEFAULT '0',
    version     INTEGER NOT NULL DEFAULT 1,
    image       BLOB,
    image_mime  TEXT,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_items_room ON items(room_id);
CREATE INDEX IF NOT EXISTS idx_items_category ON items(category_id);

CREATE TABLE IF NOT EXISTS transactions (
    id           INTEGER PRIMARY KEY,
    item_id      INTEGER NOT NULL REFERENCES items(id),
    kind         TEXT NOT NULL CHECK (kind IN ('in', 'out', 'transfer')),
    quantity     INTEGER NOT NULL CHECK (quantity > 0),
    from_room_id INTEGER REFERENCES rooms(id),
    to_room_id   INTEGER REFERENCES rooms(id),
    actor_id     INTEGER NOT NULL REFERENCES users(id),
    occurred_at  DATETIME NOT NULL,
    note         TEXT,
    reference    TEXT,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (
        (kind = 'in' AND from_room_id IS NULL AND to_room_id IS NOT NULL) OR
        (kind = 'out' AND from_room_id IS NOT NULL AND to_room_id IS NULL) OR
        (kind = 'transfer' AND from_room_id IS NOT NULL AND to_room_id IS NOT NULL AND from_room_id <> to_room_id)
    )
);

CREATE INDEX IF NOT EXISTS idx_transactions_item ON transactions(item_id, id);
CREATE INDEX IF NOT EXISTS idx_transactions_occurred ON transactions(occurred_at);

-- Ledger rows are never deleted, and the columns that drove an applied
-- movement are never rewritten.
CREATE TRIGGER IF NOT EXISTS trg_transactions_no_delete
BEFORE DELETE ON transactions
BEGIN
    SELECT RAISE(ABORT, 'transactions are append-only');
END;

CREATE TRIGGER IF NOT EXISTS trg_transactions_immutable
BEFORE UPDATE OF item_id, kind, quantity, from_room_id, to_room_id, actor_id, created_at ON transactions
BEGIN
    SELECT RAISE(ABORT, 'transaction movement fields are immutable');
END;

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables, indexes and triggers if they don't already
// exist, then applies pending migrations.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return Migrate(db)
}
