package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: look up the ledger by room for the room history view.
	`CREATE INDEX IF NOT EXISTS idx_transactions_from_room ON transactions(from_room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to_room ON transactions(to_room_id)`,
}

// Migrate runs the database schema migrations.
func Migrate(db *sql.DB) error {
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}
