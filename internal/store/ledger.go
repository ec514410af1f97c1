package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
)

// Ledger is the SQLite implementation of stock.Store.
type Ledger struct {
	DB *sql.DB
}

// NewLedger returns a stock.Store backed by db.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{DB: db}
}

// WithTx runs fn inside a database transaction. The database is opened with
// IMMEDIATE transactions, so the write lock is held from the first read.
func (l *Ledger) WithTx(ctx context.Context, fn func(ctx context.Context, tx stock.Tx) error) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return &stock.Error{Code: stock.CodeBusy, Message: "database is locked"}
		}
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return &stock.Error{Code: stock.CodeBusy, Message: "database is locked"}
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) GetItemForUpdate(ctx context.Context, id int64) (*model.Item, error) {
	item, err := scanItem(t.tx.QueryRowContext(ctx,
		itemSelect+` WHERE i.id = ? AND i.deleted_at IS NULL`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

func (t *ledgerTx) GetRoom(ctx context.Context, id int64) (*model.Room, error) {
	room, err := scanRoom(t.tx.QueryRowContext(ctx,
		roomSelect+` WHERE id = ? AND deleted_at IS NULL`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting room: %w", err)
	}
	return room, nil
}

func (t *ledgerTx) SaveItem(ctx context.Context, item *model.Item) error {
	now := time.Now().UTC()
	result, err := t.tx.ExecContext(ctx,
		`UPDATE items SET quantity = ?, room_id = ?, status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		item.Quantity, item.RoomID, string(item.Status), now, item.ID, item.Version,
	)
	if err != nil {
		if isBusy(err) {
			return &stock.Error{Code: stock.CodeBusy, Message: "database is locked"}
		}
		return fmt.Errorf("saving item: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving item: %w", err)
	}
	if n == 0 {
		return &stock.Error{
			Code:    stock.CodeConflict,
			Message: fmt.Sprintf("item %d changed since version %d", item.ID, item.Version),
		}
	}

	item.Version++
	item.UpdatedAt = now
	return nil
}

func (t *ledgerTx) AppendTransaction(ctx context.Context, tr *model.Transaction) error {
	createdAt := time.Now().UTC()
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (item_id, kind, quantity, from_room_id, to_room_id, actor_id, occurred_at, note, reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ItemID, string(tr.Kind), tr.Quantity, tr.FromRoomID, tr.ToRoomID, tr.ActorID,
		tr.OccurredAt.UTC(), nullString(tr.Note), nullString(tr.Reference), createdAt,
	)
	if err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting transaction id: %w", err)
	}
	tr.ID = id
	tr.CreatedAt = createdAt
	return nil
}

func (t *ledgerTx) ListItemTransactions(ctx context.Context, itemID int64) ([]model.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx,
		transactionSelect+` WHERE t.item_id = ? ORDER BY t.id`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing item transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// isBusy reports whether err is SQLite giving up on a lock.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
