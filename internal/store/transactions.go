package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/sobe/internal/model"
)

const transactionSelect = `SELECT t.id, t.item_id, t.kind, t.quantity, t.from_room_id, t.to_room_id, t.actor_id,
        t.occurred_at, t.note, t.reference, t.created_at,
        i.name, COALESCE(fr.name, ''), COALESCE(tr.name, ''), COALESCE(u.username, '')
 FROM transactions t
 JOIN items i ON i.id = t.item_id
 LEFT JOIN rooms fr ON fr.id = t.from_room_id
 LEFT JOIN rooms tr ON tr.id = t.to_room_id
 LEFT JOIN users u ON u.id = t.actor_id`

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	t := &model.Transaction{}
	var kind string
	var note, reference sql.NullString
	err := row.Scan(&t.ID, &t.ItemID, &kind, &t.Quantity, &t.FromRoomID, &t.ToRoomID, &t.ActorID,
		&t.OccurredAt, &note, &reference, &t.CreatedAt,
		&t.ItemName, &t.FromRoomName, &t.ToRoomName, &t.ActorName)
	if err != nil {
		return nil, err
	}
	if t.Kind, err = model.ParseTransactionKind(kind); err != nil {
		return nil, err
	}
	t.Note = note.String
	t.Reference = reference.String
	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// GetTransaction returns a ledger entry by ID.
func GetTransaction(ctx context.Context, db *sql.DB, id int64) (*model.Transaction, error) {
	t, err := scanTransaction(db.QueryRowContext(ctx, bind(db, transactionSelect+` WHERE t.id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return t, nil
}

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	ItemID int64
	// RoomID matches entries where the room is the source or the destination.
	RoomID int64
	Kind   model.TransactionKind
	From   time.Time
	To     time.Time
	Limit  int
}

// ListTransactions returns ledger entries, newest first.
func ListTransactions(ctx context.Context, db *sql.DB, f TransactionFilter) ([]model.Transaction, error) {
	query := transactionSelect + ` WHERE 1=1`
	var args []any

	if f.ItemID > 0 {
		query += ` AND t.item_id = ?`
		args = append(args, f.ItemID)
	}
	if f.RoomID > 0 {
		query += ` AND (t.from_room_id = ? OR t.to_room_id = ?)`
		args = append(args, f.RoomID, f.RoomID)
	}
	if f.Kind != "" {
		query += ` AND t.kind = ?`
		args = append(args, string(f.Kind))
	}
	if !f.From.IsZero() {
		query += ` AND t.occurred_at >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND t.occurred_at < ?`
		args = append(args, f.To.UTC())
	}

	query += ` ORDER BY t.occurred_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, bind(db, query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetItemHistory returns an item's ledger in the order it was applied.
func GetItemHistory(ctx context.Context, db *sql.DB, itemID int64) ([]model.Transaction, error) {
	rows, err := db.QueryContext(ctx, bind(db, transactionSelect+` WHERE t.item_id = ? ORDER BY t.id`), itemID)
	if err != nil {
		return nil, fmt.Errorf("getting item history: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// TransactionAmendment holds the metadata of a ledger entry that may change
// after it was applied. Nil fields are left as they are.
type TransactionAmendment struct {
	OccurredAt *time.Time
	Note       *string
	Reference  *string
}

// AmendTransaction updates a ledger entry's metadata. Quantity, kind, rooms
// and actor cannot be amended; a correction is a new movement.
func AmendTransaction(ctx context.Context, db *sql.DB, id int64, a TransactionAmendment) (*model.Transaction, error) {
	current, err := GetTransaction(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	occurredAt := current.OccurredAt
	if a.OccurredAt != nil {
		occurredAt = *a.OccurredAt
	}
	note := current.Note
	if a.Note != nil {
		note = *a.Note
	}
	reference := current.Reference
	if a.Reference != nil {
		reference = *a.Reference
	}

	_, err = db.ExecContext(ctx,
		bind(db, `UPDATE transactions SET occurred_at = ?, note = ?, reference = ? WHERE id = ?`),
		occurredAt.UTC(), nullString(note), nullString(reference), id,
	)
	if err != nil {
		return nil, fmt.Errorf("amending transaction: %w", err)
	}

	return GetTransaction(ctx, db, id)
}
