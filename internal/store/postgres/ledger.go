package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
)

// PostgreSQL error codes the ledger maps to concurrency failures.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// DefaultLockTimeout bounds how long a movement waits for another process's
// row lock on the same item.
const DefaultLockTimeout = 2 * time.Second

// Ledger is the PostgreSQL implementation of stock.Store. Items are locked
// with SELECT ... FOR UPDATE, so movements from separate processes on the
// same item are serialized by the database.
type Ledger struct {
	Pool        *pgxpool.Pool
	LockTimeout time.Duration
}

// NewLedger returns a stock.Store backed by pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{Pool: pool, LockTimeout: DefaultLockTimeout}
}

// WithTx runs fn inside a database transaction with a local lock_timeout.
func (l *Ledger) WithTx(ctx context.Context, fn func(ctx context.Context, tx stock.Tx) error) error {
	tx, err := l.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if l.LockTimeout > 0 {
		// SET does not take parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setting lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &ledgerTx{tx: tx}); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// classify turns lock and serialization failures into stock errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable:
		return &stock.Error{Code: stock.CodeBusy, Message: "item row is locked"}
	case codeSerializationFailure, codeDeadlockDetected:
		return &stock.Error{Code: stock.CodeConflict, Message: pgErr.Message}
	}
	return err
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) GetItemForUpdate(ctx context.Context, id int64) (*model.Item, error) {
	item := &model.Item{}
	var description, imageMime *string
	var status, price string
	err := t.tx.QueryRow(ctx,
		`SELECT i.id, i.name, i.description, i.category_id, i.room_id, i.quantity, i.status,
		        i.price::text, i.version, i.image_mime, i.created_at, i.updated_at,
		        COALESCE(c.name, ''), COALESCE(r.name, '')
		 FROM items i
		 LEFT JOIN categories c ON c.id = i.category_id
		 LEFT JOIN rooms r ON r.id = i.room_id
		 WHERE i.id = $1 AND i.deleted_at IS NULL
		 FOR UPDATE OF i`, id,
	).Scan(&item.ID, &item.Name, &description, &item.CategoryID, &item.RoomID, &item.Quantity, &status,
		&price, &item.Version, &imageMime, &item.CreatedAt, &item.UpdatedAt,
		&item.CategoryName, &item.RoomName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	if description != nil {
		item.Description = *description
	}
	if imageMime != nil {
		item.ImageMime = *imageMime
	}
	if item.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parsing item price: %w", err)
	}
	if item.Status, err = model.ParseStockStatus(status); err != nil {
		return nil, err
	}
	return item, nil
}

func (t *ledgerTx) GetRoom(ctx context.Context, id int64) (*model.Room, error) {
	r := &model.Room{}
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, location, active, created_at, updated_at
		 FROM rooms WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&r.ID, &r.Name, &r.Location, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting room: %w", err)
	}
	return r, nil
}

func (t *ledgerTx) SaveItem(ctx context.Context, item *model.Item) error {
	var updatedAt time.Time
	err := t.tx.QueryRow(ctx,
		`UPDATE items SET quantity = $1, room_id = $2, status = $3, version = version + 1, updated_at = now()
		 WHERE id = $4 AND version = $5 AND deleted_at IS NULL
		 RETURNING updated_at`,
		item.Quantity, item.RoomID, string(item.Status), item.ID, item.Version,
	).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &stock.Error{
			Code:    stock.CodeConflict,
			Message: fmt.Sprintf("item %d changed since version %d", item.ID, item.Version),
		}
	}
	if err != nil {
		return fmt.Errorf("saving item: %w", err)
	}

	item.Version++
	item.UpdatedAt = updatedAt
	return nil
}

func (t *ledgerTx) AppendTransaction(ctx context.Context, tr *model.Transaction) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO transactions (item_id, kind, quantity, from_room_id, to_room_id, actor_id, occurred_at, note, reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		 RETURNING id, created_at`,
		tr.ItemID, string(tr.Kind), tr.Quantity, tr.FromRoomID, tr.ToRoomID, tr.ActorID,
		tr.OccurredAt, tr.Note, tr.Reference,
	).Scan(&tr.ID, &tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}

func (t *ledgerTx) ListItemTransactions(ctx context.Context, itemID int64) ([]model.Transaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, item_id, kind, quantity, from_room_id, to_room_id, actor_id,
		        occurred_at, COALESCE(note, ''), COALESCE(reference, ''), created_at
		 FROM transactions WHERE item_id = $1 ORDER BY id`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing item transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tr model.Transaction
		var kind string
		err := rows.Scan(&tr.ID, &tr.ItemID, &kind, &tr.Quantity, &tr.FromRoomID, &tr.ToRoomID, &tr.ActorID,
			&tr.OccurredAt, &tr.Note, &tr.Reference, &tr.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if tr.Kind, err = model.ParseTransactionKind(kind); err != nil {
			return nil, err
		}
		txs = append(txs, tr)
	}
	return txs, rows.Err()
}
