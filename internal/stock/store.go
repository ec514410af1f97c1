package stock

import (
	"context"

	"github.com/erazemk/sobe/internal/model"
)

// Store gives the engine atomic access to the Item Store, the Room Directory
// and the Ledger.
type Store interface {
	// WithTx executes fn within one atomic unit of work. If fn returns an
	// error everything fn wrote is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of storage available inside a unit of work.
type Tx interface {
	// GetItemForUpdate returns the item with a read that stays valid until
	// the unit of work ends. Returns nil, nil if the item does not exist or
	// has been deleted.
	GetItemForUpdate(ctx context.Context, id int64) (*model.Item, error)

	// GetRoom returns a room. Returns nil, nil if the room does not exist or
	// has been deleted.
	GetRoom(ctx context.Context, id int64) (*model.Room, error)

	// SaveItem writes the item's quantity, room and status. It must fail
	// with ErrConflict if the stored version no longer equals item.Version,
	// and it increments item.Version on success.
	SaveItem(ctx context.Context, item *model.Item) error

	// AppendTransaction inserts a ledger entry and sets its ID and CreatedAt.
	AppendTransaction(ctx context.Context, t *model.Transaction) error

	// ListItemTransactions returns an item's ledger in insertion order.
	ListItemTransactions(ctx context.Context, itemID int64) ([]model.Transaction, error)
}
