// Package stock applies stock movements to items.
//
// Every movement follows the same commit protocol: lock the item, read it,
// validate the request against what was read, compute the new item state and
// its ledger entry, then write both in one unit of work. Either both persist
// or neither does.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/erazemk/sobe/internal/model"
)

// MaxQuantity is the most units one item can hold. It matches the range of
// the quantity column in both databases.
const MaxQuantity = math.MaxInt32

// DefaultLockWait bounds how long a movement waits for another movement on
// the same item to finish.
const DefaultLockWait = 2 * time.Second

// Engine validates and applies stock movements.
type Engine struct {
	store      Store
	classifier model.Classifier
	lockWait   time.Duration
	now        func() time.Time
	locks      *itemLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier sets the classifier used to derive item status.
func WithClassifier(c model.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithLockWait sets the bounded wait for the per-item lock.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) { e.lockWait = d }
}

// WithClock sets the clock used for movements without an explicit time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine on top of store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		classifier: model.DefaultClassifier,
		lockWait:   DefaultLockWait,
		now:        time.Now,
		locks:      newItemLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classifier returns the classifier the engine derives status with.
func (e *Engine) Classifier() model.Classifier {
	return e.classifier
}

// StockIn receives quantity into a room. The item moves to that room.
type StockIn struct {
	ItemID     int64
	Quantity   int
	ToRoomID   int64
	ActorID    int64
	OccurredAt time.Time
	Note       string
	Reference  string
}

// StockOut removes quantity from the room the item is in.
type StockOut struct {
	ItemID     int64
	Quantity   int
	FromRoomID int64
	ActorID    int64
	OccurredAt time.Time
	Note       string
	Reference  string
}

// Transfer relocates an item between rooms.
//
// An item occupies exactly one room, so a transfer of any quantity moves the
// whole item. Quantity is recorded on the ledger entry as requested but
// never changes the item's total, and it is still checked against what is on
// hand.
type Transfer struct {
	ItemID     int64
	Quantity   int
	FromRoomID int64
	ToRoomID   int64
	ActorID    int64
	OccurredAt time.Time
	Note       string
	Reference  string
}

// Result is a committed movement.
type Result struct {
	Item        model.Item        `json:"item"`
	Transaction model.Transaction `json:"transaction"`
}

// ApplyStockIn adds quantity to an item and sets its room to the destination.
func (e *Engine) ApplyStockIn(ctx context.Context, in StockIn) (*Result, error) {
	if err := validateQuantity(in.Quantity); err != nil {
		return nil, err
	}
	if err := validateActor(in.ActorID); err != nil {
		return nil, err
	}
	if in.ToRoomID <= 0 {
		return nil, newError(CodeMissingRoom, "destination room is required")
	}

	return e.apply(ctx, in.ItemID, func(ctx context.Context, tx Tx, item *model.Item) (*model.Transaction, error) {
		room, err := e.activeRoom(ctx, tx, in.ToRoomID, CodeRoomInactive)
		if err != nil {
			return nil, err
		}
		if item.Quantity > MaxQuantity-in.Quantity {
			return nil, newError(CodeInvalidQuantity, "item %d would exceed %d units", item.ID, MaxQuantity)
		}

		item.Quantity += in.Quantity
		item.RoomID = ptr(in.ToRoomID)
		item.RoomName = room.Name

		return &model.Transaction{
			Kind:       model.KindIn,
			Quantity:   in.Quantity,
			ToRoomID:   ptr(in.ToRoomID),
			ActorID:    in.ActorID,
			OccurredAt: in.OccurredAt,
			Note:       in.Note,
			Reference:  in.Reference,
		}, nil
	})
}

// ApplyStockOut removes quantity from an item that must be in the source room.
func (e *Engine) ApplyStockOut(ctx context.Context, out StockOut) (*Result, error) {
	if err := validateQuantity(out.Quantity); err != nil {
		return nil, err
	}
	if err := validateActor(out.ActorID); err != nil {
		return nil, err
	}
	if out.FromRoomID <= 0 {
		return nil, newError(CodeMissingRoom, "source room is required")
	}

	return e.apply(ctx, out.ItemID, func(ctx context.Context, tx Tx, item *model.Item) (*model.Transaction, error) {
		if err := e.checkSource(ctx, tx, item, out.FromRoomID, out.Quantity); err != nil {
			return nil, err
		}

		item.Quantity -= out.Quantity

		return &model.Transaction{
			Kind:       model.KindOut,
			Quantity:   out.Quantity,
			FromRoomID: ptr(out.FromRoomID),
			ActorID:    out.ActorID,
			OccurredAt: out.OccurredAt,
			Note:       out.Note,
			Reference:  out.Reference,
		}, nil
	})
}

// ApplyTransfer moves an item from the source room to the destination room.
// The item's quantity is unchanged.
func (e *Engine) ApplyTransfer(ctx context.Context, t Transfer) (*Result, error) {
	if err := validateQuantity(t.Quantity); err != nil {
		return nil, err
	}
	if err := validateActor(t.ActorID); err != nil {
		return nil, err
	}
	if t.FromRoomID <= 0 || t.ToRoomID <= 0 {
		return nil, newError(CodeMissingRoom, "source and destination rooms are required")
	}
	if t.FromRoomID == t.ToRoomID {
		return nil, newError(CodeSameRoomTransfer, "source and destination are both room %d", t.FromRoomID)
	}

	return e.apply(ctx, t.ItemID, func(ctx context.Context, tx Tx, item *model.Item) (*model.Transaction, error) {
		if err := e.checkSource(ctx, tx, item, t.FromRoomID, t.Quantity); err != nil {
			return nil, err
		}
		room, err := e.activeRoom(ctx, tx, t.ToRoomID, CodeDestinationRoomInactive)
		if err != nil {
			return nil, err
		}

		item.RoomID = ptr(t.ToRoomID)
		item.RoomName = room.Name

		return &model.Transaction{
			Kind:       model.KindTransfer,
			Quantity:   t.Quantity,
			FromRoomID: ptr(t.FromRoomID),
			ToRoomID:   ptr(t.ToRoomID),
			ActorID:    t.ActorID,
			OccurredAt: t.OccurredAt,
			Note:       t.Note,
			Reference:  t.Reference,
		}, nil
	})
}

// mutation validates a movement against the locked item, changes the item in
// place and returns the ledger entry to append. It must not write.
type mutation func(ctx context.Context, tx Tx, item *model.Item) (*model.Transaction, error)

// apply runs the shared commit protocol for one item.
func (e *Engine) apply(ctx context.Context, itemID int64, mutate mutation) (*Result, error) {
	if itemID <= 0 {
		return nil, newError(CodeItemNotFound, "item %d does not exist", itemID)
	}

	release, err := e.locks.acquire(ctx, itemID, e.lockWait)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			slog.Warn("stock movement lock timeout", "item_id", itemID, "wait", e.lockWait)
		}
		return nil, err
	}
	defer release()

	// Once the unit of work starts it runs to completion; the caller's
	// context is only consulted before the first write.
	var res Result
	err = e.store.WithTx(context.WithoutCancel(ctx), func(txCtx context.Context, tx Tx) error {
		item, err := tx.GetItemForUpdate(txCtx, itemID)
		if err != nil {
			return fmt.Errorf("reading item: %w", err)
		}
		if item == nil {
			return newError(CodeItemNotFound, "item %d does not exist", itemID)
		}

		entry, err := mutate(txCtx, tx, item)
		if err != nil {
			return err
		}
		if item.Quantity < 0 {
			return fmt.Errorf("movement would leave item %d with quantity %d", itemID, item.Quantity)
		}
		item.Status = e.classifier.Classify(item.Quantity)

		entry.ItemID = item.ID
		if entry.OccurredAt.IsZero() {
			entry.OccurredAt = e.now()
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := tx.SaveItem(txCtx, item); err != nil {
			return err
		}
		if err := tx.AppendTransaction(txCtx, entry); err != nil {
			return fmt.Errorf("appending transaction: %w", err)
		}

		res.Item = *item
		res.Transaction = *entry
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			slog.Warn("stock movement version conflict", "item_id", itemID)
		}
		return nil, err
	}

	return &res, nil
}

// checkSource validates the source side of a stock-out or transfer.
func (e *Engine) checkSource(ctx context.Context, tx Tx, item *model.Item, roomID int64, quantity int) error {
	if _, err := e.activeRoom(ctx, tx, roomID, CodeRoomInactive); err != nil {
		return err
	}
	if !item.InRoom(roomID) {
		return newError(CodeRoomMismatch, "item %d is not in room %d", item.ID, roomID)
	}
	if item.Quantity < quantity {
		return newError(CodeInsufficientQuantity, "have %d, need %d", item.Quantity, quantity)
	}
	return nil
}

// activeRoom loads a room and requires it to be active. inactive is the code
// reported when it is not.
func (e *Engine) activeRoom(ctx context.Context, tx Tx, roomID int64, inactive Code) (*model.Room, error) {
	room, err := tx.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("reading room: %w", err)
	}
	if room == nil {
		return nil, newError(CodeRoomNotFound, "room %d does not exist", roomID)
	}
	if !room.Active {
		return nil, newError(inactive, "room %d is inactive", roomID)
	}
	return room, nil
}

func validateQuantity(q int) error {
	if q <= 0 {
		return newError(CodeInvalidQuantity, "quantity must be positive, got %d", q)
	}
	if q > MaxQuantity {
		return newError(CodeInvalidQuantity, "quantity must not exceed %d, got %d", MaxQuantity, q)
	}
	return nil
}

func validateActor(actorID int64) error {
	if actorID <= 0 {
		return newError(CodeMissingActor, "actor is required")
	}
	return nil
}

func ptr(v int64) *int64 {
	return &v
}
