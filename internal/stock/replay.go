package stock

import (
	"context"
	"fmt"

	"github.com/erazemk/sobe/internal/model"
)

// Position is an item's quantity and room as derived from its ledger.
type Position struct {
	Quantity int    `json:"quantity"`
	RoomID   *int64 `json:"room_id,omitempty"`
}

// Replay folds a ledger, in insertion order, into the position it produces
// starting from an empty unassigned item.
func Replay(txs []model.Transaction) (Position, error) {
	var p Position
	for _, t := range txs {
		switch t.Kind {
		case model.KindIn:
			if t.ToRoomID == nil {
				return p, fmt.Errorf("transaction %d: stock-in without destination room", t.ID)
			}
			p.Quantity += t.Quantity
			p.RoomID = ptr(*t.ToRoomID)
		case model.KindOut:
			p.Quantity -= t.Quantity
		case model.KindTransfer:
			if t.ToRoomID == nil {
				return p, fmt.Errorf("transaction %d: transfer without destination room", t.ID)
			}
			p.RoomID = ptr(*t.ToRoomID)
		default:
			return p, fmt.Errorf("transaction %d: unknown kind %q", t.ID, t.Kind)
		}
		if p.Quantity < 0 {
			return p, fmt.Errorf("transaction %d: ledger goes negative (%d)", t.ID, p.Quantity)
		}
	}
	return p, nil
}

// Reconciliation compares an item's stored state with its replayed ledger.
type Reconciliation struct {
	ItemID       int64             `json:"item_id"`
	Stored       Position          `json:"stored"`
	StoredStatus model.StockStatus `json:"stored_status"`
	Replayed     Position          `json:"replayed"`
	Transactions int               `json:"transactions"`
	Consistent   bool              `json:"consistent"`
}

// Reconcile replays an item's ledger and reports whether it matches the
// item's stored quantity, room and status. It takes the item lock so no
// movement is applied halfway through the comparison.
func (e *Engine) Reconcile(ctx context.Context, itemID int64) (*Reconciliation, error) {
	release, err := e.locks.acquire(ctx, itemID, e.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	var rec *Reconciliation
	err = e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return fmt.Errorf("reading item: %w", err)
		}
		if item == nil {
			return newError(CodeItemNotFound, "item %d does not exist", itemID)
		}

		txs, err := tx.ListItemTransactions(ctx, itemID)
		if err != nil {
			return fmt.Errorf("reading ledger: %w", err)
		}

		replayed, err := Replay(txs)
		if err != nil {
			return err
		}

		rec = &Reconciliation{
			ItemID:       item.ID,
			Stored:       Position{Quantity: item.Quantity, RoomID: item.RoomID},
			StoredStatus: item.Status,
			Replayed:     replayed,
			Transactions: len(txs),
		}
		rec.Consistent = replayed.Quantity == item.Quantity &&
			sameRoom(replayed.RoomID, item.RoomID) &&
			item.Status == e.classifier.Classify(item.Quantity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func sameRoom(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
