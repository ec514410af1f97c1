package stock_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/sobe/internal/db"
	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
	"github.com/erazemk/sobe/internal/store"
)

type env struct {
	db     *sql.DB
	engine *stock.Engine
	actor  int64
	r1     int64
	r2     int64
	item   int64
}

func newEnv(t *testing.T, opts ...stock.Option) *env {
	t.Helper()
	database := db.NewTestDB(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, database, "vodja", "hash", model.RoleManager)
	require.NoError(t, err)
	r1, err := store.CreateRoom(ctx, database, "R1", "")
	require.NoError(t, err)
	r2, err := store.CreateRoom(ctx, database, "R2", "")
	require.NoError(t, err)
	item, err := store.CreateItem(ctx, database, store.ItemFields{Name: "Stol"})
	require.NoError(t, err)

	return &env{
		db:     database,
		engine: stock.New(store.NewLedger(database), opts...),
		actor:  u.ID,
		r1:     r1.ID,
		r2:     r2.ID,
		item:   item.ID,
	}
}

func (e *env) in(t *testing.T, qty int, room int64) {
	t.Helper()
	_, err := e.engine.ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: e.item, Quantity: qty, ToRoomID: room, ActorID: e.actor,
	})
	require.NoError(t, err)
}

func (e *env) current(t *testing.T) *model.Item {
	t.Helper()
	item, err := store.GetItem(context.Background(), e.db, e.item)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func (e *env) history(t *testing.T) []model.Transaction {
	t.Helper()
	txs, err := store.GetItemHistory(context.Background(), e.db, e.item)
	require.NoError(t, err)
	return txs
}

func TestStockInIntoEmptyItem(t *testing.T) {
	e := newEnv(t)

	res, err := e.engine.ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: e.item, Quantity: 20, ToRoomID: e.r1, ActorID: e.actor, Reference: "PO-7",
	})
	require.NoError(t, err)

	assert.Equal(t, 20, res.Item.Quantity)
	assert.True(t, res.Item.InRoom(e.r1))
	assert.Equal(t, model.StatusInStock, res.Item.Status)

	assert.NotZero(t, res.Transaction.ID)
	assert.Equal(t, model.KindIn, res.Transaction.Kind)
	assert.Equal(t, 20, res.Transaction.Quantity)
	assert.Nil(t, res.Transaction.FromRoomID)
	require.NotNil(t, res.Transaction.ToRoomID)
	assert.Equal(t, e.r1, *res.Transaction.ToRoomID)
	assert.False(t, res.Transaction.OccurredAt.IsZero())

	assert.Equal(t, res.Item.Quantity, e.current(t).Quantity)
	require.Len(t, e.history(t), 1)
	assert.Equal(t, "PO-7", e.history(t)[0].Reference)
}

func TestStockOutToLowStock(t *testing.T) {
	e := newEnv(t)
	e.in(t, 20, e.r1)

	res, err := e.engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: 17, FromRoomID: e.r1, ActorID: e.actor,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Item.Quantity)
	assert.Equal(t, model.StatusLowStock, res.Item.Status)
	assert.Equal(t, model.KindOut, res.Transaction.Kind)
	require.NotNil(t, res.Transaction.FromRoomID)
	assert.Equal(t, e.r1, *res.Transaction.FromRoomID)
	assert.Nil(t, res.Transaction.ToRoomID)
	assert.Len(t, e.history(t), 2)
}

func TestStockOutAllLeavesItemOutOfStock(t *testing.T) {
	e := newEnv(t)
	e.in(t, 4, e.r1)

	res, err := e.engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: 4, FromRoomID: e.r1, ActorID: e.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Item.Quantity)
	assert.Equal(t, model.StatusOutOfStock, res.Item.Status)
	assert.True(t, res.Item.InRoom(e.r1))
}

func TestStockOutFromWrongRoom(t *testing.T) {
	e := newEnv(t)
	e.in(t, 3, e.r1)
	before := e.current(t)

	_, err := e.engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: 3, FromRoomID: e.r2, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrRoomMismatch)
	assert.ErrorIs(t, err, stock.ErrStateConflict)

	after := e.current(t)
	assert.Equal(t, before.Quantity, after.Quantity)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, e.history(t), 1)
}

func TestTransferKeepsQuantity(t *testing.T) {
	e := newEnv(t)
	e.in(t, 3, e.r1)

	res, err := e.engine.ApplyTransfer(context.Background(), stock.Transfer{
		ItemID: e.item, Quantity: 3, FromRoomID: e.r1, ToRoomID: e.r2, ActorID: e.actor,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Item.Quantity)
	assert.True(t, res.Item.InRoom(e.r2))
	assert.Equal(t, model.StatusLowStock, res.Item.Status)
	assert.Equal(t, model.KindTransfer, res.Transaction.Kind)
	assert.Equal(t, e.r1, *res.Transaction.FromRoomID)
	assert.Equal(t, e.r2, *res.Transaction.ToRoomID)
	assert.Equal(t, 3, res.Transaction.Quantity)
}

func TestTransferRecordsPartialQuantity(t *testing.T) {
	e := newEnv(t)
	e.in(t, 10, e.r1)

	res, err := e.engine.ApplyTransfer(context.Background(), stock.Transfer{
		ItemID: e.item, Quantity: 4, FromRoomID: e.r1, ToRoomID: e.r2, ActorID: e.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Item.Quantity)
	assert.True(t, res.Item.InRoom(e.r2))
	assert.Equal(t, 4, res.Transaction.Quantity)
}

func TestStockOutMoreThanOnHand(t *testing.T) {
	e := newEnv(t)
	e.in(t, 5, e.r1)

	_, err := e.engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: 6, FromRoomID: e.r1, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrInsufficientQuantity)
	assert.Equal(t, 5, e.current(t).Quantity)
	assert.Len(t, e.history(t), 1)
}

func TestStockInBeyondCapacity(t *testing.T) {
	e := newEnv(t)
	e.in(t, 10, e.r1)

	_, err := e.engine.ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: e.item, Quantity: stock.MaxQuantity - 5, ToRoomID: e.r1, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
	assert.ErrorIs(t, err, stock.ErrValidation)
	assert.Equal(t, 10, e.current(t).Quantity)
	assert.Len(t, e.history(t), 1)

	res, err := e.engine.ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: e.item, Quantity: stock.MaxQuantity - 10, ToRoomID: e.r1, ActorID: e.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, stock.MaxQuantity, res.Item.Quantity)

	_, err = e.engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: stock.MaxQuantity + 1, FromRoomID: e.r1, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
}

func TestMovementsCarryRoomName(t *testing.T) {
	e := newEnv(t)

	res, err := e.engine.ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: e.item, Quantity: 3, ToRoomID: e.r1, ActorID: e.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, "R1", res.Item.RoomName)

	res, err = e.engine.ApplyTransfer(context.Background(), stock.Transfer{
		ItemID: e.item, Quantity: 3, FromRoomID: e.r1, ToRoomID: e.r2, ActorID: e.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, "R2", res.Item.RoomName)
}

func TestTransferMoreThanOnHand(t *testing.T) {
	e := newEnv(t)
	e.in(t, 2, e.r1)

	_, err := e.engine.ApplyTransfer(context.Background(), stock.Transfer{
		ItemID: e.item, Quantity: 3, FromRoomID: e.r1, ToRoomID: e.r2, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrInsufficientQuantity)
	assert.True(t, e.current(t).InRoom(e.r1))
}

func TestStockOutOfUnassignedItem(t *testing.T) {
	e := newEnv(t)

	_, err := e.engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: 1, FromRoomID: e.r1, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrRoomMismatch)
}

func TestMissingReferences(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.engine.ApplyStockIn(ctx, stock.StockIn{ItemID: 999, Quantity: 1, ToRoomID: e.r1, ActorID: e.actor})
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
	assert.True(t, stock.IsNotFound(err))

	_, err = e.engine.ApplyStockIn(ctx, stock.StockIn{ItemID: e.item, Quantity: 1, ToRoomID: 999, ActorID: e.actor})
	assert.ErrorIs(t, err, stock.ErrRoomNotFound)

	_, err = e.engine.ApplyStockIn(ctx, stock.StockIn{ItemID: 0, Quantity: 1, ToRoomID: e.r1, ActorID: e.actor})
	assert.ErrorIs(t, err, stock.ErrItemNotFound)

	require.NoError(t, store.DeleteItem(ctx, e.db, e.item))
	_, err = e.engine.ApplyStockIn(ctx, stock.StockIn{ItemID: e.item, Quantity: 1, ToRoomID: e.r1, ActorID: e.actor})
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
}

func TestInactiveRooms(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.in(t, 5, e.r1)

	require.NoError(t, store.UpdateRoom(ctx, e.db, e.r2, "R2", "", false))

	_, err := e.engine.ApplyStockIn(ctx, stock.StockIn{ItemID: e.item, Quantity: 1, ToRoomID: e.r2, ActorID: e.actor})
	assert.ErrorIs(t, err, stock.ErrRoomInactive)

	_, err = e.engine.ApplyTransfer(ctx, stock.Transfer{
		ItemID: e.item, Quantity: 5, FromRoomID: e.r1, ToRoomID: e.r2, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrDestinationRoomInactive)

	require.NoError(t, store.UpdateRoom(ctx, e.db, e.r1, "R1", "", false))
	_, err = e.engine.ApplyStockOut(ctx, stock.StockOut{ItemID: e.item, Quantity: 1, FromRoomID: e.r1, ActorID: e.actor})
	assert.ErrorIs(t, err, stock.ErrRoomInactive)

	assert.Equal(t, 5, e.current(t).Quantity)
	assert.Len(t, e.history(t), 1)
}

// countingStore fails the test if the engine opens a unit of work.
type countingStore struct {
	t     *testing.T
	calls int
}

func (s *countingStore) WithTx(context.Context, func(context.Context, stock.Tx) error) error {
	s.calls++
	s.t.Error("storage touched by an invalid request")
	return nil
}

func TestValidationNeverTouchesStorage(t *testing.T) {
	s := &countingStore{t: t}
	engine := stock.New(s)
	ctx := context.Background()

	tests := []struct {
		name  string
		apply func() error
		want  error
	}{
		{"zero quantity", func() error {
			_, err := engine.ApplyStockIn(ctx, stock.StockIn{ItemID: 1, Quantity: 0, ToRoomID: 1, ActorID: 1})
			return err
		}, stock.ErrInvalidQuantity},
		{"negative quantity", func() error {
			_, err := engine.ApplyStockOut(ctx, stock.StockOut{ItemID: 1, Quantity: -2, FromRoomID: 1, ActorID: 1})
			return err
		}, stock.ErrInvalidQuantity},
		{"missing actor", func() error {
			_, err := engine.ApplyStockIn(ctx, stock.StockIn{ItemID: 1, Quantity: 1, ToRoomID: 1})
			return err
		}, stock.ErrMissingActor},
		{"missing destination", func() error {
			_, err := engine.ApplyStockIn(ctx, stock.StockIn{ItemID: 1, Quantity: 1, ActorID: 1})
			return err
		}, stock.ErrMissingRoom},
		{"missing source", func() error {
			_, err := engine.ApplyStockOut(ctx, stock.StockOut{ItemID: 1, Quantity: 1, ActorID: 1})
			return err
		}, stock.ErrMissingRoom},
		{"same room transfer", func() error {
			_, err := engine.ApplyTransfer(ctx, stock.Transfer{ItemID: 1, Quantity: 1, FromRoomID: 2, ToRoomID: 2, ActorID: 1})
			return err
		}, stock.ErrSameRoomTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.apply()
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, stock.ErrValidation)
			assert.True(t, stock.IsClientError(err))
		})
	}
	assert.Zero(t, s.calls)
}

func TestConcurrentStockOutsDoNotOversell(t *testing.T) {
	e := newEnv(t)
	e.in(t, 10, e.r1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.engine.ApplyStockOut(context.Background(), stock.StockOut{
				ItemID: e.item, Quantity: 6, FromRoomID: e.r1, ActorID: e.actor,
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, stock.ErrInsufficientQuantity):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 4, e.current(t).Quantity)
	assert.Len(t, e.history(t), 2)
}

func TestConcurrentStockInsAllApply(t *testing.T) {
	e := newEnv(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.engine.ApplyStockIn(context.Background(), stock.StockIn{
				ItemID: e.item, Quantity: 1, ToRoomID: e.r1, ActorID: e.actor,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, e.current(t).Quantity)
	assert.Len(t, e.history(t), 8)
}

// blockingStore holds the first unit of work open until released.
type blockingStore struct {
	stock.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) WithTx(ctx context.Context, fn func(context.Context, stock.Tx) error) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.WithTx(ctx, fn)
}

func TestLockTimeoutIsBusy(t *testing.T) {
	e := newEnv(t)
	e.in(t, 5, e.r1)

	bs := &blockingStore{
		Store:   store.NewLedger(e.db),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	engine := stock.New(bs, stock.WithLockWait(50*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := engine.ApplyStockOut(context.Background(), stock.StockOut{
			ItemID: e.item, Quantity: 1, FromRoomID: e.r1, ActorID: e.actor,
		})
		done <- err
	}()
	<-bs.entered

	_, err := engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: 1, FromRoomID: e.r1, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, stock.ErrBusy)
	assert.True(t, stock.IsRetryable(err))
	assert.Equal(t, stock.CodeBusy, stock.CodeOf(err))

	close(bs.release)
	require.NoError(t, <-done)
	assert.Equal(t, 4, e.current(t).Quantity)
}

func TestCancelledBeforeApply(t *testing.T) {
	e := newEnv(t)
	e.in(t, 5, e.r1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.engine.ApplyStockOut(ctx, stock.StockOut{
		ItemID: e.item, Quantity: 1, FromRoomID: e.r1, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, e.current(t).Quantity)
	assert.Len(t, e.history(t), 1)
}

// failingStore wraps a store so that appending a ledger entry fails after
// the item has already been saved.
type failingStore struct {
	stock.Store
	err error
}

func (s *failingStore) WithTx(ctx context.Context, fn func(context.Context, stock.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx stock.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, err: s.err})
	})
}

type failingTx struct {
	stock.Tx
	err error
}

func (t *failingTx) AppendTransaction(context.Context, *model.Transaction) error {
	return t.err
}

func TestFailedAppendRollsBackItem(t *testing.T) {
	e := newEnv(t)
	e.in(t, 5, e.r1)
	before := e.current(t)

	diskFull := errors.New("disk full")
	engine := stock.New(&failingStore{Store: store.NewLedger(e.db), err: diskFull})

	_, err := engine.ApplyStockOut(context.Background(), stock.StockOut{
		ItemID: e.item, Quantity: 2, FromRoomID: e.r1, ActorID: e.actor,
	})
	assert.ErrorIs(t, err, diskFull)

	after := e.current(t)
	assert.Equal(t, before.Quantity, after.Quantity)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Status, after.Status)
	assert.Len(t, e.history(t), 1)
}

func TestStatusAlwaysMatchesQuantity(t *testing.T) {
	e := newEnv(t, stock.WithClassifier(model.Classifier{LowStockThreshold: 2}))
	ctx := context.Background()
	classify := e.engine.Classifier().Classify

	steps := []func() (*stock.Result, error){
		func() (*stock.Result, error) {
			return e.engine.ApplyStockIn(ctx, stock.StockIn{ItemID: e.item, Quantity: 4, ToRoomID: e.r1, ActorID: e.actor})
		},
		func() (*stock.Result, error) {
			return e.engine.ApplyStockOut(ctx, stock.StockOut{ItemID: e.item, Quantity: 2, FromRoomID: e.r1, ActorID: e.actor})
		},
		func() (*stock.Result, error) {
			return e.engine.ApplyTransfer(ctx, stock.Transfer{ItemID: e.item, Quantity: 1, FromRoomID: e.r1, ToRoomID: e.r2, ActorID: e.actor})
		},
		func() (*stock.Result, error) {
			return e.engine.ApplyStockOut(ctx, stock.StockOut{ItemID: e.item, Quantity: 2, FromRoomID: e.r2, ActorID: e.actor})
		},
	}
	want := []model.StockStatus{model.StatusInStock, model.StatusLowStock, model.StatusLowStock, model.StatusOutOfStock}

	for i, step := range steps {
		res, err := step()
		require.NoError(t, err)
		assert.Equal(t, want[i], res.Item.Status)

		stored := e.current(t)
		assert.Equal(t, classify(stored.Quantity), stored.Status)
	}
}

func TestExplicitOccurredAtIsKept(t *testing.T) {
	fixed := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	e := newEnv(t, stock.WithClock(func() time.Time { return fixed }))
	backdated := time.Date(2025, 12, 31, 16, 0, 0, 0, time.UTC)

	res, err := e.engine.ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: e.item, Quantity: 1, ToRoomID: e.r1, ActorID: e.actor, OccurredAt: backdated,
	})
	require.NoError(t, err)
	assert.True(t, res.Transaction.OccurredAt.Equal(backdated))

	res, err = e.engine.ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: e.item, Quantity: 1, ToRoomID: e.r1, ActorID: e.actor,
	})
	require.NoError(t, err)
	assert.True(t, res.Transaction.OccurredAt.Equal(fixed))
}

func TestReconcile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.in(t, 9, e.r1)
	_, err := e.engine.ApplyTransfer(ctx, stock.Transfer{
		ItemID: e.item, Quantity: 9, FromRoomID: e.r1, ToRoomID: e.r2, ActorID: e.actor,
	})
	require.NoError(t, err)
	_, err = e.engine.ApplyStockOut(ctx, stock.StockOut{
		ItemID: e.item, Quantity: 2, FromRoomID: e.r2, ActorID: e.actor,
	})
	require.NoError(t, err)

	rec, err := e.engine.Reconcile(ctx, e.item)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 3, rec.Transactions)
	assert.Equal(t, 7, rec.Replayed.Quantity)
	require.NotNil(t, rec.Replayed.RoomID)
	assert.Equal(t, e.r2, *rec.Replayed.RoomID)

	_, err = e.db.Exec(`UPDATE items SET quantity = 70 WHERE id = ?`, e.item)
	require.NoError(t, err)

	rec, err = e.engine.Reconcile(ctx, e.item)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, 70, rec.Stored.Quantity)
	assert.Equal(t, 7, rec.Replayed.Quantity)

	_, err = e.engine.Reconcile(ctx, 999)
	assert.ErrorIs(t, err, stock.ErrItemNotFound)
}
