package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
)

// fixture seeds an actor, two active rooms and one item.
type fixture struct {
	actor *model.User
	r1    *model.Room
	r2    *model.Room
	item  *model.Item
}

func seed(t *testing.T, database *sql.DB) fixture {
	t.Helper()
	ctx := context.Background()

	actor, err := CreateUser(ctx, database, "skladiscnik", "hash", model.RoleManager)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	r1, err := CreateRoom(ctx, database, "Klet", "Stavba A")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	r2, err := CreateRoom(ctx, database, "Podstrešje", "Stavba B")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	item, err := CreateItem(ctx, database, ItemFields{Name: "Projektor"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return fixture{actor: actor, r1: r1, r2: r2, item: item}
}

func stockIn(t *testing.T, database *sql.DB, f fixture, qty int, room int64) *stock.Result {
	t.Helper()
	res, err := stock.New(NewLedger(database)).ApplyStockIn(context.Background(), stock.StockIn{
		ItemID: f.item.ID, Quantity: qty, ToRoomID: room, ActorID: f.actor.ID,
	})
	if err != nil {
		t.Fatalf("ApplyStockIn: %v", err)
	}
	return res
}
