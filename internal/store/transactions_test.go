package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/sobe/internal/db"
	"github.com/erazemk/sobe/internal/model"
	"github.com/erazemk/sobe/internal/stock"
)

func TestListTransactionsFiltered(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	f := seed(t, database)
	engine := stock.New(NewLedger(database))

	stockIn(t, database, f, 10, f.r1.ID)
	_, err := engine.ApplyTransfer(ctx, stock.Transfer{
		ItemID: f.item.ID, Quantity: 10, FromRoomID: f.r1.ID, ToRoomID: f.r2.ID, ActorID: f.actor.ID,
	})
	if err != nil {
		t.Fatalf("ApplyTransfer: %v", err)
	}
	_, err = engine.ApplyStockOut(ctx, stock.StockOut{
		ItemID: f.item.ID, Quantity: 4, FromRoomID: f.r2.ID, ActorID: f.actor.ID,
	})
	if err != nil {
		t.Fatalf("ApplyStockOut: %v", err)
	}

	all, _ := ListTransactions(ctx, database, TransactionFilter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(all))
	}
	if all[0].Kind != model.KindOut {
		t.Errorf("expected newest first, got %q", all[0].Kind)
	}
	if all[0].ActorName != "skladiscnik" || all[0].ItemName != "Projektor" {
		t.Errorf("expected joined names, got %+v", all[0])
	}

	byRoom, _ := ListTransactions(ctx, database, TransactionFilter{RoomID: f.r1.ID})
	if len(byRoom) != 2 {
		t.Errorf("expected 2 transactions touching r1, got %d", len(byRoom))
	}

	transfers, _ := ListTransactions(ctx, database, TransactionFilter{Kind: model.KindTransfer})
	if len(transfers) != 1 || transfers[0].FromRoomName != "Klet" || transfers[0].ToRoomName != "Podstrešje" {
		t.Errorf("expected one Klet->Podstrešje transfer, got %+v", transfers)
	}

	limited, _ := ListTransactions(ctx, database, TransactionFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}

	future, _ := ListTransactions(ctx, database, TransactionFilter{From: time.Now().Add(time.Hour)})
	if len(future) != 0 {
		t.Errorf("expected no transactions in the future, got %d", len(future))
	}
}

func TestItemHistoryInApplyOrder(t *testing.T) {
	database := db.NewTestDB(t)
	f := seed(t, database)

	stockIn(t, database, f, 1, f.r1.ID)
	stockIn(t, database, f, 2, f.r2.ID)

	history, err := GetItemHistory(context.Background(), database, f.item.ID)
	if err != nil {
		t.Fatalf("GetItemHistory: %v", err)
	}
	if len(history) != 2 || history[0].Quantity != 1 || history[1].Quantity != 2 {
		t.Errorf("expected history in apply order, got %+v", history)
	}
}

func TestAmendTransactionMetadataOnly(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	f := seed(t, database)
	res := stockIn(t, database, f, 7, f.r1.ID)

	when := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	note := "dobavnica 42"
	amended, err := AmendTransaction(ctx, database, res.Transaction.ID, TransactionAmendment{
		OccurredAt: &when,
		Note:       &note,
	})
	if err != nil {
		t.Fatalf("AmendTransaction: %v", err)
	}
	if !amended.OccurredAt.Equal(when) {
		t.Errorf("expected occurred_at %v, got %v", when, amended.OccurredAt)
	}
	if amended.Note != note {
		t.Errorf("expected note %q, got %q", note, amended.Note)
	}
	if amended.Quantity != 7 || amended.Kind != model.KindIn {
		t.Errorf("amendment changed movement fields: %+v", amended)
	}

	missing, err := AmendTransaction(ctx, database, 999, TransactionAmendment{Note: &note})
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing transaction, got %+v, %v", missing, err)
	}
}
