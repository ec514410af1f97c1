package model

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		quantity int
		want     StockStatus
	}{
		{-1, StatusOutOfStock},
		{0, StatusOutOfStock},
		{1, StatusLowStock},
		{3, StatusLowStock},
		{5, StatusLowStock},
		{6, StatusInStock},
		{20, StatusInStock},
	}

	for _, tt := range tests {
		if got := DefaultClassifier.Classify(tt.quantity); got != tt.want {
			t.Errorf("Classify(%d) = %q, want %q", tt.quantity, got, tt.want)
		}
	}
}

func TestClassifyCustomThreshold(t *testing.T) {
	c := Classifier{LowStockThreshold: 10}
	if got := c.Classify(10); got != StatusLowStock {
		t.Errorf("Classify(10) = %q, want low_stock", got)
	}
	if got := c.Classify(11); got != StatusInStock {
		t.Errorf("Classify(11) = %q, want in_stock", got)
	}

	// A zero threshold leaves no room for low stock.
	zero := Classifier{}
	if got := zero.Classify(1); got != StatusInStock {
		t.Errorf("Classify(1) with zero threshold = %q, want in_stock", got)
	}
}

func TestParseStockStatus(t *testing.T) {
	if _, err := ParseStockStatus("in_stock"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseStockStatus("active"); err == nil {
		t.Error("expected error for unknown status")
	}

	var s StockStatus
	if err := json.Unmarshal([]byte(`"sold"`), &s); err == nil {
		t.Error("expected JSON error for unknown status")
	}
}

func TestParseTransactionKind(t *testing.T) {
	for _, k := range []string{"in", "out", "transfer"} {
		if _, err := ParseTransactionKind(k); err != nil {
			t.Errorf("ParseTransactionKind(%q): %v", k, err)
		}
	}
	if _, err := ParseTransactionKind("adjust"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestItemInRoom(t *testing.T) {
	room := int64(3)
	item := Item{RoomID: &room}
	if !item.InRoom(3) {
		t.Error("expected item to be in room 3")
	}
	if item.InRoom(4) {
		t.Error("expected item not to be in room 4")
	}

	var unassigned Item
	if unassigned.InRoom(3) {
		t.Error("unassigned item should not be in any room")
	}
}
