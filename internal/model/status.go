package model

import (
	"encoding/json"
	"fmt"
)

// StockStatus is the classification of an item's quantity.
type StockStatus string

// Stock statuses.
const (
	StatusInStock    StockStatus = "in_stock"
	StatusLowStock   StockStatus = "low_stock"
	StatusOutOfStock StockStatus = "out_of_stock"
)

// DefaultLowStockThreshold is the highest quantity still classified as low stock.
const DefaultLowStockThreshold = 5

// Valid reports whether s is one of the known statuses.
func (s StockStatus) Valid() bool {
	switch s {
	case StatusInStock, StatusLowStock, StatusOutOfStock:
		return true
	}
	return false
}

// ParseStockStatus parses a status as stored in the database or sent by a client.
func ParseStockStatus(s string) (StockStatus, error) {
	st := StockStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown stock status %q", s)
	}
	return st, nil
}

// UnmarshalJSON rejects unknown statuses.
func (s *StockStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStockStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Classifier maps a quantity to a StockStatus.
type Classifier struct {
	LowStockThreshold int
}

// DefaultClassifier uses DefaultLowStockThreshold.
var DefaultClassifier = Classifier{LowStockThreshold: DefaultLowStockThreshold}

// Classify returns OutOfStock for quantity <= 0, LowStock up to and including
// the threshold, and InStock above it.
func (c Classifier) Classify(quantity int) StockStatus {
	switch {
	case quantity <= 0:
		return StatusOutOfStock
	case quantity <= c.LowStockThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}
