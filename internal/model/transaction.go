package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionKind is the kind of stock movement a ledger entry records.
type TransactionKind string

// Transaction kinds.
const (
	KindIn       TransactionKind = "in"
	KindOut      TransactionKind = "out"
	KindTransfer TransactionKind = "transfer"
)

// Valid reports whether k is one of the known kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindIn, KindOut, KindTransfer:
		return true
	}
	return false
}

// ParseTransactionKind parses a kind as stored in the database.
func ParseTransactionKind(s string) (TransactionKind, error) {
	k := TransactionKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown transaction kind %q", s)
	}
	return k, nil
}

// UnmarshalJSON rejects unknown kinds.
func (k *TransactionKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTransactionKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Transaction is an immutable ledger entry for one applied movement.
// Only OccurredAt, Note and Reference may be amended after creation.
type Transaction struct {
	ID         int64           `json:"id"`
	ItemID     int64           `json:"item_id"`
	Kind       TransactionKind `json:"kind"`
	Quantity   int             `json:"quantity"`
	FromRoomID *int64          `json:"from_room_id,omitempty"`
	ToRoomID   *int64          `json:"to_room_id,omitempty"`
	ActorID    int64           `json:"actor_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Note       string          `json:"note,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`

	// Joined fields (not always populated).
	ItemName     string `json:"item_name,omitempty"`
	FromRoomName string `json:"from_room_name,omitempty"`
	ToRoomName   string `json:"to_room_name,omitempty"`
	ActorName    string `json:"actor_name,omitempty"`
}
