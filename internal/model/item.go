package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a trackable inventory unit. Quantity, RoomID and Status are only
// ever changed by the stock movement engine.
type Item struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CategoryID  *int64          `json:"category_id,omitempty"`
	RoomID      *int64          `json:"room_id,omitempty"`
	Quantity    int             `json:"quantity"`
	Status      StockStatus     `json:"status"`
	Price       decimal.Decimal `json:"price"`
	Version     int64           `json:"-"`
	ImageMime   string          `json:"image_mime,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`

	// Joined fields (not always populated).
	CategoryName string `json:"category_name,omitempty"`
	RoomName     string `json:"room_name,omitempty"`
}

// InRoom reports whether the item currently sits in the given room.
func (i *Item) InRoom(roomID int64) bool {
	return i.RoomID != nil && *i.RoomID == roomID
}
