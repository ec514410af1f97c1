package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/erazemk/sobe/internal/model"
)

const itemSelect = `SELECT i.id, i.name, i.description, i.category_id, i.room_id, i.quantity, i.status,
        CAST(i.price AS TEXT), i.version, i.image_mime, i.created_at, i.updated_at, i.deleted_at,
        COALESCE(c.name, ''), COALESCE(r.name, '')
 FROM items i
 LEFT JOIN categories c ON c.id = i.category_id
 LEFT JOIN rooms r ON r.id = i.room_id`

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var description, imageMime sql.NullString
	var status string
	err := row.Scan(&item.ID, &item.Name, &description, &item.CategoryID, &item.RoomID, &item.Quantity, &status,
		&item.Price, &item.Version, &imageMime, &item.CreatedAt, &item.UpdatedAt, &item.DeletedAt,
		&item.CategoryName, &item.RoomName)
	if err != nil {
		return nil, err
	}
	item.Description = description.String
	item.ImageMime = imageMime.String
	if item.Status, err = model.ParseStockStatus(status); err != nil {
		return nil, err
	}
	return item, nil
}

// ItemFields are the administrative attributes of an item. Quantity, room
// and status are not among them: those change only through stock movements.
type ItemFields struct {
	Name        string
	Description string
	CategoryID  *int64
	Price       decimal.Decimal
}

// CreateItem creates a new item with zero quantity, no room and status
// out of stock.
func CreateItem(ctx context.Context, db *sql.DB, f ItemFields) (*model.Item, error) {
	id, err := insertID(ctx, db,
		`INSERT INTO items (name, description, category_id, price, quantity, status) VALUES (?, ?, ?, ?, 0, ?)`,
		f.Name, f.Description, f.CategoryID, f.Price.String(), string(model.StatusOutOfStock),
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID, including soft-deleted items.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	item, err := scanItem(db.QueryRowContext(ctx, bind(db, itemSelect+` WHERE i.id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	Status     model.StockStatus
	RoomID     int64
	CategoryID int64
	Search     string
}

// ListItems returns all non-deleted items matching the filter.
func ListItems(ctx context.Context, db *sql.DB, f ItemFilter) ([]model.Item, error) {
	query := itemSelect + ` WHERE i.deleted_at IS NULL`
	var args []any

	if f.Status != "" {
		query += ` AND i.status = ?`
		args = append(args, string(f.Status))
	}
	if f.RoomID > 0 {
		query += ` AND i.room_id = ?`
		args = append(args, f.RoomID)
	}
	if f.CategoryID > 0 {
		query += ` AND i.category_id = ?`
		args = append(args, f.CategoryID)
	}
	if f.Search != "" {
		query += ` AND LOWER(i.name) LIKE LOWER(?) ESCAPE '\'`
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}

	query += ` ORDER BY i.name`

	rows, err := db.QueryContext(ctx, bind(db, query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItem updates an item's administrative fields.
func UpdateItem(ctx context.Context, db *sql.DB, id int64, f ItemFields) error {
	_, err := db.ExecContext(ctx,
		bind(db, `UPDATE items SET name = ?, description = ?, category_id = ?, price = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`),
		f.Name, f.Description, f.CategoryID, f.Price.String(), id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// DeleteItem soft-deletes an item. Its ledger is kept.
func DeleteItem(ctx context.Context, db *sql.DB, id int64) error {
	_, err := db.ExecContext(ctx,
		bind(db, `UPDATE items SET deleted_at = CURRENT_TIMESTAMP, version = version + 1 WHERE id = ? AND deleted_at IS NULL`),
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// SetItemImage sets an item's image data.
func SetItemImage(ctx context.Context, db *sql.DB, id int64, image []byte, mime string) error {
	_, err := db.ExecContext(ctx,
		bind(db, `UPDATE items SET image = ?, image_mime = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`),
		image, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	return nil
}

// GetItemImage returns an item's image data and MIME type.
func GetItemImage(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		bind(db, `SELECT image, image_mime FROM items WHERE id = ?`), id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}

// ReclassifyItems rewrites the stored status of every item whose status no
// longer matches c, and returns how many items changed. It runs as a single
// statement, so a threshold change is applied to all items at once.
func ReclassifyItems(ctx context.Context, db *sql.DB, c model.Classifier) (int64, error) {
	const classify = `CASE WHEN quantity <= 0 THEN ? WHEN quantity <= ? THEN ? ELSE ? END`
	args := []any{
		string(model.StatusOutOfStock), c.LowStockThreshold,
		string(model.StatusLowStock), string(model.StatusInStock),
	}

	result, err := db.ExecContext(ctx,
		bind(db, `UPDATE items SET status = `+classify+`, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE status <> `+classify),
		append(args, args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("reclassifying items: %w", err)
	}
	return result.RowsAffected()
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
