package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erazemk/sobe/internal/model"
)

// ErrRoomOccupied is returned when deleting a room that items are still in.
var ErrRoomOccupied = errors.New("room still holds items")

const roomSelect = `SELECT id, name, location, active, created_at, updated_at, deleted_at FROM rooms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*model.Room, error) {
	r := &model.Room{}
	if err := row.Scan(&r.ID, &r.Name, &r.Location, &r.Active, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateRoom creates a new, active room.
func CreateRoom(ctx context.Context, db *sql.DB, name, location string) (*model.Room, error) {
	id, err := insertID(ctx, db,
		`INSERT INTO rooms (name, location) VALUES (?, ?)`,
		name, location,
	)
	if err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}

	return GetRoom(ctx, db, id)
}

// GetRoom returns a room by ID, including soft-deleted rooms.
func GetRoom(ctx context.Context, db *sql.DB, id int64) (*model.Room, error) {
	r, err := scanRoom(db.QueryRowContext(ctx, bind(db, roomSelect+` WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting room: %w", err)
	}
	return r, nil
}

// ListRooms returns all non-deleted rooms. If active is non-nil only rooms
// with that activity flag are returned.
func ListRooms(ctx context.Context, db *sql.DB, active *bool) ([]model.Room, error) {
	query := roomSelect + ` WHERE deleted_at IS NULL`
	var args []any
	if active != nil {
		query += ` AND active = ?`
		args = append(args, *active)
	}
	query += ` ORDER BY name`

	rows, err := db.QueryContext(ctx, bind(db, query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

// UpdateRoom updates a room's name, location and activity flag.
func UpdateRoom(ctx context.Context, db *sql.DB, id int64, name, location string, active bool) error {
	_, err := db.ExecContext(ctx,
		bind(db, `UPDATE rooms SET name = ?, location = ?, active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND deleted_at IS NULL`),
		name, location, active, id,
	)
	if err != nil {
		return fmt.Errorf("updating room: %w", err)
	}
	return nil
}

// DeleteRoom soft-deletes a room. Fails with ErrRoomOccupied if any item is
// currently in the room.
func DeleteRoom(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		bind(db, `SELECT COUNT(*) FROM items WHERE room_id = ? AND deleted_at IS NULL`), id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking room items: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("cannot delete room: %w (%d items)", ErrRoomOccupied, count)
	}

	_, err = tx.ExecContext(ctx,
		bind(db, `UPDATE rooms SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`),
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing room deletion: %w", err)
	}
	return nil
}
