package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"casitas/internal/models"
)

const bookingColumns = `id, property_id, requester_id, date, shift, status, price, created_at, updated_at, version`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	var price sql.NullFloat64
	var shift string
	err := row.Scan(
		&b.ID, &b.PropertyID, &b.RequesterID, &b.Date, &shift,
		&b.Status, &price, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.Shift = models.Shift(shift)
	if price.Valid {
		b.Price = &price.Float64
	}
	b.Date = models.DateOnly(b.Date)
	return &b, nil
}

// CreateBookingSlot inserts the booking, failing with ErrSlotTaken when a
// non-terminal booking already holds the (property, date, shift) tuple.
// The check and insert run in one transaction, and the partial unique index
// on active slots backstops writers that bypass this method.
func (db *DB) CreateBookingSlot(ctx context.Context, b *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE property_id = ? AND date = ? AND shift = ?
		   AND status IN ('pending', 'confirmed')`,
		b.PropertyID, b.Date, string(b.Shift),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	if count > 0 {
		return ErrSlotTaken
	}

	var price any
	if b.Price != nil {
		price = *b.Price
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.PropertyID, b.RequesterID, b.Date, string(b.Shift),
		b.Status, price, b.CreatedAt, b.UpdatedAt, b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("commit booking: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetBooking returns the booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoBooking
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatus sets the booking status if the stored version still
// matches. Returns ErrConcurrentModification when another writer got there
// first, ErrNoBooking when the id is unknown.
func (db *DB) UpdateBookingStatus(ctx context.Context, id string, version int64, status string, updatedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings
		 SET status = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		status, updatedAt, id, version,
	)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bookings WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check booking exists: %w", err)
		}
		if exists == 0 {
			return ErrNoBooking
		}
		return ErrConcurrentModification
	}
	return nil
}

// CountActiveForSlot counts non-terminal bookings on the tuple.
func (db *DB) CountActiveForSlot(ctx context.Context, propertyID int64, date time.Time, shift models.Shift) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE property_id = ? AND date = ? AND shift = ?
		   AND status IN ('pending', 'confirmed')`,
		propertyID, models.DateOnly(date), string(shift),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active bookings: %w", err)
	}
	return count, nil
}

// ListPendingOlderThan returns pending bookings created at or before cutoff,
// oldest first. This feeds the expiration sweep.
func (db *DB) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = 'pending' AND created_at <= ?
		 ORDER BY created_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending bookings: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows)
}

// ListRequesterBookings returns the requester's bookings, newest first by
// creation time. limit <= 0 returns all.
func (db *DB) ListRequesterBookings(ctx context.Context, requesterID int64, limit int) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		 WHERE requester_id = ?
		 ORDER BY created_at DESC`
	args := []any{requesterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requester bookings: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows)
}

// ListPropertyBookings returns all bookings for a property, newest first.
// Used by the operator export.
func (db *DB) ListPropertyBookings(ctx context.Context, propertyID int64) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE property_id = ?
		 ORDER BY created_at DESC`,
		propertyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query property bookings: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows)
}

// ListActiveBookings returns all non-terminal-or-confirmed bookings that
// still occupy slots. Used by the sheets mirror.
func (db *DB) ListActiveBookings(ctx context.Context) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status IN ('pending', 'confirmed')
		 ORDER BY date ASC, created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active bookings: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows)
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}
