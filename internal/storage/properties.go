package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"casitas/internal/models"
)

// CreateProperty inserts a property and assigns its id.
func (db *DB) CreateProperty(ctx context.Context, p *models.Property) error {
	now := time.Now()
	res, err := db.ExecContext(ctx,
		`INSERT INTO properties (name, description, is_active, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.IsActive, p.SortOrder, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert property: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("property id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetProperty returns an active property by id.
func (db *DB) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	var p models.Property
	err := db.QueryRowContext(ctx,
		`SELECT id, name, description, is_active, sort_order, created_at, updated_at
		 FROM properties WHERE id = ? AND is_active = 1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoProperty
	}
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	return &p, nil
}

// ListActiveProperties returns active properties in sort order.
func (db *DB) ListActiveProperties(ctx context.Context) ([]models.Property, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, description, is_active, sort_order, created_at, updated_at
		 FROM properties WHERE is_active = 1
		 ORDER BY sort_order, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	var out []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.IsActive, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetRate creates or replaces the rate for a property shift.
func (db *DB) SetRate(ctx context.Context, r *models.Rate) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO rates (property_id, shift, amount) VALUES (?, ?, ?)
		 ON CONFLICT(property_id, shift) DO UPDATE SET amount = excluded.amount`,
		r.PropertyID, string(r.Shift), r.Amount,
	)
	if err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	return nil
}

// GetRate returns the configured rate for a property shift.
func (db *DB) GetRate(ctx context.Context, propertyID int64, shift models.Shift) (float64, error) {
	var amount float64
	err := db.QueryRowContext(ctx,
		`SELECT amount FROM rates WHERE property_id = ? AND shift = ?`,
		propertyID, string(shift),
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, ErrNoRate
	}
	if err != nil {
		return 0, fmt.Errorf("get rate: %w", err)
	}
	return amount, nil
}
