package models

import "time"

// Property represents a bookable lodging unit.
type Property struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	SortOrder   int64     `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Rate is the precomputed price for one property shift.
type Rate struct {
	PropertyID int64   `json:"property_id"`
	Shift      Shift   `json:"shift"`
	Amount     float64 `json:"amount"`
}
