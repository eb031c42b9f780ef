// Package storage provides the durable reservation store on sqlite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	// ErrSlotTaken means a non-terminal booking already holds the slot.
	ErrSlotTaken = errors.New("slot already taken")
	// ErrNoBooking means the booking id is unknown.
	ErrNoBooking = errors.New("booking not found")
	// ErrNoProperty means the property id is unknown or inactive.
	ErrNoProperty = errors.New("property not found")
	// ErrNoRate means no rate is configured for the property shift.
	ErrNoRate = errors.New("rate not found")
	// ErrConcurrentModification means a version-checked update lost a race.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// New opens (creating if needed) the database at path and runs migrations.
func New(path string, logger *zerolog.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL keeps readers unblocked during sweeps; busy_timeout covers the
	// short writer contention sqlite allows.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	instance := &DB{DB: db, logger: logger}
	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

// NewMemory opens an in-memory database. Used in tests.
func NewMemory(logger *zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Shared-cache memory databases vanish when the last conn closes.
	db.SetMaxOpenConns(1)

	instance := &DB{DB: db, logger: logger}
	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			description TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS rates (
			property_id INTEGER NOT NULL,
			shift TEXT NOT NULL,
			amount REAL NOT NULL,
			PRIMARY KEY (property_id, shift),
			FOREIGN KEY (property_id) REFERENCES properties(id)
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			property_id INTEGER NOT NULL,
			requester_id INTEGER NOT NULL,
			date DATE NOT NULL,
			shift TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			price REAL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (property_id) REFERENCES properties(id)
		)`,

		// One non-terminal booking per slot. Terminal rows stay as history
		// and are excluded from the index, so the constraint never blocks
		// re-booking a freed slot.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_slot_active
			ON bookings(property_id, date, shift)
			WHERE status IN ('pending', 'confirmed')`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_status_created
			ON bookings(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_requester
			ON bookings(requester_id, created_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Healthy pings the database within the context deadline.
func (db *DB) Healthy(ctx context.Context) error {
	return db.PingContext(ctx)
}
