// Package store provides the data access layer for gazette.
//
// All writes go straight through to SQLite (WAL, synchronous NORMAL) so an
// acknowledged append is durable before the intake boundary sees success.
package store

import (
	"database/sql"
	"errors"
)

// ErrAlreadyArchived is returned when archiving a date a second time.
// Callers treat it as an idempotent no-op, not a fatal condition.
var ErrAlreadyArchived = errors.New("store: bucket already archived")

// Store wraps the gazette database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
