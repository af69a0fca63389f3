// Package store is the data access layer for the auto-reply pipeline.
//
// All state the pipeline touches lives in one SQLite database: connections
// and rules (read-only here, owned by the API/OAuth layers), dedup markers,
// reply logs, daily usage counters and poll state (written here).
package store

import (
	"database/sql"
	"encoding/json"
)

// Store wraps the database for pipeline operations.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func encodeList[T ~string](items []T) string {
	if len(items) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList[T ~string](raw string) []T {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
