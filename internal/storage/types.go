package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DispatchEntry records one channel's terminal outcome for a run.
// Keep it compact and schema-stable.
type DispatchEntry struct {
	At       time.Time
	RunID    string
	Key      string // idempotency key
	Channel  string
	Outcome  string
	Attempts int
	Error    string
	TookMS   int64
}
