// Package events keeps an append-only log of tracker and interlock
// transitions in sqlite, for post-session diagnostics.
package events

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// debugMsgFunc is set by the main package to route messages through the
// unified logger.
var debugMsgFunc func(component, message string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Kind classifies one event row.
type Kind string

const (
	KindLock      Kind = "lock"
	KindUnlock    Kind = "unlock"
	KindAlert     Kind = "alert"
	KindInterlock Kind = "interlock"
	KindLink      Kind = "link"
)

// Event is one recorded transition.
type Event struct {
	ID     int64
	At     time.Time
	Kind   Kind
	Detail string
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
`

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the event database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one event. Failures are logged and swallowed so the
// frame loop is never blocked on the log.
func (s *Store) Record(kind Kind, detail string) {
	if s == nil {
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)`,
		time.Now().UTC(), string(kind), detail,
	); err != nil {
		debugMsg("EVENTS", fmt.Sprintf("record %s failed: %v", kind, err))
	}
}

// Recent returns the newest n events, newest first.
func (s *Store) Recent(n int) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, at, kind, detail FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &e.At, &kind, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of rows of one kind.
func (s *Store) Count(kind Kind) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = ?`, string(kind)).Scan(&n)
	return n, err
}
