// Package console serves the operator console for one workstation: a
// loopback HTTP API over the persisted alert history plus a websocket
// feed of live events. It runs inside the agent process, which owns
// the only control-socket session and forwards what it reads here.
package console

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/invigil/sdk/go/invigil"
)

const (
	defaultAlertPage = 100
	maxAlertPage     = 1000
)

// StoredAlert is one alert as persisted and served by the console.
// RaisedAt is the daemon's clock, ReceivedAt the agent's.
type StoredAlert struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SourcePid  uint32    `json:"source_pid"`
	Detail     string    `json:"detail"`
	RaisedAt   time.Time `json:"raised_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// FromAlert converts a drained alert into its stored form, assigning
// a fresh ID and stamping the receive time.
func FromAlert(a invigil.Alert, receivedAt time.Time) StoredAlert {
	return StoredAlert{
		ID:         uuid.NewString(),
		Type:       a.Type,
		SourcePid:  a.SourcePid,
		Detail:     a.Detail,
		RaisedAt:   a.Time,
		ReceivedAt: receivedAt,
	}
}

// Store keeps the alert history in a local SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens the alert database at path, creating the file and
// its parent directory on first run.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("console: create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("console: open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("console: ping database %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			source_pid INTEGER NOT NULL,
			detail TEXT NOT NULL,
			raised_at INTEGER NOT NULL,
			received_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_received_at ON alerts(received_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("console: create tables: %w", err)
		}
	}
	return nil
}

// Insert persists one alert.
func (s *Store) Insert(a StoredAlert) error {
	_, err := s.db.Exec(
		`INSERT INTO alerts (id, type, source_pid, detail, raised_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.SourcePid, a.Detail, a.RaisedAt.UnixNano(), a.ReceivedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("console: insert alert %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns up to limit alerts, newest first. A non-positive
// limit selects the default page size.
func (s *Store) Recent(limit int) ([]StoredAlert, error) {
	if limit <= 0 {
		limit = defaultAlertPage
	}
	if limit > maxAlertPage {
		limit = maxAlertPage
	}

	rows, err := s.db.Query(
		`SELECT id, type, source_pid, detail, raised_at, received_at
		 FROM alerts ORDER BY received_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("console: query alerts: %w", err)
	}
	defer rows.Close()

	// Empty history serves [] rather than null.
	out := []StoredAlert{}
	for rows.Next() {
		var a StoredAlert
		var raised, received int64
		if err := rows.Scan(&a.ID, &a.Type, &a.SourcePid, &a.Detail, &raised, &received); err != nil {
			return nil, fmt.Errorf("console: scan alert row: %w", err)
		}
		a.RaisedAt = time.Unix(0, raised)
		a.ReceivedAt = time.Unix(0, received)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("console: iterate alert rows: %w", err)
	}
	return out, nil
}

// Count reports how many alerts the history holds.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("console: count alerts: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
