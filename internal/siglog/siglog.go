// Package siglog persists classified signals to SQLite.
//
// The log is append-only: rows are inserted, listed, and never updated or
// deleted. Insertion order is the only order, surfaced through SQLite's
// rowid. Every operation opens the database file, runs, and closes it;
// nothing holds a long-lived handle, so concurrent writers coordinate only
// through SQLite's own busy timeout.
package siglog

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"signal-recorder/internal/model"
)

// Schema matches the signal history this log continues: bare TEXT columns,
// no id, no index. Ensured on every open so a fresh file works immediately.
const schema = `CREATE TABLE IF NOT EXISTS signals (
	timestamp TEXT,
	signal    TEXT
)`

// Store is a handle on the signal log file. It keeps no open connection;
// the zero cost of carrying it around is the point.
type Store struct {
	path string
}

// New returns a store for the given SQLite file. The file is not touched
// until the first operation (or Ping).
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the underlying database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("siglog: open %s: %w", s.path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("siglog: ensure schema: %w", err)
	}
	return db, nil
}

// Ping opens the log once, creating the file and schema if needed. Called
// at startup so a bad path fails the process instead of the first check.
func (s *Store) Ping() error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("[siglog] signal log ready at %s", s.path)
	return nil
}

// Append durably records one signal. Once Append returns nil the row is
// committed; there is no retry or queueing on failure.
func (s *Store) Append(sig model.Signal) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(
		`INSERT INTO signals (timestamp, signal) VALUES (?, ?)`,
		sig.Timestamp, string(sig.Label),
	); err != nil {
		return fmt.Errorf("siglog: insert: %w", err)
	}
	return nil
}

// List returns every recorded signal in insertion order.
func (s *Store) List() ([]model.Signal, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT timestamp, signal FROM signals ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("siglog: select: %w", err)
	}
	defer rows.Close()

	var sigs []model.Signal
	for rows.Next() {
		var ts, label string
		if err := rows.Scan(&ts, &label); err != nil {
			return nil, fmt.Errorf("siglog: scan: %w", err)
		}
		sigs = append(sigs, model.Signal{Timestamp: ts, Label: model.Label(label)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("siglog: rows: %w", err)
	}
	return sigs, nil
}

// Latest returns the most recently appended signal. ok is false when the
// log is empty.
func (s *Store) Latest() (sig model.Signal, ok bool, err error) {
	db, err := s.open()
	if err != nil {
		return model.Signal{}, false, err
	}
	defer db.Close()

	var ts, label string
	row := db.QueryRow(`SELECT timestamp, signal FROM signals ORDER BY rowid DESC LIMIT 1`)
	switch err := row.Scan(&ts, &label); err {
	case nil:
		return model.Signal{Timestamp: ts, Label: model.Label(label)}, true, nil
	case sql.ErrNoRows:
		return model.Signal{}, false, nil
	default:
		return model.Signal{}, false, fmt.Errorf("siglog: latest: %w", err)
	}
}

// Count returns the number of recorded signals.
func (s *Store) Count() (int, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("siglog: count: %w", err)
	}
	return n, nil
}
