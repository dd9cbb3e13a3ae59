// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package audit persists a structured trail of administrative and
// security-relevant actions (blocks, unblocks, whitelist edits, reloads,
// command-server invocations), narrowed to this daemon's event set and
// persisted the same way the block-record store persists its own rows
// (schema-in-string, WAL-mode modernc.org/sqlite).
package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	wardenerrors "warden/internal/errors"
)

// EventType enumerates the audit event kinds this daemon produces.
type EventType string

const (
	EventBlock           EventType = "block"
	EventUnblock         EventType = "unblock"
	EventWhitelistAdd    EventType = "whitelist_add"
	EventWhitelistRemove EventType = "whitelist_remove"
	EventReload          EventType = "reload"
	EventCommandExec     EventType = "command_exec"
	EventSystemStart     EventType = "system_start"
	EventSystemStop      EventType = "system_stop"
)

// Severity is one of three actionable levels; there is no Fatal level
// since nothing in this daemon's audit trail is itself fatal.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is one audit row.
type Event struct {
	ID        int64
	Timestamp time.Time
	EventType EventType
	Severity  Severity
	Address   string
	Action    string
	Success   bool
	Message   string
	Details   map[string]any
}

// Store is the append-only, SQLite-backed audit trail.
type Store struct {
	db *sql.DB
}

// Open opens or creates the audit database at path in WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "audit: open %s", path)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_address ON audit_events(address);
	`)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: init schema")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339Nano

// Write appends one Event.
func (s *Store) Write(ev Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: marshal details")
	}
	_, err = s.db.Exec(`
		INSERT INTO audit_events (timestamp, event_type, severity, address, action, success, message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Timestamp.Format(timeLayout), string(ev.EventType), string(ev.Severity), ev.Address, ev.Action, ev.Success, ev.Message, string(details))
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: write event")
	}
	return nil
}

// Recent returns the newest n events, most recent first.
func (s *Store) Recent(n int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, event_type, severity, address, action, success, message, details
		FROM audit_events ORDER BY id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: query recent")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ForAddress returns every event recorded for addr, oldest first.
func (s *Store) ForAddress(addr string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, event_type, severity, address, action, success, message, details
		FROM audit_events WHERE address = ? ORDER BY id ASC
	`, addr)
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindInternal, "audit: query for address %s", addr)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes every event older than cutoff. The caller supplies the
// cutoff; Prune does not read RetentionDays from config.AuditConfig.
func (s *Store) Prune(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, cutoff.Format(timeLayout))
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: prune")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var ev Event
	var ts, details string
	var success int
	if err := row.Scan(&ev.ID, &ts, &ev.EventType, &ev.Severity, &ev.Address, &ev.Action, &success, &ev.Message, &details); err != nil {
		return Event{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: scan event")
	}
	var err error
	if ev.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
		return Event{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: parse timestamp")
	}
	ev.Success = success != 0
	if details != "" {
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return Event{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "audit: unmarshal details")
		}
	}
	return ev, nil
}
