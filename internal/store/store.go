// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is the durable table of blocked addresses and
// per-address history/tags/comments. It is the only owner of persisted
// rows; the in-memory block set lives in internal/blocklist, kept in
// sync by internal/lifecycle.
package store

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	wardenerrors "warden/internal/errors"
)

// Store wraps a single-file embedded SQLite database. All methods are safe
// for concurrent callers (the scheduler tick and the command server both
// hold a reference) — database/sql already serializes writers behind its
// connection pool, so no extra locking is layered on top here.
type Store struct {
	db *sql.DB
}

// BlockRecord is one row per active block.
type BlockRecord struct {
	Address          string
	BlockedAt        time.Time
	DurationSeconds  int
	ScheduledUnblock time.Time
}

// HistoryEvent is one append-only row in IpHistory.
type HistoryEvent struct {
	Address string
	Time    time.Time
	Message string
}

// Comment is one append-only row in IpComments.
type Comment struct {
	Address string
	Time    time.Time
	Comment string
}

// Stats is the aggregate returned by Stats().
type Stats struct {
	Total       int
	RecentFails int
	LastSeen    time.Time
}

const timeLayout = time.RFC3339Nano

// Open opens or creates the database at path in WAL mode with a 5s busy
// timeout.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindUnavailable, "store: open %s", path)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocked_ips (
		address TEXT PRIMARY KEY,
		blocked_at TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		scheduled_unblock TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ip_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		time TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_address ON ip_history(address);
	CREATE TABLE IF NOT EXISTS ip_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		tag TEXT NOT NULL,
		UNIQUE(address, tag)
	);
	CREATE TABLE IF NOT EXISTS ip_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		time TEXT NOT NULL,
		comment TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_address ON ip_comments(address);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: init schema")
	}
	return nil
}

// UpsertBlock inserts or replaces the BlockRecord for rec.Address.
func (s *Store) UpsertBlock(rec BlockRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO blocked_ips (address, blocked_at, duration_seconds, scheduled_unblock)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			blocked_at = excluded.blocked_at,
			duration_seconds = excluded.duration_seconds,
			scheduled_unblock = excluded.scheduled_unblock
	`, rec.Address, rec.BlockedAt.Format(timeLayout), rec.DurationSeconds, rec.ScheduledUnblock.Format(timeLayout))
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: upsert block %s", rec.Address)
	}
	return nil
}

// DeleteBlock removes the BlockRecord for addr, if any.
func (s *Store) DeleteBlock(addr string) error {
	_, err := s.db.Exec(`DELETE FROM blocked_ips WHERE address = ?`, addr)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: delete block %s", addr)
	}
	return nil
}

// ListBlocks returns every BlockRecord currently persisted.
func (s *Store) ListBlocks() ([]BlockRecord, error) {
	rows, err := s.db.Query(`SELECT address, blocked_at, duration_seconds, scheduled_unblock FROM blocked_ips`)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: list blocks")
	}
	defer rows.Close()

	var out []BlockRecord
	for rows.Next() {
		rec, err := scanBlockRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlockRecord(row scanner) (BlockRecord, error) {
	var rec BlockRecord
	var blockedAt, scheduledUnblock string
	if err := row.Scan(&rec.Address, &blockedAt, &rec.DurationSeconds, &scheduledUnblock); err != nil {
		return BlockRecord{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: scan block record")
	}
	var err error
	if rec.BlockedAt, err = time.Parse(timeLayout, blockedAt); err != nil {
		return BlockRecord{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: parse blocked_at")
	}
	if rec.ScheduledUnblock, err = time.Parse(timeLayout, scheduledUnblock); err != nil {
		return BlockRecord{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: parse scheduled_unblock")
	}
	return rec, nil
}

// RemoveAllExpired deletes every BlockRecord whose scheduled_unblock is
// at or before now (inclusive — an address whose scheduled_unblock
// equals now is expired) and returns the deleted rows so the caller's
// expiry sweep can issue the matching unblocks.
func (s *Store) RemoveAllExpired(now time.Time) ([]BlockRecord, error) {
	cutoff := now.Format(timeLayout)

	rows, err := s.db.Query(`
		SELECT address, blocked_at, duration_seconds, scheduled_unblock
		FROM blocked_ips WHERE scheduled_unblock <= ?
	`, cutoff)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: select expired")
	}
	var expired []BlockRecord
	for rows.Next() {
		rec, err := scanBlockRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: iterate expired")
	}

	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := s.db.Exec(`DELETE FROM blocked_ips WHERE scheduled_unblock <= ?`, cutoff); err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: delete expired")
	}
	return expired, nil
}

// InsertHistory appends a HistoryEvent.
func (s *Store) InsertHistory(ev HistoryEvent) error {
	_, err := s.db.Exec(`INSERT INTO ip_history (address, time, message) VALUES (?, ?, ?)`,
		ev.Address, ev.Time.Format(timeLayout), ev.Message)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: insert history %s", ev.Address)
	}
	return nil
}

// ListHistory returns every HistoryEvent for addr, oldest first.
func (s *Store) ListHistory(addr string) ([]HistoryEvent, error) {
	rows, err := s.db.Query(`SELECT address, time, message FROM ip_history WHERE address = ? ORDER BY time ASC`, addr)
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: list history %s", addr)
	}
	defer rows.Close()

	var out []HistoryEvent
	for rows.Next() {
		var ev HistoryEvent
		var t string
		if err := rows.Scan(&ev.Address, &t, &ev.Message); err != nil {
			return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: scan history")
		}
		if ev.Time, err = time.Parse(timeLayout, t); err != nil {
			return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: parse history time")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InsertTag adds tag to addr's tag set. Re-adding an existing tag is a
// no-op (UNIQUE(address, tag)).
func (s *Store) InsertTag(addr, tag string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO ip_tags (address, tag) VALUES (?, ?)`, addr, tag)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: insert tag %s/%s", addr, tag)
	}
	return nil
}

// DeleteTag removes tag from addr's tag set.
func (s *Store) DeleteTag(addr, tag string) error {
	_, err := s.db.Exec(`DELETE FROM ip_tags WHERE address = ? AND tag = ?`, addr, tag)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: delete tag %s/%s", addr, tag)
	}
	return nil
}

// ListTags returns every tag for addr.
func (s *Store) ListTags(addr string) ([]string, error) {
	rows, err := s.db.Query(`SELECT tag FROM ip_tags WHERE address = ? ORDER BY tag ASC`, addr)
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: list tags %s", addr)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: scan tag")
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// InsertComment appends a Comment.
func (s *Store) InsertComment(c Comment) error {
	_, err := s.db.Exec(`INSERT INTO ip_comments (address, time, comment) VALUES (?, ?, ?)`,
		c.Address, c.Time.Format(timeLayout), c.Comment)
	if err != nil {
		return wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: insert comment %s", c.Address)
	}
	return nil
}

// ListComments returns every Comment for addr, oldest first.
func (s *Store) ListComments(addr string) ([]Comment, error) {
	rows, err := s.db.Query(`SELECT address, time, comment FROM ip_comments WHERE address = ? ORDER BY time ASC`, addr)
	if err != nil {
		return nil, wardenerrors.Wrapf(err, wardenerrors.KindInternal, "store: list comments %s", addr)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		var t string
		if err := rows.Scan(&c.Address, &t, &c.Comment); err != nil {
			return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: scan comment")
		}
		if c.Time, err = time.Parse(timeLayout, t); err != nil {
			return nil, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: parse comment time")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats returns aggregate counters: total blocked-row count, the count of
// history rows whose message matches "fail" case-insensitively, and the
// most recent history timestamp across all addresses.
func (s *Store) Stats() (Stats, error) {
	var stats Stats

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blocked_ips`).Scan(&stats.Total); err != nil {
		return Stats{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: stats total")
	}

	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM ip_history WHERE message LIKE '%fail%' COLLATE NOCASE
	`).Scan(&stats.RecentFails); err != nil {
		return Stats{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: stats recent_fails")
	}

	var lastSeen sql.NullString
	if err := s.db.QueryRow(`SELECT MAX(time) FROM ip_history`).Scan(&lastSeen); err != nil {
		return Stats{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: stats last_seen")
	}
	if lastSeen.Valid && strings.TrimSpace(lastSeen.String) != "" {
		t, err := time.Parse(timeLayout, lastSeen.String)
		if err != nil {
			return Stats{}, wardenerrors.Wrap(err, wardenerrors.KindInternal, "store: parse last_seen")
		}
		stats.LastSeen = t
	}

	return stats, nil
}
