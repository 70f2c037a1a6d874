// Package store persists scan sessions and buffer snapshots to sqlite.
// Snapshot payloads are gob encoded and gzip compressed; session rows stay
// queryable for listing and resume inspection.
package store

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/gob"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/scanline/internal/scan"
	"github.com/banshee-data/scanline/internal/timeutil"
)

// Store provides sqlite persistence for scan results. It implements
// scan.SaveSink.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the results database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scan_sessions (
			session_id       TEXT PRIMARY KEY,
			mode             TEXT,
			status           TEXT,
			current_line     BIGINT,
			total_lines      BIGINT,
			elapsed_sweeps   BIGINT,
			elapsed_seconds  DOUBLE,
			error            TEXT,
			started_at       TEXT,
			completed_at     TEXT,
			updated_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS scan_snapshots (
			snapshot_id      TEXT PRIMARY KEY,
			session_id       TEXT,
			reason           TEXT,
			payload          BLOB,
			created_at       BIGINT,
			FOREIGN KEY(session_id) REFERENCES scan_sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_session
			ON scan_snapshots(session_id, created_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, clock: timeutil.RealClock{}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// retryOnBusy retries a database operation a few times when sqlite reports
// a locked database, with a short backoff between attempts.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		msg := err.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			return err
		}
		clock.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}

// Persist upserts the session row and appends a compressed snapshot. It is
// called by the autosaver at checkpoint boundaries and on stop/completion.
func (s *Store) Persist(snap *scan.Snapshot, reason string) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	payload, err := serializeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("serializing snapshot: %w", err)
	}

	sess := snap.Session
	err = retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(`
			INSERT INTO scan_sessions (
				session_id, mode, status, current_line, total_lines,
				elapsed_sweeps, elapsed_seconds, error, started_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				status = excluded.status,
				current_line = excluded.current_line,
				elapsed_sweeps = excluded.elapsed_sweeps,
				elapsed_seconds = excluded.elapsed_seconds,
				error = excluded.error,
				completed_at = excluded.completed_at,
				updated_at = CURRENT_TIMESTAMP`,
			sess.ID, string(sess.Mode), string(sess.Status), sess.CurrentLine, sess.TotalLines,
			sess.ElapsedSweeps, sess.ElapsedSeconds, nullStr(sess.Error),
			timeStr(sess.StartedAt), timeStr(sess.CompletedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}

	err = retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(`
			INSERT INTO scan_snapshots (snapshot_id, session_id, reason, payload, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), sess.ID, reason, payload, time.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting snapshot for %s: %w", sess.ID, err)
	}
	return nil
}

// SessionRecord is one row of the session listing.
type SessionRecord struct {
	SessionID      string  `json:"session_id"`
	Mode           string  `json:"mode"`
	Status         string  `json:"status"`
	CurrentLine    int     `json:"current_line"`
	TotalLines     int     `json:"total_lines"`
	ElapsedSweeps  int     `json:"elapsed_sweeps"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Error          string  `json:"error,omitempty"`
	StartedAt      string  `json:"started_at,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
}

// ListSessions returns sessions ordered by start time descending.
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT session_id, mode, status, current_line, total_lines,
		       elapsed_sweeps, elapsed_seconds,
		       COALESCE(error, ''), COALESCE(started_at, ''), COALESCE(completed_at, '')
		FROM scan_sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.Mode, &rec.Status, &rec.CurrentLine, &rec.TotalLines,
			&rec.ElapsedSweeps, &rec.ElapsedSeconds, &rec.Error, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the most recent snapshot persisted for a session.
func (s *Store) LatestSnapshot(sessionID string) (*scan.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRow(`
		SELECT payload FROM scan_snapshots
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT 1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot for session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return deserializeSnapshot(payload)
}

// serializeSnapshot compresses a snapshot using gob encoding and gzip.
func serializeSnapshot(snap *scan.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(snap); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeSnapshot(payload []byte) (*scan.Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var snap scan.Snapshot
	if err := gob.NewDecoder(io.LimitReader(gz, 1<<30)).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timeStr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
