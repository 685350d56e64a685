// Package database keeps a local catalog of capture sessions and completed
// flush files, so the uploader can claim pending files and survive restarts.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

type Catalog struct {
	db *sql.DB
}

// Session is one capture run.
type Session struct {
	ID        string
	StartedAt time.Time
	Hostname  string
	Username  string
	OS        string
}

// FlushFile is one completed spool file.
type FlushFile struct {
	ID          int64
	SessionID   string
	Path        string
	WindowStart time.Time
	EventCount  int
	Bytes       int64
	CreatedAt   time.Time
	UploadedAt  *time.Time
}

// Open opens (or creates) the catalog database.
func Open(databasePath string) (*Catalog, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Catalog{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions(
	  id         TEXT PRIMARY KEY,
	  started_at TEXT NOT NULL,
	  hostname   TEXT NOT NULL,
	  username   TEXT NOT NULL,
	  os         TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS flush_files(
	  id           INTEGER PRIMARY KEY,
	  session_id   TEXT    NOT NULL REFERENCES sessions(id),
	  path         TEXT    NOT NULL UNIQUE,
	  window_start TEXT    NOT NULL,
	  event_count  INTEGER NOT NULL CHECK (event_count > 0),
	  bytes        INTEGER NOT NULL CHECK (bytes > 0),
	  created_at   TEXT    NOT NULL,
	  uploaded_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_flush_files_session ON flush_files(session_id);
	CREATE INDEX IF NOT EXISTS idx_flush_files_pending ON flush_files(uploaded_at) WHERE uploaded_at IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// RecordSession registers a capture session before any of its files.
func (c *Catalog) RecordSession(s Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	_, err := c.db.Exec(
		`INSERT INTO sessions(id, started_at, hostname, username, os) VALUES(?,?,?,?,?)`,
		s.ID, s.StartedAt.UTC().Format(time.RFC3339Nano), s.Hostname, s.Username, s.OS,
	)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// RecordFlush registers one completed spool file for a session.
func (c *Catalog) RecordFlush(f FlushFile) error {
	if f.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if f.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if f.EventCount <= 0 {
		return fmt.Errorf("event count must be positive")
	}
	_, err := c.db.Exec(
		`INSERT INTO flush_files(session_id, path, window_start, event_count, bytes, created_at)
		 VALUES(?,?,?,?,?,?)`,
		f.SessionID,
		f.Path,
		f.WindowStart.UTC().Format(time.RFC3339Nano),
		f.EventCount,
		f.Bytes,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record flush file: %w", err)
	}
	return nil
}

// PendingUploads returns flush files not yet uploaded, oldest window first.
func (c *Catalog) PendingUploads(limit int) ([]FlushFile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.Query(
		`SELECT id, session_id, path, window_start, event_count, bytes, created_at
		 FROM flush_files WHERE uploaded_at IS NULL ORDER BY window_start LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending uploads: %w", err)
	}
	defer rows.Close()

	var files []FlushFile
	for rows.Next() {
		var f FlushFile
		var windowStart, createdAt string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Path, &windowStart, &f.EventCount, &f.Bytes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan flush file: %w", err)
		}
		if f.WindowStart, err = time.Parse(time.RFC3339Nano, windowStart); err != nil {
			return nil, fmt.Errorf("failed to parse window start: %w", err)
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created at: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// MarkUploaded stamps a flush file as uploaded.
func (c *Catalog) MarkUploaded(id int64, when time.Time) error {
	res, err := c.db.Exec(
		`UPDATE flush_files SET uploaded_at = ? WHERE id = ? AND uploaded_at IS NULL`,
		when.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("flush file %d not found or already uploaded", id)
	}
	return nil
}

// SessionStats reports the total flushed files and events for a session.
func (c *Catalog) SessionStats(sessionID string) (files int, events int, err error) {
	row := c.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(event_count), 0) FROM flush_files WHERE session_id = ?`,
		sessionID)
	if err := row.Scan(&files, &events); err != nil {
		return 0, 0, fmt.Errorf("failed to read session stats: %w", err)
	}
	return files, events, nil
}
