package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// StaleSessionAge is how long a persisted upload session is kept. Graph
// sessions expire in about two days, so anything older is dead.
const StaleSessionAge = 7 * 24 * time.Hour

// storeDirPerms restricts the store directory to the owner because records
// hold pre-authenticated upload URLs.
const storeDirPerms = 0o700

// SessionKey identifies one upload: the remote destination plus the local
// source it is read from.
type SessionKey struct {
	DriveID   string
	ParentID  string
	Name      string
	LocalPath string
}

// SessionRecord is a persisted upload session.
type SessionRecord struct {
	SessionKey
	SessionURL string
	FileHash   string
	FileSize   int64
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// SessionStore persists upload sessions in SQLite so a failed streamed upload
// can resume in a later run. Safe for concurrent use.
type SessionStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	save, load, remove, purge *sql.Stmt
}

const (
	sqlSaveSession = `INSERT INTO upload_sessions
		(drive_id, parent_id, name, local_path, session_url, file_hash, file_size, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (drive_id, parent_id, name, local_path) DO UPDATE SET
		session_url = excluded.session_url, file_hash = excluded.file_hash,
		file_size = excluded.file_size, expires_at = excluded.expires_at,
		created_at = excluded.created_at`

	sqlLoadSession = `SELECT session_url, file_hash, file_size, expires_at, created_at
		FROM upload_sessions
		WHERE drive_id = ? AND parent_id = ? AND name = ? AND local_path = ?`

	sqlDeleteSession = `DELETE FROM upload_sessions
		WHERE drive_id = ? AND parent_id = ? AND name = ? AND local_path = ?`

	sqlPurgeSessions = `DELETE FROM upload_sessions WHERE created_at < ?`
)

// OpenSessionStore opens (creating if needed) the store at dbPath, applies
// migrations and purges records older than StaleSessionAge. Use ":memory:"
// for tests.
func OpenSessionStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), storeDirPerms); err != nil {
			return nil, fmt.Errorf("transfer: creating session store directory: %w", err)
		}
	}

	logger.Debug("opening upload session store", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: open session store %s: %w", dbPath, err)
	}

	// Every ":memory:" connection is its own database.
	db.SetMaxOpenConns(1)

	s, err := newSessionStore(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	if _, err := s.PurgeStale(ctx, StaleSessionAge); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func newSessionStore(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SessionStore, error) {
	if err := setPragmas(ctx, db, logger); err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		return nil, err
	}

	s := &SessionStore{db: db, logger: logger, now: time.Now}

	stmts := []struct {
		dst   **sql.Stmt
		query string
		name  string
	}{
		{&s.save, sqlSaveSession, "saveSession"},
		{&s.load, sqlLoadSession, "loadSession"},
		{&s.remove, sqlDeleteSession, "deleteSession"},
		{&s.purge, sqlPurgeSessions, "purgeSessions"},
	}

	for _, st := range stmts {
		stmt, err := db.PrepareContext(ctx, st.query)
		if err != nil {
			return nil, fmt.Errorf("transfer: prepare %s: %w", st.name, err)
		}

		*st.dst = stmt
	}

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("transfer: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// Load returns the record for key, or nil, nil when none exists.
func (s *SessionStore) Load(ctx context.Context, key SessionKey) (*SessionRecord, error) {
	var (
		rec       = SessionRecord{SessionKey: key}
		expiresAt int64
		createdAt int64
	)

	err := s.load.QueryRowContext(ctx, key.DriveID, key.ParentID, key.Name, key.LocalPath).
		Scan(&rec.SessionURL, &rec.FileHash, &rec.FileSize, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("transfer: load upload session for %s: %w", key.LocalPath, err)
	}

	if expiresAt != 0 {
		rec.ExpiresAt = time.Unix(0, expiresAt).UTC()
	}

	rec.CreatedAt = time.Unix(0, createdAt).UTC()

	return &rec, nil
}

// Save inserts or replaces the record for rec's key.
func (s *SessionStore) Save(ctx context.Context, rec *SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	var expiresAt int64
	if !rec.ExpiresAt.IsZero() {
		expiresAt = rec.ExpiresAt.UnixNano()
	}

	_, err := s.save.ExecContext(ctx,
		rec.DriveID, rec.ParentID, rec.Name, rec.LocalPath,
		rec.SessionURL, rec.FileHash, rec.FileSize, expiresAt, rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("transfer: save upload session for %s: %w", rec.LocalPath, err)
	}

	s.logger.Debug("saved upload session",
		slog.String("local_path", rec.LocalPath),
		slog.String("name", rec.Name),
	)

	return nil
}

// Delete removes the record for key. Missing records are not an error.
func (s *SessionStore) Delete(ctx context.Context, key SessionKey) error {
	if _, err := s.remove.ExecContext(ctx, key.DriveID, key.ParentID, key.Name, key.LocalPath); err != nil {
		return fmt.Errorf("transfer: delete upload session for %s: %w", key.LocalPath, err)
	}

	return nil
}

// PurgeStale deletes records created more than maxAge ago and returns how
// many were removed.
func (s *SessionStore) PurgeStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixNano()

	res, err := s.purge.ExecContext(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("transfer: purge stale upload sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("transfer: purge stale upload sessions: %w", err)
	}

	if n > 0 {
		s.logger.Info("purged stale upload sessions", slog.Int64("count", n))
	}

	return int(n), nil
}

// Close releases the prepared statements and the database.
func (s *SessionStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.save, s.load, s.remove, s.purge} {
		if stmt != nil {
			stmt.Close()
		}
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("transfer: close session store: %w", err)
	}

	return nil
}
