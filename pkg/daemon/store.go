package daemon

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"codespaces/pkg/logx"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
	action_name TEXT PRIMARY KEY,
	bisync_initialized INTEGER NOT NULL DEFAULT 0,
	last_sync_unix INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	workspace TEXT NOT NULL,
	started_at_unix INTEGER NOT NULL
);
`

// Store persists sync state across daemon restarts: which bidirectional
// paths already have a bisync baseline, when each action last synced, and
// how many consecutive failures it has accumulated.
type Store struct {
	db      *sql.DB
	session string
	logger  *logx.Logger
}

// DefaultStorePath is where the state database lives inside the container.
func DefaultStorePath(workspace string) string {
	return filepath.Join("/var/lib/codespaces-syncd", workspace, "state.db")
}

// OpenStore opens (creating if needed) the state database and records a new
// session row.
func OpenStore(path, workspace string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:      db,
		session: uuid.NewString(),
		logger:  logx.NewLogger("state"),
	}
	if _, err := db.Exec(
		`INSERT INTO sessions (id, workspace, started_at_unix) VALUES (?, ?, ?)`,
		s.session, workspace, time.Now().Unix(),
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to record session: %w", err)
	}
	s.logger.Info("State database ready at %s (session %s)", path, s.session)
	return s, nil
}

// SessionID returns the id recorded for this daemon run.
func (s *Store) SessionID() string {
	return s.session
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureRow(name string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sync_state (action_name) VALUES (?)`, name)
	return err
}

// NeedsResync reports whether a bidirectional action still needs its
// one-time bisync baseline.
func (s *Store) NeedsResync(name string) (bool, error) {
	var initialized int
	err := s.db.QueryRow(
		`SELECT bisync_initialized FROM sync_state WHERE action_name = ?`, name,
	).Scan(&initialized)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying bisync state for %s: %w", name, err)
	}
	return initialized == 0, nil
}

// MarkInitialized records that the bisync baseline for an action exists.
func (s *Store) MarkInitialized(name string) error {
	if err := s.ensureRow(name); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE sync_state SET bisync_initialized = 1 WHERE action_name = ?`, name)
	return err
}

// RecordSuccess updates the last sync time and resets the error streak.
func (s *Store) RecordSuccess(name string, at time.Time) error {
	if err := s.ensureRow(name); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE sync_state SET last_sync_unix = ?, error_count = 0 WHERE action_name = ?`,
		at.Unix(), name)
	return err
}

// RecordFailure increments the consecutive error count.
func (s *Store) RecordFailure(name string) error {
	if err := s.ensureRow(name); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE sync_state SET error_count = error_count + 1 WHERE action_name = ?`, name)
	return err
}

// LastSync returns the last successful sync time for an action, zero if it
// never succeeded.
func (s *Store) LastSync(name string) (time.Time, error) {
	var unix int64
	err := s.db.QueryRow(
		`SELECT last_sync_unix FROM sync_state WHERE action_name = ?`, name,
	).Scan(&unix)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last sync for %s: %w", name, err)
	}
	if unix == 0 {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0), nil
}

// ErrorCount returns the consecutive failure count for an action.
func (s *Store) ErrorCount(name string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT error_count FROM sync_state WHERE action_name = ?`, name,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying error count for %s: %w", name, err)
	}
	return count, nil
}
