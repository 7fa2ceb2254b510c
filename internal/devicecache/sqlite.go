package devicecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS devices (
	port          TEXT PRIMARY KEY,
	target_name   TEXT NOT NULL,
	platform_name TEXT NOT NULL,
	baud_rate     INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
)`

// SQLiteStore persists entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Persister = (*SQLiteStore)(nil)

// DefaultPath returns the database location under the user cache dir.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nfdbg", "devices.db"), nil
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Load(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT port, target_name, platform_name, baud_rate, updated_at FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("load device cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var (
			port    string
			e       Entry
			updated int64
		)
		if err := rows.Scan(&port, &e.TargetName, &e.PlatformName, &e.BaudRate, &updated); err != nil {
			return nil, fmt.Errorf("load device cache: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(updated)
		out[port] = e
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, port string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (port, target_name, platform_name, baud_rate, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(port) DO UPDATE SET
			target_name = excluded.target_name,
			platform_name = excluded.platform_name,
			baud_rate = excluded.baud_rate,
			updated_at = excluded.updated_at`,
		port, e.TargetName, e.PlatformName, e.BaudRate, e.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store %s: %w", port, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, port string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE port = ?`, port); err != nil {
		return fmt.Errorf("delete %s: %w", port, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("clear device cache: %w", err)
	}
	return nil
}
