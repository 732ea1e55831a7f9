package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a file-backed Cache that survives restarts; used for geocodes,
// which rarely change.
type SQLite struct {
	DB  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the table.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open %s: %w", path, err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	c := &SQLite{DB: db, now: time.Now}
	if err := c.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.DB.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);`)
	if err != nil {
		return fmt.Errorf("sqlite cache: create table: %w", err)
	}
	return nil
}

func (c *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	var expires int64
	err := c.DB.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&val, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite cache get: %w", err)
	}
	if expires != 0 && c.now().UnixNano() >= expires {
		if _, err := c.DB.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("sqlite cache evict: %w", err)
		}
		return nil, false, nil
	}
	return val, true, nil
}

func (c *SQLite) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = c.now().Add(ttl).UnixNano()
	}
	_, err := c.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, val, expires)
	if err != nil {
		return fmt.Errorf("sqlite cache set key=%q: %w", key, err)
	}
	return nil
}

func (c *SQLite) Close() error { return c.DB.Close() }
