package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteCache stores cache entries in the cache_entries table.
type SQLiteCache struct {
	db    *Database
	quota int
	feed  changeFeed
}

// NewSQLiteCache creates a cache on db. quota is the per-value byte limit,
// 0 for none.
func NewSQLiteCache(db *Database, quota int) *SQLiteCache {
	return &SQLiteCache{db: db, quota: quota}
}

// Get implements Cache.
func (c *SQLiteCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	var value string
	err := c.db.GetContext(ctx, &value, `SELECT value FROM cache_entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := decode(key, []byte(value), dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Cache.
func (c *SQLiteCache) Set(ctx context.Context, key string, value any) error {
	b, err := encode(key, value, c.quota)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cache_entries (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := c.db.ExecContext(ctx, query, key, string(b)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	c.feed.notify(key)
	return nil
}

// Delete implements Cache.
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	c.feed.notify(key)
	return nil
}

// Subscribe implements Cache.
func (c *SQLiteCache) Subscribe(fn func(key string)) func() {
	return c.feed.subscribe(fn)
}

// Close is a no-op; the Database is owned by the caller.
func (c *SQLiteCache) Close() error {
	return nil
}
