package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/ir"
)

// SaveCache replaces the persisted cache with entries in one transaction.
func (s *Store) SaveCache(ctx context.Context, entries []cache.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("save cache: clear: %w", err)
	}

	for _, e := range entries {
		if err := writeCacheEntry(ctx, tx, e.Watch, e.Data); err != nil {
			return fmt.Errorf("save cache: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save cache: commit: %w", err)
	}
	return nil
}

// LoadCache reads the persisted cache into a new MemoryStore.
func (s *Store) LoadCache(ctx context.Context) (*cache.MemoryStore, error) {
	entries, err := s.CacheEntries(ctx)
	if err != nil {
		return nil, err
	}
	m := cache.NewMemoryStore()
	for _, e := range entries {
		if err := m.WriteQuery(ctx, e.Watch, e.Data); err != nil {
			return nil, fmt.Errorf("load cache: %w", err)
		}
	}
	return m, nil
}

// CacheEntries returns the persisted entries ordered by watch key.
func (s *Store) CacheEntries(ctx context.Context) ([]cache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT watch_key, query, variables, data
		FROM cache_entries
		ORDER BY watch_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	defer rows.Close()

	entries := []cache.Entry{}
	for rows.Next() {
		var key, query, vars, data string
		if err := rows.Scan(&key, &query, &vars, &data); err != nil {
			return nil, fmt.Errorf("load cache: scan: %w", err)
		}
		variables, err := unmarshalDocument(vars)
		if err != nil {
			return nil, fmt.Errorf("load cache %s: %w", key, err)
		}
		obj, err := unmarshalDocument(data)
		if err != nil {
			return nil, fmt.Errorf("load cache %s: %w", key, err)
		}
		entries = append(entries, cache.Entry{
			Watch: cache.Watch{Query: query, Variables: variables},
			Data:  obj,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	return entries, nil
}

// CacheDigests maps watch key to the page digest recorded at save time.
// Used by verify to compare two cache states without loading the data.
func (s *Store) CacheDigests(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT watch_key, digest FROM cache_entries ORDER BY watch_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("cache digests: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, digest string
		if err := rows.Scan(&key, &digest); err != nil {
			return nil, fmt.Errorf("cache digests: scan: %w", err)
		}
		out[key] = digest
	}
	return out, rows.Err()
}

// Cache returns a cache.Store view over cache_entries, so reconciliation
// can patch the persisted cache without loading it into memory.
func (s *Store) Cache() *SQLCache {
	return &SQLCache{store: s}
}

// SQLCache implements cache.Store on the cache_entries table.
type SQLCache struct {
	store *Store
}

var _ cache.Store = (*SQLCache)(nil)

// Watches returns every persisted watch ordered by key.
func (c *SQLCache) Watches(ctx context.Context) ([]cache.Watch, error) {
	entries, err := c.store.CacheEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]cache.Watch, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Watch)
	}
	return out, nil
}

// ReadQuery returns the data persisted for w, or cache.ErrNotFound.
func (c *SQLCache) ReadQuery(ctx context.Context, w cache.Watch) (ir.IRObject, error) {
	key, err := w.Key()
	if err != nil {
		return nil, fmt.Errorf("watch key: %w", err)
	}

	var data string
	err = c.store.db.QueryRowContext(ctx, `
		SELECT data FROM cache_entries WHERE watch_key = ?
	`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	return unmarshalDocument(data)
}

// WriteQuery upserts the data for w.
func (c *SQLCache) WriteQuery(ctx context.Context, w cache.Watch, data ir.IRObject) error {
	if err := writeCacheEntry(ctx, c.store.db, w, data); err != nil {
		return fmt.Errorf("write query: %w", err)
	}
	return nil
}

func writeCacheEntry(ctx context.Context, db execer, w cache.Watch, data ir.IRObject) error {
	key, err := w.Key()
	if err != nil {
		return fmt.Errorf("watch key: %w", err)
	}
	vars, err := marshalDocument(w.Variables)
	if err != nil {
		return fmt.Errorf("watch %s: %w", key, err)
	}
	text, err := marshalDocument(data)
	if err != nil {
		return fmt.Errorf("watch %s: %w", key, err)
	}
	digest, err := ir.PageDigest(data)
	if err != nil {
		return fmt.Errorf("watch %s: %w", key, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO cache_entries (watch_key, query, variables, data, digest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(watch_key) DO UPDATE SET data = excluded.data, digest = excluded.digest
	`, key, w.Query, vars, text, digest)
	if err != nil {
		return fmt.Errorf("watch %s: %w", key, err)
	}
	return nil
}
