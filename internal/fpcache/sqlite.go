package fpcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vk/kbuildgo/internal/ctxlog"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// sqliteBackend persists entries in a SQLite database.
type sqliteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (creating if needed) the cache database at path and
// loads its entries. An unreadable database yields a *CorruptionError.
func OpenSQLite(ctx context.Context, path string) (*Cache, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &sqliteBackend{db: db}
	if err := b.initialize(ctx); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, &CorruptionError{Path: path, Err: err}
	}

	c, err := New(ctx, b)
	if err != nil {
		_ = db.Close()
		return nil, &CorruptionError{Path: path, Err: err}
	}
	return c, nil
}

// OpenOrReset opens the cache at path. A corrupt cache is logged, removed
// and recreated empty, which only costs a full rebuild.
func OpenOrReset(ctx context.Context, path string) (*Cache, error) {
	c, err := OpenSQLite(ctx, path)
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		return c, err
	}

	ctxlog.FromContext(ctx).Warn("Fingerprint cache is corrupt; starting with an empty cache.", "path", path, "error", corrupt.Err)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing corrupt fingerprint cache: %w", err)
		}
	}
	return OpenSQLite(ctx, path)
}

func (s *sqliteBackend) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS fingerprints (
		unit TEXT NOT NULL,
		context TEXT NOT NULL,
		state TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		output TEXT NOT NULL,
		output_digest TEXT NOT NULL,
		discovered TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (unit, context, state)
	);
	INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '` + schemaVersion + `');
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	var version string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("unsupported schema version %q", version)
	}

	var check string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if check != "ok" {
		return fmt.Errorf("integrity check: %s", check)
	}
	return nil
}

func (s *sqliteBackend) LoadAll(ctx context.Context) (map[Key]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT unit, context, state, fingerprint, output, output_digest, discovered, updated_at FROM fingerprints",
	)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	all := make(map[Key]Entry)
	for rows.Next() {
		var (
			k          Key
			e          Entry
			discovered []byte
			updated    int64
		)
		if err := rows.Scan(&k.Unit, &k.Context, &k.State, &e.Fingerprint, &e.Output, &e.OutputDigest, &discovered, &updated); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		if err := json.Unmarshal(discovered, &e.Discovered); err != nil {
			return nil, fmt.Errorf("unmarshal discovered inputs of %s: %w", k.Unit, err)
		}
		e.UpdatedAt = time.Unix(0, updated).UTC()
		all[k] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return all, nil
}

func (s *sqliteBackend) Put(ctx context.Context, key Key, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	discovered := entry.Discovered
	if discovered == nil {
		discovered = []string{}
	}
	data, err := json.Marshal(discovered)
	if err != nil {
		return fmt.Errorf("marshal discovered inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (unit, context, state, fingerprint, output, output_digest, discovered, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (unit, context, state) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			output = excluded.output,
			output_digest = excluded.output_digest,
			discovered = excluded.discovered,
			updated_at = excluded.updated_at`,
		key.Unit, key.Context, key.State, entry.Fingerprint, entry.Output, entry.OutputDigest, string(data), entry.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

func (s *sqliteBackend) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM fingerprints WHERE unit = ? AND context = ? AND state = ?",
		key.Unit, key.Context, key.State,
	)
	if err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	return nil
}

func (s *sqliteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
