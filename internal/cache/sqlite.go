package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS caches (
    name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    cache TEXT NOT NULL REFERENCES caches(name) ON DELETE CASCADE,
    url TEXT NOT NULL,
    status INTEGER NOT NULL,
    header TEXT NOT NULL,
    body BLOB NOT NULL,
    stored_at INTEGER NOT NULL,
    PRIMARY KEY (cache, url)
);
`

// SQLiteStorage persists caches in a SQLite database file.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, fmt.Errorf("error: cannot open cache database: %w", err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error: cannot open cache database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error: failed to create cache schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// sqliteDSN builds a file: URI for path with the connection pragmas. The path
// is escaped so that '?' or '#' in a directory name stay part of the path.
func sqliteDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{
		Scheme:   "file",
		Path:     p,
		RawQuery: "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
	}
	return u.String(), nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("error: failed to open cache %q: %w", name, err)
	}
	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache = ?`, name); err != nil {
		return false, fmt.Errorf("error: failed to delete entries of %q: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("error: failed to delete cache %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error: failed to list caches: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Match(ctx context.Context, name, url string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, status, header, body, stored_at FROM entries WHERE cache = ? AND url = ?`,
		name, url)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error: failed to match %s in %q: %w", url, name, err)
	}
	return e, nil
}

func (s *SQLiteStorage) MatchAll(ctx context.Context, name string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, status, header, body, stored_at FROM entries WHERE cache = ? ORDER BY url`,
		name)
	if err != nil {
		return nil, fmt.Errorf("error: failed to query cache %q: %w", name, err)
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Put(ctx context.Context, name string, e *Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("error: failed to open cache %q: %w", name, err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO entries (cache, url, status, header, body, stored_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (cache, url) DO UPDATE SET
            status = excluded.status,
            header = excluded.header,
            body = excluded.body,
            stored_at = excluded.stored_at
    `, name, e.URL, e.Status, string(header), body, storedAt.UnixMilli()); err != nil {
		return fmt.Errorf("error: failed to store %s in %q: %w", e.URL, name, err)
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e        Entry
		header   string
		storedAt int64
	)
	if err := row.Scan(&e.URL, &e.Status, &header, &e.Body, &storedAt); err != nil {
		return nil, err
	}
	e.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("error: corrupt header for %s: %w", e.URL, err)
	}
	e.StoredAt = time.UnixMilli(storedAt)
	return &e, nil
}
