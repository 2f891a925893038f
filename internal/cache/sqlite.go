package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_stores (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id    INTEGER NOT NULL,
	key         TEXT NOT NULL,
	method      TEXT NOT NULL,
	url         TEXT NOT NULL,
	mode        TEXT NOT NULL,
	status      INTEGER NOT NULL,
	status_text TEXT NOT NULL,
	type        TEXT NOT NULL,
	resp_url    TEXT NOT NULL,
	header      TEXT NOT NULL,
	body        BLOB NOT NULL,
	UNIQUE(store_id, key)
);
CREATE INDEX IF NOT EXISTS cache_entries_store ON cache_entries(store_id, seq);`

// SQLiteStorage is a durable Storage on pure-Go SQLite. Bodies are stored
// zstd-compressed and headers as JSON.
type SQLiteStorage struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSQLiteStorage opens (or creates) a SQLite-backed storage.
// Use ":memory:" for an in-memory database.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection keeps ":memory:" databases coherent and serializes
	// writers the way SQLite wants them anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &SQLiteStorage{db: db, enc: enc, dec: dec}, nil
}

// Open returns the named store, creating it if absent.
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cache_stores (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		name, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM cache_stores WHERE name = ?", name).Scan(&id); err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	return &sqliteStore{storage: s, id: id, name: name}, nil
}

// Has reports whether the named store exists.
func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_stores WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has store %q: %w", name, err)
	}
	return n > 0, nil
}

// Delete removes the named store and its entries. Writes through handles
// opened before the delete land on the old store id and are swept here on
// the next delete.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM cache_stores WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE store_id NOT IN (SELECT id FROM cache_stores)"); err != nil {
		return false, fmt.Errorf("delete entries of %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete store %q: %w", name, err)
	}
	return n > 0, nil
}

// Names lists stores in creation order.
func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM cache_stores ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

type sqliteStore struct {
	storage *SQLiteStorage
	id      int64
	name    string
}

func (s *sqliteStore) Name() string { return s.name }

func (s *sqliteStore) Match(ctx context.Context, req Request) (*Response, error) {
	var (
		resp   Response
		rtype  string
		header string
		body   []byte
	)
	err := s.storage.db.QueryRowContext(ctx, `
		SELECT status, status_text, type, resp_url, header, body
		FROM cache_entries WHERE store_id = ? AND key = ?`,
		s.id, req.Key(),
	).Scan(&resp.Status, &resp.StatusText, &rtype, &resp.URL, &header, &body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match %q: %w", req.Key(), err)
	}

	resp.Type = ResponseType(rtype)
	if err := sonic.UnmarshalString(header, &resp.Header); err != nil {
		return nil, fmt.Errorf("decode header of %q: %w", req.Key(), err)
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Body = []byte{}
	if len(body) > 0 {
		resp.Body, err = s.storage.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decode body of %q: %w", req.Key(), err)
		}
	}
	return &resp, nil
}

func (s *sqliteStore) Put(ctx context.Context, req Request, resp *Response) error {
	header, err := sonic.MarshalString(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header of %q: %w", req.Key(), err)
	}
	body := []byte{}
	if len(resp.Body) > 0 {
		body = s.storage.enc.EncodeAll(resp.Body, nil)
	}

	tx, err := s.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %q: %w", req.Key(), err)
	}
	defer tx.Rollback()

	// Delete then insert so the entry takes a fresh, newest seq.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE store_id = ? AND key = ?", s.id, req.Key()); err != nil {
		return fmt.Errorf("put %q: %w", req.Key(), err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries
			(store_id, key, method, url, mode, status, status_text, type, resp_url, header, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.id, req.Key(), req.Method, req.URL, string(req.Mode),
		resp.Status, resp.StatusText, string(resp.Type), resp.URL, header, body,
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", req.Key(), err)
	}
	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, req Request) (bool, error) {
	res, err := s.storage.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE store_id = ? AND key = ?", s.id, req.Key())
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", req.Key(), err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]Request, error) {
	rows, err := s.storage.db.QueryContext(ctx,
		"SELECT method, url, mode FROM cache_entries WHERE store_id = ? ORDER BY seq", s.id)
	if err != nil {
		return nil, fmt.Errorf("list keys of %q: %w", s.name, err)
	}
	defer rows.Close()

	var keys []Request
	for rows.Next() {
		var req Request
		var mode string
		if err := rows.Scan(&req.Method, &req.URL, &mode); err != nil {
			return nil, err
		}
		req.Mode = Mode(mode)
		keys = append(keys, req)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.storage.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_entries WHERE store_id = ?", s.id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", s.name, err)
	}
	return n, nil
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Store   = (*sqliteStore)(nil)
)
