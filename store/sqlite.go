package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB holds the shared connection for every bucket in one database file.
type SQLiteDB struct {
	db    *sql.DB
	mutex sync.Mutex
}

func OpenSQLite(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, storageErr("creating data dir", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	s, err := NewSQLiteDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteDB wraps an already opened handle and makes sure the kv table exists.
func NewSQLiteDB(db *sql.DB) (*SQLiteDB, error) {
	s := &SQLiteDB{db: db}
	if err := s.initializeTables(); err != nil {
		return nil, fmt.Errorf("error initializing tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteDB) initializeTables() error {
	_, err := s.db.Exec(`
        CREATE TABLE IF NOT EXISTS kv (
            bucket TEXT NOT NULL,
            key TEXT NOT NULL,
            value TEXT NOT NULL,
            PRIMARY KEY (bucket, key)
        )
    `)
	if err != nil {
		return fmt.Errorf("error creating kv table: %w", err)
	}
	return nil
}

func (s *SQLiteDB) Bucket(name string) *SQLiteBucket {
	return &SQLiteBucket{db: s, name: name}
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// SQLiteBucket is a Backend scoped to one bucket of the kv table. Closing a
// bucket does not close the shared database.
type SQLiteBucket struct {
	db   *SQLiteDB
	name string
}

func (b *SQLiteBucket) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	b.db.mutex.Lock()
	defer b.db.mutex.Unlock()

	rows, err := b.db.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE bucket = ?", b.name)
	if err != nil {
		return nil, storageErr("querying bucket "+b.name, err)
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, storageErr("scanning bucket "+b.name, err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating bucket "+b.name, err)
	}
	return out, nil
}

func (b *SQLiteBucket) Save(ctx context.Context, data map[string]json.RawMessage) error {
	b.db.mutex.Lock()
	defer b.db.mutex.Unlock()

	tx, err := b.db.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("starting transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE bucket = ?", b.name); err != nil {
		return storageErr("clearing bucket "+b.name, err)
	}

	if len(data) > 0 {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO kv (bucket, key, value) VALUES (?, ?, ?)")
		if err != nil {
			return storageErr("preparing insert", err)
		}
		defer stmt.Close()

		for key, value := range data {
			if _, err := stmt.ExecContext(ctx, b.name, key, string(value)); err != nil {
				return storageErr("inserting "+key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("committing transaction", err)
	}
	return nil
}

func (b *SQLiteBucket) Close() error { return nil }
