package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type sqliteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore 打开 SQLite 数据库；filename 为空时使用共享内存库。
func NewSQLiteStore(filename string) (Store, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL,
			digest TEXT NOT NULL,
			payload BLOB,
			stored_at INTEGER,
			PRIMARY KEY (generation, digest)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return &sqliteStore{db: db, writeMutex: &sync.Mutex{}}, nil
}

func (s *sqliteStore) Open(ctx context.Context, generation string) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		generation, time.Now().Unix())
	if err != nil {
		cacheErrors.WithLabelValues("sqlite", "open").Inc()
	}
	return err
}

func (s *sqliteStore) Match(ctx context.Context, generation string, key Key) (*Snapshot, error) {
	if err := validGeneration(generation); err != nil {
		return nil, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM entries WHERE generation = ? AND digest = ?",
		generation, key.Digest()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		cacheErrors.WithLabelValues("sqlite", "get").Inc()
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		cacheErrors.WithLabelValues("sqlite", "decode").Inc()
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if rec.Snapshot == nil || rec.Key != key {
		return nil, ErrNotFound
	}
	return rec.Snapshot, nil
}

func (s *sqliteStore) Put(ctx context.Context, generation string, key Key, snap *Snapshot) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	payload, err := json.Marshal(record{Key: key, Snapshot: snap})
	if err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		generation, time.Now().Unix()); err != nil {
		tx.Rollback()
		cacheErrors.WithLabelValues("sqlite", "put").Inc()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (generation, digest, payload, stored_at) VALUES (?, ?, ?, ?)",
		generation, key.Digest(), payload, snap.StoredAt.Unix()); err != nil {
		tx.Rollback()
		cacheErrors.WithLabelValues("sqlite", "put").Inc()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, generation string, key Key) error {
	if err := validGeneration(generation); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM entries WHERE generation = ? AND digest = ?", generation, key.Digest())
	if err != nil {
		cacheErrors.WithLabelValues("sqlite", "delete").Inc()
	}
	return err
}

func (s *sqliteStore) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY name ASC")
	if err != nil {
		cacheErrors.WithLabelValues("sqlite", "list").Inc()
		return nil, err
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

func (s *sqliteStore) DropGeneration(ctx context.Context, generation string) (bool, error) {
	if err := validGeneration(generation); err != nil {
		return false, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", generation)
	if err != nil {
		tx.Rollback()
		cacheErrors.WithLabelValues("sqlite", "drop").Inc()
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", generation); err != nil {
		tx.Rollback()
		cacheErrors.WithLabelValues("sqlite", "drop").Inc()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
