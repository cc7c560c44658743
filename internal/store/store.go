package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// formatVersion is stamped into PRAGMA user_version. A database carrying a
// higher stamp was written by a newer layout and is refused.
const formatVersion = 1

// connPragmas configure every connection: WAL so readers never block the
// single writer, and foreign keys so a step cannot reference a missing parent.
var connPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is the SQLite-backed Repository for steps and preparations.
type Store struct {
	db *sql.DB
}

var _ Repository = (*Store)(nil)

// Open opens (creating if needed) the step store at path. Reopening an
// existing store is a no-op apart from the format check.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open step store %s: %w", path, err)
	}
	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open step store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// prepare pins the pool to one connection, so every conditional head
// update in write.go runs serialized, then applies pragmas and the schema.
func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range connPragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	var stamp int
	if err := db.QueryRow("PRAGMA user_version").Scan(&stamp); err != nil {
		return fmt.Errorf("read format version: %w", err)
	}
	if stamp > formatVersion {
		return fmt.Errorf("store format %d is newer than supported format %d", stamp, formatVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", formatVersion)); err != nil {
		return fmt.Errorf("stamp format version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance queries and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CountSteps returns the number of stored steps, reachable or not.
func (s *Store) CountSteps(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count steps: %w", err)
	}
	return n, nil
}

// pragmaValue reads a single pragma for tests.
func (s *Store) pragmaValue(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return value, nil
}
