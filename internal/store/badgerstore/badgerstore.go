// Package badgerstore implements store.Repository on BadgerDB.
//
// Keys are namespaced by record kind:
//
//	step/<content address>  -> stepRecord JSON
//	prep/<preparation id>   -> prepRecord JSON
//
// Every write runs in one read-write transaction. Badger aborts a
// transaction with ErrConflict when another commit touched a key it read,
// which is what gives PutStep create-if-absent and CompareAndSetHead its
// compare-and-swap semantics; conflicting transactions are re-run with
// backoff.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives Badger's internal log lines.
	// If nil, Badger's logging is disabled.
	Logger *slog.Logger

	// ConflictRetries bounds how often a conflicting transaction is re-run.
	ConflictRetries uint
}

// DefaultConfig returns durable defaults rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		SyncWrites:      true,
		ConflictRetries: 8,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory:        true,
		ConflictRetries: 8,
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a store.Repository backed by one Badger database.
type Store struct {
	db      *badger.DB
	retries uint
}

// Open opens a Badger database per cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	retries := cfg.ConflictRetries
	if retries == 0 {
		retries = 1
	}
	return &Store{db: db, retries: retries}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, re-running it when Badger
// reports a commit conflict. Any other error ends the retry loop.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.db.Update(fn)
		if err == nil || errors.Is(err, badger.ErrConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.retries))
	return err
}
