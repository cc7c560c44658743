package store

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/prepchain/internal/ir"
)

// Storage-level errors. Callers translate them into ir error codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrHeadMismatch = errors.New("head does not match expected value")
	ErrLockHeld     = errors.New("lock held by another user")
	ErrDuplicate    = errors.New("record already exists")
)

// Repository is the durable key-value contract shared by the SQLite store
// and the Badger backend.
type Repository interface {
	// PutStep stores step if no step with its id exists. It returns the
	// stored record (the existing one on conflict) and whether it was
	// newly created.
	PutStep(ctx context.Context, step ir.Step) (ir.Step, bool, error)

	// GetStep returns ErrNotFound when the id is unknown.
	GetStep(ctx context.Context, id string) (ir.Step, error)

	CreatePreparation(ctx context.Context, prep ir.Preparation) error
	GetPreparation(ctx context.Context, id string) (ir.Preparation, error)

	// ListPreparations returns preparations ordered by creation time then
	// id. An empty datasetID lists every preparation.
	ListPreparations(ctx context.Context, datasetID string) ([]ir.Preparation, error)

	RenamePreparation(ctx context.Context, id, name string, at time.Time) error

	// DeletePreparation removes the envelope only; steps stay.
	DeletePreparation(ctx context.Context, id string) error

	// CompareAndSetHead moves head from expected to next, or returns
	// ErrHeadMismatch when the stored head is no longer expected.
	CompareAndSetHead(ctx context.Context, id, expected, next string, at time.Time) error

	// AcquireLock stamps holder as the lock owner when the lock is unheld,
	// already held by holder, or older than ttl (ttl <= 0 never expires).
	// On conflict it returns the current lock and ErrLockHeld.
	AcquireLock(ctx context.Context, id, holder string, at time.Time, ttl time.Duration) (ir.Lock, error)

	// ReleaseLock clears the lock when holder owns it and reports whether
	// anything changed.
	ReleaseLock(ctx context.Context, id, holder string) (bool, error)

	Close() error
}

// LockExpired reports whether a lock stamped at acquiredAt has lapsed at
// now under ttl. A non-positive ttl means locks never expire.
func LockExpired(acquiredAt, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return !acquiredAt.Add(ttl).After(now)
}
