package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/prepchain/internal/ir"
)

// PutStep inserts a step record unless one with the same id exists.
// Uses ON CONFLICT(id) DO NOTHING: the id is a content address, so a
// conflicting row already holds the same parent and actions and the first
// writer's CreatedAt/CreatedBy are kept.
//
// A missing parent violates the foreign key and is reported as ErrNotFound.
func (s *Store) PutStep(ctx context.Context, step ir.Step) (ir.Step, bool, error) {
	if err := checkStepShape(step); err != nil {
		return ir.Step{}, false, fmt.Errorf("write step: %w", err)
	}

	actionsJSON, err := marshalActions(step.Actions)
	if err != nil {
		return ir.Step{}, false, fmt.Errorf("write step: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO steps
		(id, parent_id, dataset_id, actions, created_at, created_by, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		step.ID,
		nullString(step.ParentID),
		nullString(step.DatasetID),
		actionsJSON,
		toNanos(step.CreatedAt),
		step.CreatedBy,
		step.IRVersion,
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return ir.Step{}, false, fmt.Errorf("write step: parent %s: %w", step.ParentID, ErrNotFound)
		}
		return ir.Step{}, false, fmt.Errorf("write step: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return ir.Step{}, false, fmt.Errorf("write step: %w", err)
	}
	if n == 1 {
		return step, true, nil
	}

	existing, err := s.GetStep(ctx, step.ID)
	if err != nil {
		return ir.Step{}, false, fmt.Errorf("write step: read existing: %w", err)
	}
	return existing, false, nil
}

// CreatePreparation inserts a new preparation envelope.
// Returns ErrDuplicate when the id is taken and ErrNotFound when the head
// step does not exist.
func (s *Store) CreatePreparation(ctx context.Context, prep ir.Preparation) error {
	var holder any
	var acquired any
	if prep.Lock != nil {
		holder = prep.Lock.Holder
		acquired = toNanos(prep.Lock.AcquiredAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preparations
		(id, dataset_id, head, name, owner, lock_holder, lock_acquired_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		prep.ID,
		prep.DatasetID,
		prep.Head,
		prep.Name,
		prep.Owner,
		holder,
		acquired,
		toNanos(prep.CreatedAt),
		toNanos(prep.UpdatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique):
		return fmt.Errorf("write preparation %s: %w", prep.ID, ErrDuplicate)
	case isConstraint(err, sqlite3.ErrConstraintForeignKey):
		return fmt.Errorf("write preparation %s: head %s: %w", prep.ID, prep.Head, ErrNotFound)
	default:
		return fmt.Errorf("write preparation: %w", err)
	}
}

// RenamePreparation updates the display name.
func (s *Store) RenamePreparation(ctx context.Context, id, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE preparations SET name = ?, updated_at = ? WHERE id = ?
	`, name, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("rename preparation: %w", err)
	}
	return expectOneRow(res, "rename preparation")
}

// DeletePreparation removes the envelope. Steps it pointed at are kept:
// other preparations may share them.
func (s *Store) DeletePreparation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM preparations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete preparation: %w", err)
	}
	return expectOneRow(res, "delete preparation")
}

// CompareAndSetHead moves the head pointer only if it still equals
// expected. The whole edit becomes visible in this one statement: steps
// written beforehand are unreachable from this preparation until it
// succeeds.
func (s *Store) CompareAndSetHead(ctx context.Context, id, expected, next string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE preparations SET head = ?, updated_at = ?
		WHERE id = ? AND head = ?
	`, next, toNanos(at), id, expected)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return fmt.Errorf("move head: step %s: %w", next, ErrNotFound)
		}
		return fmt.Errorf("move head: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("move head: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Distinguish a vanished preparation from a lost race.
	if _, err := s.GetPreparation(ctx, id); err != nil {
		return fmt.Errorf("move head: %w", err)
	}
	return fmt.Errorf("move head: %w", ErrHeadMismatch)
}

// AcquireLock takes or refreshes the edit lock in one conditional UPDATE.
func (s *Store) AcquireLock(ctx context.Context, id, holder string, at time.Time, ttl time.Duration) (ir.Lock, error) {
	var cutoff int64
	if ttl > 0 {
		cutoff = toNanos(at.Add(-ttl))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE preparations SET lock_holder = ?, lock_acquired_at = ?
		WHERE id = ?
		  AND (lock_holder IS NULL
		       OR lock_holder = ?
		       OR (? > 0 AND lock_acquired_at <= ?))
	`, holder, toNanos(at), id, holder, int64(ttl), cutoff)
	if err != nil {
		return ir.Lock{}, fmt.Errorf("acquire lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return ir.Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	if n == 1 {
		return ir.Lock{Holder: holder, AcquiredAt: at.UTC()}, nil
	}

	prep, err := s.GetPreparation(ctx, id)
	if err != nil {
		return ir.Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	if prep.Lock == nil {
		// Released between the UPDATE and the read; report as held so the
		// caller retries rather than assuming ownership.
		return ir.Lock{}, fmt.Errorf("acquire lock: %w", ErrLockHeld)
	}
	return *prep.Lock, fmt.Errorf("acquire lock: %w", ErrLockHeld)
}

// ReleaseLock clears the lock only when holder owns it.
func (s *Store) ReleaseLock(ctx context.Context, id, holder string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE preparations SET lock_holder = NULL, lock_acquired_at = NULL
		WHERE id = ? AND lock_holder = ?
	`, id, holder)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return n == 1, nil
}

// checkStepShape enforces the origin/non-origin field rules before the
// CHECK constraint sees them, so callers get a readable error.
func checkStepShape(step ir.Step) error {
	if step.ID == "" {
		return errors.New("step id is required")
	}
	if step.IsOrigin() {
		if step.DatasetID == "" {
			return fmt.Errorf("origin step %s has no dataset", step.ID)
		}
		if len(step.Actions) != 0 {
			return fmt.Errorf("origin step %s has actions", step.ID)
		}
		return nil
	}
	if step.DatasetID != "" {
		return fmt.Errorf("non-origin step %s carries a dataset binding", step.ID)
	}
	return nil
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return slices.Contains(codes, sqliteErr.ExtendedCode)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(res rowsAffecter, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
