package badgerstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/store"
)

var _ store.Repository = (*Store)(nil)

// PutStep stores step unless its content address is already taken.
func (s *Store) PutStep(ctx context.Context, step ir.Step) (ir.Step, bool, error) {
	if err := checkStepShape(step); err != nil {
		return ir.Step{}, false, fmt.Errorf("write step: %w", err)
	}

	var (
		stored  ir.Step
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		var existing stepRecord
		err := getJSON(txn, stepKey(step.ID), &existing)
		if err == nil {
			stored = existing.step()
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if !step.IsOrigin() {
			if _, err := txn.Get(stepKey(step.ParentID)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("parent %s: %w", step.ParentID, store.ErrNotFound)
				}
				return err
			}
		}

		rec := toStepRecord(step)
		if err := setJSON(txn, stepKey(step.ID), rec); err != nil {
			return err
		}
		stored = rec.step()
		created = true
		return nil
	})
	if err != nil {
		return ir.Step{}, false, fmt.Errorf("write step: %w", err)
	}
	return stored, created, nil
}

// GetStep returns store.ErrNotFound for an unknown id.
func (s *Store) GetStep(_ context.Context, id string) (ir.Step, error) {
	var rec stepRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, stepKey(id), &rec)
	})
	if err != nil {
		return ir.Step{}, fmt.Errorf("read step %s: %w", id, err)
	}
	return rec.step(), nil
}

// CreatePreparation inserts a preparation; the head step must exist.
func (s *Store) CreatePreparation(ctx context.Context, prep ir.Preparation) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(prepKey(prep.ID)); err == nil {
			return store.ErrDuplicate
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(stepKey(prep.Head)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("head %s: %w", prep.Head, store.ErrNotFound)
			}
			return err
		}
		return setJSON(txn, prepKey(prep.ID), toPrepRecord(prep))
	})
	if err != nil {
		return fmt.Errorf("write preparation %s: %w", prep.ID, err)
	}
	return nil
}

// GetPreparation returns store.ErrNotFound for an unknown id.
func (s *Store) GetPreparation(_ context.Context, id string) (ir.Preparation, error) {
	var rec prepRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prepKey(id), &rec)
	})
	if err != nil {
		return ir.Preparation{}, fmt.Errorf("read preparation %s: %w", id, err)
	}
	return rec.preparation(), nil
}

// ListPreparations scans the prep/ prefix and sorts by creation time
// then id.
func (s *Store) ListPreparations(_ context.Context, datasetID string) ([]ir.Preparation, error) {
	preps := []ir.Preparation{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prepPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec prepRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if datasetID != "" && rec.DatasetID != datasetID {
				continue
			}
			preps = append(preps, rec.preparation())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query preparations: %w", err)
	}

	slices.SortFunc(preps, func(a, b ir.Preparation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return preps, nil
}

// RenamePreparation updates the display name.
func (s *Store) RenamePreparation(ctx context.Context, id, name string, at time.Time) error {
	return s.mutatePreparation(ctx, "rename preparation", id, func(rec *prepRecord) error {
		rec.Name = name
		rec.UpdatedAt = at.UTC().UnixNano()
		return nil
	})
}

// DeletePreparation removes the envelope only.
func (s *Store) DeletePreparation(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(prepKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		return txn.Delete(prepKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete preparation: %w", err)
	}
	return nil
}

// CompareAndSetHead moves head from expected to next.
func (s *Store) CompareAndSetHead(ctx context.Context, id, expected, next string, at time.Time) error {
	return s.mutatePreparation(ctx, "move head", id, func(rec *prepRecord) error {
		if rec.Head != expected {
			return store.ErrHeadMismatch
		}
		rec.Head = next
		rec.UpdatedAt = at.UTC().UnixNano()
		return nil
	}, stepKey(next))
}

// AcquireLock takes or refreshes the edit lock.
func (s *Store) AcquireLock(ctx context.Context, id, holder string, at time.Time, ttl time.Duration) (ir.Lock, error) {
	var current ir.Lock
	err := s.mutatePreparation(ctx, "acquire lock", id, func(rec *prepRecord) error {
		if rec.LockHolder != "" && rec.LockHolder != holder &&
			!store.LockExpired(time.Unix(0, rec.LockAcquiredAt), at, ttl) {
			current = ir.Lock{Holder: rec.LockHolder, AcquiredAt: time.Unix(0, rec.LockAcquiredAt).UTC()}
			return store.ErrLockHeld
		}
		rec.LockHolder = holder
		rec.LockAcquiredAt = at.UTC().UnixNano()
		current = ir.Lock{Holder: holder, AcquiredAt: at.UTC()}
		return nil
	})
	return current, err
}

// ReleaseLock clears the lock when holder owns it.
func (s *Store) ReleaseLock(ctx context.Context, id, holder string) (bool, error) {
	var released bool
	err := s.mutatePreparation(ctx, "release lock", id, func(rec *prepRecord) error {
		released = false
		if rec.LockHolder != holder {
			return errUnchanged
		}
		rec.LockHolder = ""
		rec.LockAcquiredAt = 0
		released = true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// Releasing on a vanished preparation is as harmless as releasing a
		// lock you do not hold.
		return false, nil
	}
	return released, err
}

// errUnchanged aborts a mutation without reporting failure.
var errUnchanged = errors.New("unchanged")

// mutatePreparation reads, modifies and writes one preparation record in a
// single transaction. mustExist lists step keys that must be present for
// the write to commit.
func (s *Store) mutatePreparation(ctx context.Context, op, id string, fn func(*prepRecord) error, mustExist ...[]byte) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var rec prepRecord
		if err := getJSON(txn, prepKey(id), &rec); err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		for _, key := range mustExist {
			if _, err := txn.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%s: %w", key, store.ErrNotFound)
				}
				return err
			}
		}
		return setJSON(txn, prepKey(id), rec)
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

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
