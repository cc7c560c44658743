// Package lock implements the per-preparation, single-owner edit lock.
//
// The lock is cooperative: it keeps two users from editing the same
// preparation, but does not serialize head writes. That is the service's
// job. Lock state lives on the preparation record so the store's
// conditional update is the only arbiter between contending users.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/store"
)

// Store is the lock persistence. store.Repository satisfies it.
type Store interface {
	AcquireLock(ctx context.Context, id, holder string, at time.Time, ttl time.Duration) (ir.Lock, error)
	ReleaseLock(ctx context.Context, id, holder string) (bool, error)
	GetPreparation(ctx context.Context, id string) (ir.Preparation, error)
}

// Config controls lock expiry.
type Config struct {
	// TTL is how long a lock stays valid without being refreshed.
	// Zero keeps locks until explicitly released.
	TTL time.Duration

	// Now is the clock used to stamp and expire locks.
	Now func() time.Time

	Logger *slog.Logger
}

// Manager acquires, releases and checks edit locks.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(s Store, cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{store: s, ttl: cfg.TTL, now: cfg.Now, logger: cfg.Logger}
}

// TTL returns the configured expiry; zero means never.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// ExpiresAt reports when l lapses unless refreshed. ok is false when
// locks never expire.
func (m *Manager) ExpiresAt(l ir.Lock) (at time.Time, ok bool) {
	ttl := m.TTL()
	if ttl <= 0 {
		return time.Time{}, false
	}
	return l.AcquiredAt.Add(ttl), true
}

// Acquire takes the lock for userID, or refreshes its timestamp when
// userID already holds it. A lock held by anyone else (and not expired)
// fails with ConcurrentEditConflict.
func (m *Manager) Acquire(ctx context.Context, prepID, userID string) (ir.Lock, error) {
	if userID == "" {
		return ir.Lock{}, errors.New("acquire lock: user id is required")
	}

	lock, err := m.store.AcquireLock(ctx, prepID, userID, m.now(), m.ttl)
	switch {
	case err == nil:
		m.logger.Debug("lock acquired", "preparation_id", prepID, "holder", userID)
		return lock, nil
	case errors.Is(err, store.ErrLockHeld):
		m.logger.Info("lock conflict", "preparation_id", prepID, "requested_by", userID, "holder", lock.Holder)
		return ir.Lock{}, ir.NewConcurrentEditConflict(prepID, lock.Holder)
	case errors.Is(err, store.ErrNotFound):
		return ir.Lock{}, ir.NewPreparationNotFound(prepID)
	default:
		return ir.Lock{}, err
	}
}

// Release clears the lock when userID holds it. Releasing a lock held by
// someone else, or no lock at all, is a silent no-op.
func (m *Manager) Release(ctx context.Context, prepID, userID string) error {
	released, err := m.store.ReleaseLock(ctx, prepID, userID)
	if err != nil {
		return err
	}
	if released {
		m.logger.Debug("lock released", "preparation_id", prepID, "holder", userID)
	}
	return nil
}

// CheckWriter reports whether userID may write to prep. An unlocked
// preparation, or one locked by userID, admits the write; a live lock held
// by someone else is ConcurrentEditConflict.
func (m *Manager) CheckWriter(prep ir.Preparation, userID string) error {
	holder, held := m.Holder(prep)
	if !held || holder == userID {
		return nil
	}
	return ir.NewConcurrentEditConflict(prep.ID, holder)
}

// Holder returns the current, unexpired lock holder of prep.
func (m *Manager) Holder(prep ir.Preparation) (string, bool) {
	if prep.Lock == nil {
		return "", false
	}
	if store.LockExpired(prep.Lock.AcquiredAt, m.now(), m.ttl) {
		return "", false
	}
	return prep.Lock.Holder, true
}
