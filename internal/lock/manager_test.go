package lock

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T, ttl time.Duration) (*Manager, *clock, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	origin := ir.Step{ID: ir.MustOriginID("D1"), DatasetID: "D1", CreatedBy: "system", IRVersion: ir.IRVersion}
	_, _, err = s.PutStep(ctx, origin)
	require.NoError(t, err)
	require.NoError(t, s.CreatePreparation(ctx, ir.Preparation{ID: "P", DatasetID: "D1", Head: origin.ID, Owner: "alice"}))

	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(s, Config{TTL: ttl, Now: c.Now}), c, s
}

func TestAcquire_Scenario(t *testing.T) {
	m, c, _ := setup(t, 0)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "P", "alice")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "P", "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrConcurrentEditConflict)
	assert.Contains(t, err.Error(), "alice")

	c.Advance(time.Minute)
	lock, err := m.Acquire(ctx, "P", "alice")
	require.NoError(t, err, "re-acquiring your own lock refreshes it")
	assert.True(t, lock.AcquiredAt.Equal(c.Now()))
}

func TestAcquire_NoExpiryByDefault(t *testing.T) {
	m, c, _ := setup(t, 0)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "P", "alice")
	require.NoError(t, err)

	c.Advance(365 * 24 * time.Hour)
	_, err = m.Acquire(ctx, "P", "bob")
	assert.ErrorIs(t, err, ir.ErrConcurrentEditConflict)
}

func TestAcquire_TTLExpiry(t *testing.T) {
	m, c, _ := setup(t, 15*time.Minute)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "P", "alice")
	require.NoError(t, err)

	c.Advance(14 * time.Minute)
	_, err = m.Acquire(ctx, "P", "bob")
	assert.ErrorIs(t, err, ir.ErrConcurrentEditConflict)

	c.Advance(time.Minute)
	lock, err := m.Acquire(ctx, "P", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", lock.Holder)
}

func TestExpiresAt(t *testing.T) {
	m, c, _ := setup(t, 15*time.Minute)
	assert.Equal(t, 15*time.Minute, m.TTL())

	lock, err := m.Acquire(context.Background(), "P", "alice")
	require.NoError(t, err)
	at, ok := m.ExpiresAt(lock)
	require.True(t, ok)
	assert.True(t, at.Equal(c.Now().Add(15*time.Minute)))

	forever, _, _ := setup(t, 0)
	_, ok = forever.ExpiresAt(lock)
	assert.False(t, ok)
}

func TestAcquire_UnknownPreparation(t *testing.T) {
	m, _, _ := setup(t, 0)
	_, err := m.Acquire(context.Background(), "nope", "alice")
	assert.ErrorIs(t, err, ir.ErrPreparationNotFound)
}

func TestAcquire_MutualExclusion(t *testing.T) {
	m, _, s := setup(t, 0)
	ctx := context.Background()

	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire(ctx, "P", u); err == nil {
				mu.Lock()
				winners = append(winners, u)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ir.ErrConcurrentEditConflict)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one user can hold the lock")
	prep, err := s.GetPreparation(ctx, "P")
	require.NoError(t, err)
	require.NotNil(t, prep.Lock)
	assert.Equal(t, winners[0], prep.Lock.Holder)
}

func TestRelease(t *testing.T) {
	m, _, s := setup(t, 0)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "P", "alice")
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, "P", "bob"), "releasing someone else's lock is silent")
	prep, err := s.GetPreparation(ctx, "P")
	require.NoError(t, err)
	require.NotNil(t, prep.Lock)

	require.NoError(t, m.Release(ctx, "P", "alice"))
	require.NoError(t, m.Release(ctx, "P", "alice"), "release is idempotent")

	prep, err = s.GetPreparation(ctx, "P")
	require.NoError(t, err)
	assert.Nil(t, prep.Lock)
}

func TestCheckWriter(t *testing.T) {
	m, c, _ := setup(t, time.Hour)
	at := c.Now()

	unlocked := ir.Preparation{ID: "P"}
	assert.NoError(t, m.CheckWriter(unlocked, "anyone"))

	locked := ir.Preparation{ID: "P", Lock: &ir.Lock{Holder: "alice", AcquiredAt: at}}
	assert.NoError(t, m.CheckWriter(locked, "alice"))
	assert.ErrorIs(t, m.CheckWriter(locked, "bob"), ir.ErrConcurrentEditConflict)

	c.Advance(time.Hour)
	assert.NoError(t, m.CheckWriter(locked, "bob"), "expired locks do not block writers")
}
