// Package storetest holds the behavioural contract every store.Repository
// implementation must satisfy. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/store"
)

// Factory opens a fresh, empty repository for one subtest.
type Factory func(t *testing.T) store.Repository

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Origin builds an origin step record for datasetID.
func Origin(datasetID string) ir.Step {
	return ir.Step{
		ID:        ir.MustOriginID(datasetID),
		DatasetID: datasetID,
		Actions:   []ir.Action{},
		CreatedAt: epoch,
		CreatedBy: "system",
		IRVersion: ir.IRVersion,
	}
}

// Child builds a step record under parent.
func Child(parent string, by string, actions ...ir.Action) ir.Step {
	return ir.Step{
		ID:        ir.MustStepID(parent, actions),
		ParentID:  parent,
		Actions:   actions,
		CreatedAt: epoch,
		CreatedBy: by,
		IRVersion: ir.IRVersion,
	}
}

// Run executes the full contract against the factory.
func Run(t *testing.T, newRepo Factory) {
	t.Run("PutStepCreatesThenDedups", func(t *testing.T) { testPutStepDedup(t, newRepo(t)) })
	t.Run("PutStepRoundTripsActions", func(t *testing.T) { testPutStepRoundTrip(t, newRepo(t)) })
	t.Run("PutStepMissingParent", func(t *testing.T) { testPutStepMissingParent(t, newRepo(t)) })
	t.Run("PutStepRejectsBadShape", func(t *testing.T) { testPutStepBadShape(t, newRepo(t)) })
	t.Run("PutStepConcurrent", func(t *testing.T) { testPutStepConcurrent(t, newRepo(t)) })
	t.Run("GetStepNotFound", func(t *testing.T) { testGetStepNotFound(t, newRepo(t)) })
	t.Run("PreparationLifecycle", func(t *testing.T) { testPreparationLifecycle(t, newRepo(t)) })
	t.Run("PreparationDuplicate", func(t *testing.T) { testPreparationDuplicate(t, newRepo(t)) })
	t.Run("ListPreparationsOrdering", func(t *testing.T) { testListOrdering(t, newRepo(t)) })
	t.Run("CompareAndSetHead", func(t *testing.T) { testCompareAndSetHead(t, newRepo(t)) })
	t.Run("LockAcquireRelease", func(t *testing.T) { testLock(t, newRepo(t)) })
	t.Run("LockTTLExpiry", func(t *testing.T) { testLockTTL(t, newRepo(t)) })
}

func seedPreparation(t *testing.T, repo store.Repository, id, datasetID string) ir.Preparation {
	t.Helper()
	ctx := context.Background()
	origin := Origin(datasetID)
	_, _, err := repo.PutStep(ctx, origin)
	require.NoError(t, err)

	prep := ir.Preparation{
		ID:        id,
		DatasetID: datasetID,
		Head:      origin.ID,
		Name:      "prep " + id,
		Owner:     "alice",
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
	require.NoError(t, repo.CreatePreparation(ctx, prep))
	return prep
}

func testPutStepDedup(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	origin := Origin("d1")

	_, created, err := repo.PutStep(ctx, origin)
	require.NoError(t, err)
	assert.True(t, created)

	first := Child(origin.ID, "alice", ir.NewAction("negate", "column_id", "0001"))
	stored, created, err := repo.PutStep(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, stored.ID)

	second := first
	second.CreatedBy = "bob"
	second.CreatedAt = epoch.Add(time.Hour)
	stored, created, err = repo.PutStep(ctx, second)
	require.NoError(t, err)
	assert.False(t, created, "same content address must not create a second record")
	assert.Equal(t, "alice", stored.CreatedBy, "first writer's audit fields win")
	assert.True(t, stored.CreatedAt.Equal(epoch))
}

func testPutStepRoundTrip(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	origin := Origin("d1")
	_, _, err := repo.PutStep(ctx, origin)
	require.NoError(t, err)

	step := Child(origin.ID, "alice",
		ir.NewAction("lookup", "lookup_ds_id", "d2", "column_id", "0001"),
		ir.Action{Name: "deduplicate"},
	)
	_, _, err = repo.PutStep(ctx, step)
	require.NoError(t, err)

	got, err := repo.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, step.ID, got.ID)
	assert.Equal(t, origin.ID, got.ParentID)
	assert.Empty(t, got.DatasetID)
	assert.True(t, ir.ActionsEqual(step.Actions, got.Actions))
	assert.Equal(t, "lookup", got.Actions[0].Name, "action order is preserved")
	assert.Equal(t, ir.IRVersion, got.IRVersion)

	gotOrigin, err := repo.GetStep(ctx, origin.ID)
	require.NoError(t, err)
	assert.True(t, gotOrigin.IsOrigin())
	assert.Equal(t, "d1", gotOrigin.DatasetID)
	assert.Empty(t, gotOrigin.Actions)
}

func testPutStepMissingParent(t *testing.T, repo store.Repository) {
	orphan := Child(ir.MustOriginID("never-stored"), "alice", ir.NewAction("negate"))
	_, _, err := repo.PutStep(context.Background(), orphan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testPutStepBadShape(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	noDataset := Origin("d1")
	noDataset.DatasetID = ""
	_, _, err := repo.PutStep(ctx, noDataset)
	assert.Error(t, err)

	withActions := Origin("d1")
	withActions.Actions = []ir.Action{ir.NewAction("negate")}
	_, _, err = repo.PutStep(ctx, withActions)
	assert.Error(t, err)

	_, _, err = repo.PutStep(ctx, ir.Step{})
	assert.Error(t, err)
}

func testPutStepConcurrent(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	origin := Origin("d1")
	_, _, err := repo.PutStep(ctx, origin)
	require.NoError(t, err)

	step := Child(origin.ID, "alice", ir.NewAction("uppercase", "column_id", "0001"))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := repo.PutStep(ctx, step)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[got.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one writer creates the record")
	assert.Len(t, ids, 1)
}

func testGetStepNotFound(t *testing.T, repo store.Repository) {
	_, err := repo.GetStep(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testPreparationLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	prep := seedPreparation(t, repo, "p1", "d1")

	got, err := repo.GetPreparation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, prep.Head, got.Head)
	assert.Equal(t, "d1", got.DatasetID)
	assert.Equal(t, "alice", got.Owner)
	assert.Nil(t, got.Lock)
	assert.True(t, got.CreatedAt.Equal(epoch))

	later := epoch.Add(time.Minute)
	require.NoError(t, repo.RenamePreparation(ctx, "p1", "renamed", later))
	got, err = repo.GetPreparation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.True(t, got.UpdatedAt.Equal(later))

	require.NoError(t, repo.DeletePreparation(ctx, "p1"))
	_, err = repo.GetPreparation(ctx, "p1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Steps survive the envelope.
	_, err = repo.GetStep(ctx, prep.Head)
	assert.NoError(t, err)

	assert.True(t, errors.Is(repo.DeletePreparation(ctx, "p1"), store.ErrNotFound))
	assert.True(t, errors.Is(repo.RenamePreparation(ctx, "p1", "x", later), store.ErrNotFound))
}

func testPreparationDuplicate(t *testing.T, repo store.Repository) {
	prep := seedPreparation(t, repo, "p1", "d1")
	err := repo.CreatePreparation(context.Background(), prep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDuplicate))
}

func testListOrdering(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedPreparation(t, repo, "p2", "d1")
	seedPreparation(t, repo, "p1", "d1")
	seedPreparation(t, repo, "p3", "d2")

	all, err := repo.ListPreparations(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	d1, err := repo.ListPreparations(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, d1, 2)

	none, err := repo.ListPreparations(ctx, "d9")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testCompareAndSetHead(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	prep := seedPreparation(t, repo, "p1", "d1")

	step := Child(prep.Head, "alice", ir.NewAction("negate", "column_id", "0001"))
	_, _, err := repo.PutStep(ctx, step)
	require.NoError(t, err)

	require.NoError(t, repo.CompareAndSetHead(ctx, "p1", prep.Head, step.ID, epoch.Add(time.Second)))
	got, err := repo.GetPreparation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, step.ID, got.Head)

	// Stale expectation loses.
	err = repo.CompareAndSetHead(ctx, "p1", prep.Head, prep.Head, epoch)
	assert.True(t, errors.Is(err, store.ErrHeadMismatch))
	got, err = repo.GetPreparation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, step.ID, got.Head, "failed CAS leaves head unchanged")

	err = repo.CompareAndSetHead(ctx, "nope", prep.Head, step.ID, epoch)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testLock(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedPreparation(t, repo, "p1", "d1")

	lock, err := repo.AcquireLock(ctx, "p1", "alice", epoch, 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", lock.Holder)

	held, err := repo.AcquireLock(ctx, "p1", "bob", epoch.Add(time.Hour), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrLockHeld))
	assert.Equal(t, "alice", held.Holder)

	refreshed, err := repo.AcquireLock(ctx, "p1", "alice", epoch.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.True(t, refreshed.AcquiredAt.Equal(epoch.Add(time.Minute)))

	released, err := repo.ReleaseLock(ctx, "p1", "bob")
	require.NoError(t, err)
	assert.False(t, released, "releasing someone else's lock is a no-op")

	got, err := repo.GetPreparation(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.Lock)
	assert.Equal(t, "alice", got.Lock.Holder)

	released, err = repo.ReleaseLock(ctx, "p1", "alice")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = repo.AcquireLock(ctx, "p1", "bob", epoch, 0)
	require.NoError(t, err)

	_, err = repo.AcquireLock(ctx, "missing", "bob", epoch, 0)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testLockTTL(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedPreparation(t, repo, "p1", "d1")
	ttl := 10 * time.Minute

	_, err := repo.AcquireLock(ctx, "p1", "alice", epoch, ttl)
	require.NoError(t, err)

	_, err = repo.AcquireLock(ctx, "p1", "bob", epoch.Add(ttl-time.Second), ttl)
	assert.True(t, errors.Is(err, store.ErrLockHeld))

	lock, err := repo.AcquireLock(ctx, "p1", "bob", epoch.Add(ttl), ttl)
	require.NoError(t, err, "an expired lock can be taken over")
	assert.Equal(t, "bob", lock.Holder)
}
