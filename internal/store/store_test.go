package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/ir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"steps", "preparations"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	origin := testOrigin("d1")
	_, _, err = s1.PutStep(ctx, origin)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetStep(ctx, origin.ID)
	require.NoError(t, err)
	assert.Equal(t, "d1", got.DatasetID)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	assert.NoError(t, s.Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.pragmaValue(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_RejectsNewerFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	steps := getTableColumns(t, s.db, "steps")
	for _, col := range []string{"id", "parent_id", "dataset_id", "actions", "created_at", "created_by", "ir_version"} {
		assert.True(t, slices.Contains(steps, col), "steps table missing column %q", col)
	}

	preps := getTableColumns(t, s.db, "preparations")
	for _, col := range []string{"id", "dataset_id", "head", "name", "owner", "lock_holder", "lock_acquired_at"} {
		assert.True(t, slices.Contains(preps, col), "preparations table missing column %q", col)
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	assert.Contains(t, getTableIndexes(t, s.db, "steps"), "idx_steps_parent")
	assert.Contains(t, getTableIndexes(t, s.db, "preparations"), "idx_preparations_dataset")
}

func TestConstraint_OriginShape(t *testing.T) {
	s := createTestStore(t)

	// A step with neither parent nor dataset violates the CHECK constraint.
	_, err := s.db.Exec(`
		INSERT INTO steps (id, parent_id, dataset_id, actions, created_at, created_by, ir_version)
		VALUES ('x', NULL, NULL, '[]', 0, 'u', '1')
	`)
	assert.Error(t, err)
}

func TestPutStep_StoresCanonicalActions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	origin := testOrigin("d1")
	_, _, err := s.PutStep(ctx, origin)
	require.NoError(t, err)

	step := testChild(origin.ID,
		ir.NewAction("rename_column", "new_name", "Total", "column_id", "0003"))
	_, _, err = s.PutStep(ctx, step)
	require.NoError(t, err)

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT actions FROM steps WHERE id = ?`, step.ID).Scan(&raw))
	assert.Equal(t, `[{"name":"rename_column","parameters":{"column_id":"0003","new_name":"Total"}}]`, raw)

	n, err := s.CountSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPutStep_KeepsParameterBytes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	origin := testOrigin("d1")
	_, _, err := s.PutStep(ctx, origin)
	require.NoError(t, err)

	// "cafe" followed by a combining acute accent, as read from an NFD source.
	decomposed := "cafe\u0301"
	step := testChild(origin.ID, ir.NewAction("replace", "column_id", "0001", "value", decomposed))
	_, _, err = s.PutStep(ctx, step)
	require.NoError(t, err)

	got, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, decomposed, got.Actions[0].Parameters["value"])

	id, err := ir.StepID(got.ParentID, got.Actions)
	require.NoError(t, err)
	assert.Equal(t, step.ID, id, "reloaded actions hash to the stored id")
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		require.NoError(t, rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk))
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	require.NoError(t, err)
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	return indexes
}
