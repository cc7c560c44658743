package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prepchain/internal/store"
	"github.com/roach88/prepchain/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		s, err := store.Open(filepath.Join(t.TempDir(), "contract.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
