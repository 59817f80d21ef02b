package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("should return not found for unknown documents", func(t *testing.T) {
		var d doc
		assert.ErrorIs(t, s.Get(ctx, "task", "missing", &d), ErrNotFound)
	})

	t.Run("should round trip and overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "task", "t1", doc{ID: "t1", State: "pending"}))
		require.NoError(t, s.Put(ctx, "task", "t1", doc{ID: "t1", State: "running"}))

		var d doc
		require.NoError(t, s.Get(ctx, "task", "t1", &d))
		assert.Equal(t, "running", d.State)
	})

	t.Run("should list a kind in id order", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "vsession", "b", doc{ID: "b"}))
		require.NoError(t, s.Put(ctx, "vsession", "a", doc{ID: "a"}))

		raw, err := s.List(ctx, "vsession")
		require.NoError(t, err)
		require.Len(t, raw, 2)

		var first doc
		require.NoError(t, json.Unmarshal(raw[0], &first))
		assert.Equal(t, "a", first.ID)
	})

	t.Run("should delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "task", "gone", doc{ID: "gone"}))
		require.NoError(t, s.Delete(ctx, "task", "gone"))

		var d doc
		assert.ErrorIs(t, s.Get(ctx, "task", "gone", &d), ErrNotFound)
	})

	t.Run("should reject empty keys", func(t *testing.T) {
		assert.Error(t, s.Put(ctx, "", "x", doc{}))
		assert.Error(t, s.Put(ctx, "task", "", doc{}))
	})
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "superninja.db"))
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "superninja.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "task", "t1", doc{ID: "t1", State: "completed"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var d doc
	require.NoError(t, s.Get(context.Background(), "task", "t1", &d))
	assert.Equal(t, "completed", d.State)
}

func TestCached(t *testing.T) {
	backing := NewMemory()
	s, err := NewCached(backing, 1<<20, 0)
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)

	t.Run("should serve reads from cache", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "task", "c1", doc{ID: "c1", State: "running"}))
		s.Wait()

		// Bypass the cache so the two copies diverge.
		require.NoError(t, backing.Put(ctx, "task", "c1", doc{ID: "c1", State: "failed"}))

		var d doc
		require.NoError(t, s.Get(ctx, "task", "c1", &d))
		assert.Equal(t, "running", d.State)
	})
}
