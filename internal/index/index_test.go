package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndQueryRanksByTermFrequency(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Put(1, "hello world hello"))
	require.NoError(t, ix.Put(2, "hello there"))

	results := ix.Query("hello", 10)
	require.Len(t, results, 2)
	assert.Equal(t, Result{DocID: 1, Score: 2}, results[0])
}

func TestQueryExcludesNonMatchingDocs(t *testing.T) {
	ix := New()
	ix.Put(1, "apples and oranges")
	ix.Put(2, "bananas")

	results := ix.Query("oranges", 10)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].DocID)
}

func TestQueryRespectsMaxResults(t *testing.T) {
	ix := New()
	for i := uint64(1); i <= 5; i++ {
		ix.Put(i, "common term")
	}
	results := ix.Query("common", 2)
	assert.Len(t, results, 2)
}

func TestPutOverwritesPriorPostingsForSameDoc(t *testing.T) {
	ix := New()
	ix.Put(1, "alpha")
	ix.Put(1, "beta")

	assert.Empty(t, ix.Query("alpha", 10))
	assert.Len(t, ix.Query("beta", 10), 1)
}

func TestDeleteRemovesDocFromPostings(t *testing.T) {
	ix := New()
	ix.Put(1, "gamma")
	ix.Delete(1)
	assert.Empty(t, ix.Query("gamma", 10))
}

func TestSaveIsNoOpWhenNotDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.gob")

	ix := New()
	require.NoError(t, ix.Save(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "Save() on a clean index created a file, want no-op")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.gob")

	ix := New()
	ix.Put(1, "persisted content")
	require.NoError(t, ix.Save(path))
	assert.False(t, ix.Dirty())

	loaded := New()
	require.NoError(t, loaded.Load(path))
	results := loaded.Query("persisted", 10)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].DocID)
}

func TestLoadMissingFileIsCleanEmptyIndex(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Load(filepath.Join(t.TempDir(), "missing.gob")))
	assert.Empty(t, ix.Query("anything", 10))
}
