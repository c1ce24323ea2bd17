// ABOUTME: Tests for the JSON document backend
// ABOUTME: Covers persistence, file format, load errors and write-before-commit semantics

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDocumentStore_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, KindDocument, s.Kind())
	assert.Equal(t, path, s.Path())
	n, err := collection(t, s, CollectionChannel).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "opening must not create the file")
}

func TestOpenDocumentStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	s.Close()
}

func TestOpenDocumentStore_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channel": [`), 0644))

	_, err := OpenDocumentStore(path)
	assert.Error(t, err)
}

func TestOpenDocumentStore_SkipsRecordsWithoutID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	content := `{"tools": [
		{"id": "t1", "name": "calc"},
		{"name": "no id"},
		{"id": 42, "name": "numeric id"},
		{"id": "", "name": "empty id"},
		{"id": "t2", "name": "search"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	defer s.Close()

	all, err := collection(t, s, CollectionTools).ListItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids(all))
}

func TestDocumentStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	c := collection(t, s, CollectionChannel)
	_, err = c.SetItem(ctx, "c1", map[string]any{"name": "general", "tools": []any{"t1"}})
	require.NoError(t, err)
	_, err = c.SetItem(ctx, "c2", map[string]any{"name": "ops"})
	require.NoError(t, err)
	require.NoError(t, c.RemoveItem(ctx, "c2"))
	_, err = collection(t, s, CollectionTriggers).SetItem(ctx, "tr1", map[string]any{"name": "daily"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenDocumentStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := collection(t, reopened, CollectionChannel).ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, map[string]any{"name": "general", "tools": []any{"t1"}}, got[0].Fields)

	n, err := collection(t, reopened, CollectionTriggers).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDocumentStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = collection(t, s, CollectionUserStates).SetItem(ctx, "s1", map[string]any{"userId": "u1", "step": 3})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []map[string]any{{"id": "s1", "userId": "u1", "step": 3.0}}, raw[CollectionUserStates])
}

func TestDocumentStore_FailedWriteIsNotCommitted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dir, "store.json")
	ctx := context.Background()

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	defer s.Close()
	c := collection(t, s, CollectionChannel)

	_, err = c.SetItem(ctx, "c1", map[string]any{"name": "general"})
	require.NoError(t, err)

	// Replace the directory with a regular file so the next write cannot create its temp file.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("blocker"), 0644))

	_, err = c.SetItem(ctx, "c2", map[string]any{"name": "ops"})
	require.Error(t, err)
	require.Error(t, c.Clear(ctx))

	all, err := c.ListItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(all), "memory state must match what was last written")
}

func TestDocumentStore_NoOpMutationsSkipWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	s, err := OpenDocumentStore(path)
	require.NoError(t, err)
	defer s.Close()

	c := collection(t, s, CollectionChannel)
	require.NoError(t, c.RemoveItem(ctx, "missing"))
	require.NoError(t, c.Clear(ctx))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing changed, so nothing is written")
}

func TestMemoryStore_NeverTouchesDisk(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	assert.Empty(t, s.Path())
	_, err := collection(t, s, CollectionTools).SetItem(context.Background(), "t1", map[string]any{"name": "calc"})
	require.NoError(t, err)
}
