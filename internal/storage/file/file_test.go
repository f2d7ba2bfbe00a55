package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtl-ledger-indexer/internal/storage"
)

func TestDocumentStore_ReadMissing(t *testing.T) {
	store := NewDocumentStore("primary", filepath.Join(t.TempDir(), "ledger.json"))

	_, err := store.Read(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocumentStore_WriteCreatesDirectories(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "validator1.json")
	store := NewDocumentStore("validator1", path)

	require.NoError(t, store.Write(ctx, []byte(`{"v":1}`)))
	data, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	// No temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "validator1.json", entries[0].Name())
}

func TestDocumentStore_ConcurrentReadersSeeWholeDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore("primary", filepath.Join(t.TempDir(), "ledger.json"))

	small := []byte(strings.Repeat("a", 16))
	large := []byte(strings.Repeat("b", 1<<16))
	require.NoError(t, store.Write(ctx, small))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				_ = store.Write(ctx, large)
			} else {
				_ = store.Write(ctx, small)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		data, err := store.Read(ctx)
		require.NoError(t, err)
		ok := string(data) == string(small) || string(data) == string(large)
		require.True(t, ok, "torn read of length %d", len(data))
	}
	wg.Wait()
}

func TestDocumentStore_RemoveAndQuarantine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	store := NewDocumentStore("primary", path)

	assert.NoError(t, store.Remove(ctx), "removing a missing file is not an error")

	require.NoError(t, store.Write(ctx, []byte("{broken")))
	moved, err := store.Quarantine("1700000000")
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt-1700000000", moved)

	_, err = store.Read(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	data, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(data))
}

func TestChainProgressStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultProgressFile)
	store := NewChainProgressStore(path)

	_, err := store.GetLastProcessed(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetLastProcessed(ctx, &storage.ChainProgress{Block: 19000123}))
	got, err := store.GetLastProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(19000123), got.Block)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "19000123", string(raw))

	require.NoError(t, os.WriteFile(path, []byte("not-a-number"), 0o644))
	_, err = store.GetLastProcessed(ctx)
	assert.Error(t, err)
}

func TestContentStore(t *testing.T) {
	ctx := context.Background()
	store := NewContentStore(t.TempDir())

	ref, err := store.Put(ctx, []byte(`{"template_name":"Rent"}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "Qm"))

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, `{"template_name":"Rent"}`, string(data))

	_, err = store.Get(ctx, "QmUnknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Get(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
