package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updraft-io/updraft/internal/ir"
)

func TestStore_ReadMissingReturnsFresh(t *testing.T) {
	store := NewStore(t.TempDir())

	record, err := store.Read()
	require.NoError(t, err)

	assert.Equal(t, ir.RecordVersion, record.Version)
	assert.Empty(t, record.Units)
}

func TestStore_WriteReadRoundtrip(t *testing.T) {
	store := NewStore(t.TempDir())

	record := ir.NewRecord()
	record.Put("function:users", &ir.RecordEntry{
		ContentHash:   "abc123",
		RemoteID:      "arn:aws:lambda:eu-west-1:000000000000:function:demo-users-dev",
		RemoteVersion: "$LATEST",
		LastSuccess:   time.Now().UTC(),
	})
	require.NoError(t, store.Write(record))

	loaded, err := store.Read()
	require.NoError(t, err)

	entry, ok := loaded.Entry("function:users")
	require.True(t, ok)
	assert.Equal(t, ir.ContentHash("abc123"), entry.ContentHash)
	assert.Equal(t, "arn:aws:lambda:eu-west-1:000000000000:function:demo-users-dev", entry.RemoteID)
	assert.Equal(t, ir.RecordVersion, loaded.Version)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestStore_WriteLeavesNoTempFile(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Write(ir.NewRecord()))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}

	// The record ends with a newline so diffs stay clean.
	raw, err := os.ReadFile(store.RecordPath())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "\n"))
}

func TestStore_CorruptRecordFails(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(store.RecordPath(), []byte("{ truncated"), 0o644))

	_, err := store.Read()

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "parsing", storeErr.Op)
	assert.Equal(t, store.RecordPath(), storeErr.Path)
}

func TestStore_UnknownVersionFails(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, os.MkdirAll(store.Dir(), 0o755))
	require.NoError(t, os.WriteFile(store.RecordPath(), []byte(`{"version": 99, "units": {}}`), 0o644))

	_, err := store.Read()

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Contains(t, err.Error(), "unsupported record version 99")
	assert.Contains(t, err.Error(), "version 1")
}

func TestLock_SecondAcquireFails(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Lock("run1"))

	raw, err := os.ReadFile(filepath.Join(store.Dir(), "lock"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "run=run1")

	err = store.Lock("run2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another run")

	require.NoError(t, store.Unlock())
	assert.NoError(t, store.Lock("run2"))
	require.NoError(t, store.Unlock())
}

func TestLock_StaleLockIsReplaced(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Lock("run1"))

	// Age the lock past the staleness cutoff.
	lockPath := filepath.Join(store.Dir(), "lock")
	old := time.Now().Add(-11 * time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	require.NoError(t, store.Lock("run2"))

	raw, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "run=run2")
	require.NoError(t, store.Unlock())
}

func TestUnlock_WithoutLockIsFine(t *testing.T) {
	store := NewStore(t.TempDir())
	assert.NoError(t, store.Unlock())
}
