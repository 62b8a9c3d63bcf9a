package filelock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "reset.lock")

	lock, err := Acquire(path, "run-1")
	require.NoError(t, err)
	assert.Equal(t, path, lock.Path)
	assert.FileExists(t, path)

	meta, err := ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), meta.PID)
	assert.Equal(t, "run-1", meta.Holder)
	assert.Equal(t, LockVersion, meta.Version)

	require.NoError(t, lock.Release())
	assert.NoFileExists(t, path+".meta")
	require.NoError(t, lock.Release(), "second release is a no-op")
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.lock")

	first, err := Acquire(path, "run-1")
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(path, "run-2")
	require.ErrorIs(t, err, ErrLocked)
	var held *HolderError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "run-1", held.Meta.Holder)
	assert.Contains(t, err.Error(), "run-1")

	require.NoError(t, first.Release())
	again, err := Acquire(path, "run-2")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestIsStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reset.lock")

	assert.True(t, IsStale(path), "no meta is stale")

	lock, err := Acquire(path, "run")
	require.NoError(t, err)
	assert.False(t, IsStale(path))
	require.NoError(t, lock.Release())

	data, err := json.Marshal(Meta{PID: 999999999, Version: LockVersion})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".meta", data, 0644))
	assert.True(t, IsStale(path))
}

func TestReadMetaCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.lock")
	require.NoError(t, os.WriteFile(path+".meta", []byte("{"), 0644))

	_, err := ReadMeta(path)
	assert.Error(t, err)
}
