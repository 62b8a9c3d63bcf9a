package killswitch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsActive(t *testing.T) {
	dir := t.TempDir()
	s := InDir(dir)
	assert.Equal(t, filepath.Join(dir, FileName), s.Path())

	assert.False(t, s.IsActive())

	require.NoError(t, os.WriteFile(s.Path(), []byte("test"), 0644))
	assert.True(t, s.IsActive())
}

func TestActivateAndClear(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", FileName))

	require.NoError(t, s.Activate("migration in progress\n"))
	assert.True(t, s.IsActive())
	assert.Equal(t, "migration in progress", s.Reason())

	require.NoError(t, s.Clear())
	assert.False(t, s.IsActive())
	assert.Empty(t, s.Reason())
}

func TestClearIdempotent(t *testing.T) {
	s := InDir(t.TempDir())
	assert.NoError(t, s.Clear())
	assert.NoError(t, s.Clear())
}

func TestCheck(t *testing.T) {
	s := InDir(t.TempDir())
	assert.NoError(t, s.Check())

	require.NoError(t, s.Activate("support ticket 42"))
	err := s.Check()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDisabled))
	assert.Equal(t, "resets are disabled on this site: support ticket 42", err.Error())

	require.NoError(t, s.Activate(""))
	assert.Equal(t, "resets are disabled on this site", s.Check().Error())
}

func TestCheckNilSwitch(t *testing.T) {
	var s *Switch
	assert.NoError(t, s.Check())
}
