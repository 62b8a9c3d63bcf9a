package hooks

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRunsInOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.Add(Shutdown, "first", func(...any) { calls = append(calls, "first") })
	r.Add(Shutdown, "second", func(...any) { calls = append(calls, "second") })
	r.Add(Activate, "other", func(...any) { calls = append(calls, "other") })

	r.Do(Shutdown)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"first", "second"}, r.Names(Shutdown))
}

func TestRegistryRemoveAll(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.Add(Shutdown, "stale", func(...any) { fired = true })

	assert.Equal(t, 1, r.RemoveAll(Shutdown))
	r.Do(Shutdown)
	assert.False(t, fired)
	assert.Equal(t, 0, r.RemoveAll(Shutdown))
}

func TestRegistryPassesArgs(t *testing.T) {
	r := NewRegistry()
	var got []any
	r.Add(Activate, "capture", func(args ...any) { got = args })
	r.Do(Activate, "brand/brand.php")
	assert.Equal(t, []any{"brand/brand.php"}, got)
}

func TestWarningsStack(t *testing.T) {
	var buf bytes.Buffer
	w := NewWarnings(slog.New(slog.NewTextHandler(&buf, nil)))

	w.Warn("leftover file", "path", "x.php")
	assert.Contains(t, buf.String(), "leftover file")

	buf.Reset()
	w.Push(Swallow)
	assert.Equal(t, 1, w.Depth())
	w.Warn("ignored")
	assert.Empty(t, buf.String())

	w.Pop()
	w.Pop()
	assert.Equal(t, 0, w.Depth())
	w.Warn("visible again")
	assert.Contains(t, buf.String(), "visible again")
}

func TestWarningsUnhandledFallsThrough(t *testing.T) {
	var buf bytes.Buffer
	w := NewWarnings(slog.New(slog.NewTextHandler(&buf, nil)))
	w.Push(func(string, ...any) bool { return false })
	w.Warn("passes")
	assert.Contains(t, buf.String(), "passes")
}
