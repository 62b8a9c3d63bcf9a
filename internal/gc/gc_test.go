package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/sitereset/internal/statedb"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func writeAudit(t *testing.T, dir string, day time.Time) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, day.Format("2006-01-02")+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"step":"reset_database"}`+"\n"), 0644))
	return path
}

func openStore(t *testing.T) *statedb.DB {
	t.Helper()
	db, err := statedb.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.Now = func() time.Time { return now }
	return db
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 365, p.MaxRunDays)
	assert.Equal(t, 90, p.MaxAuditDays)
	assert.False(t, p.DryRun)
}

func TestAuditCleanupByAge(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	old := writeAudit(t, dir, now.AddDate(0, 0, -100))
	recent := writeAudit(t, dir, now.AddDate(0, 0, -5))
	other := filepath.Join(dir, "notes.jsonl")
	require.NoError(t, os.WriteFile(other, nil, 0644))

	res, err := Run(nil, dir, DefaultPolicy(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AuditFilesRemoved)
	assert.Positive(t, res.BytesFreed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, other)
}

func TestMissingAuditDir(t *testing.T) {
	res, err := Run(nil, filepath.Join(t.TempDir(), "nope"), DefaultPolicy(), now)
	require.NoError(t, err)
	assert.Zero(t, res.AuditFilesRemoved)
}

func TestRunsAndHandoffs(t *testing.T) {
	store := openStore(t)
	old := now.AddDate(-2, 0, 0).Format(time.RFC3339)
	require.NoError(t, store.InsertRun(statedb.RunRecord{ID: "old", Status: statedb.StatusCompleted, StartedAt: old, EndedAt: old}))
	require.NoError(t, store.InsertRun(statedb.RunRecord{ID: "new", Status: statedb.StatusCompleted,
		StartedAt: now.Format(time.RFC3339), EndedAt: now.Format(time.RFC3339)}))
	_, err := store.PutHandoff("new", []byte("{}"), -time.Minute)
	require.NoError(t, err)

	res, err := Run(store, t.TempDir(), DefaultPolicy(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsRemoved)
	assert.Equal(t, 1, res.HandoffsRemoved)

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}

func TestDryRun(t *testing.T) {
	store := openStore(t)
	old := now.AddDate(-2, 0, 0).Format(time.RFC3339)
	require.NoError(t, store.InsertRun(statedb.RunRecord{ID: "old", Status: statedb.StatusFailed, StartedAt: old, EndedAt: old}))
	dir := filepath.Join(t.TempDir(), "audit")
	path := writeAudit(t, dir, now.AddDate(0, 0, -200))

	policy := DefaultPolicy()
	policy.DryRun = true
	res, err := Run(store, dir, policy, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RunsRemoved)
	assert.Equal(t, 1, res.AuditFilesRemoved)

	assert.FileExists(t, path)
	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
