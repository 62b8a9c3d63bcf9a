package precheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/sitereset/internal/filelock"
	"github.com/lyndonlyu/sitereset/internal/sitedb"
)

func migratedDB(t *testing.T, path string) {
	t.Helper()
	db, err := sitedb.Open(path, "wp_", nil)
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestPathChecks(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "site.db")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name     string
		check    Check
		wantName string
		pass     bool
		msg      string
	}{
		{"dir exists", DirCheck{Dir: dir}, "dir:" + dir, true, "OK"},
		{"dir missing", DirCheck{Dir: missing}, "dir:" + missing, false, "directory not found"},
		{"dir is a file", DirCheck{Dir: file}, "dir:" + file, false, "not a directory"},
		{"file exists", FileCheck{Path: file, Desc: "site database"}, "file:site database", true, "OK"},
		{"file missing", FileCheck{Path: missing, Desc: "site database"}, "file:site database", false, "file not found"},
		{"writable", WritableCheck{Dir: dir}, "writable:" + dir, true, "OK"},
		{"not writable", WritableCheck{Dir: missing}, "writable:" + missing, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.check.Run()
			assert.Equal(t, tt.wantName, r.Name)
			assert.Equal(t, tt.wantName, tt.check.Name())
			assert.Equal(t, tt.pass, r.Passed)
			assert.Contains(t, r.Message, tt.msg)
		})
	}
}

func TestLockCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.lock")
	assert.True(t, LockCheck{Path: path}.Run().Passed)

	lock, err := filelock.Acquire(path, "run-7")
	require.NoError(t, err)
	result := LockCheck{Path: path}.Run()
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "run-7")

	require.NoError(t, lock.Release())
	assert.True(t, LockCheck{Path: path}.Run().Passed)
}

func TestSchemaCheck(t *testing.T) {
	dir := t.TempDir()

	missing := SchemaCheck{DBPath: filepath.Join(dir, "none.db"), Prefix: "wp_"}.Run()
	assert.False(t, missing.Passed)
	assert.Equal(t, "site database not found", missing.Message)
	assert.NoFileExists(t, filepath.Join(dir, "none.db"))

	empty := filepath.Join(dir, "empty.db")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	latest := sitedb.Schema("wp_").Latest()
	r := SchemaCheck{DBPath: empty, Prefix: "wp_"}.Run()
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "schema v0")

	full := filepath.Join(dir, "site.db")
	migratedDB(t, full)
	r = SchemaCheck{DBPath: full, Prefix: "wp_"}.Run()
	assert.True(t, r.Passed, r.Message)
	assert.Equal(t, "site-schema", r.Name)
	assert.Greater(t, latest, 0)
}

func TestDefaultRunner(t *testing.T) {
	root := t.TempDir()
	content := filepath.Join(root, "wp-content")
	require.NoError(t, os.MkdirAll(content, 0o755))
	dbPath := filepath.Join(root, "site.db")
	migratedDB(t, dbPath)
	state := t.TempDir()

	site := Site{Root: root, Content: content, DBPath: dbPath, Prefix: "wp_", StateDir: state,
		LockPath: filepath.Join(state, "reset.lock")}
	result := DefaultRunner(site).Run()
	assert.True(t, result.AllPassed, "%v", result.Failures())
	assert.Len(t, result.Results, 8)
	assert.Empty(t, result.Failures())

	site.Multisite = true
	result = DefaultRunner(site).Run()
	assert.False(t, result.AllPassed)
	assert.Equal(t, []CheckResult{{Name: "single-site", Message: "multisite installations cannot be reset"}},
		result.Failures())
}

func TestRunnerKeepsOrder(t *testing.T) {
	r := NewRunner()
	for _, c := range []CheckResult{
		{Name: "first", Passed: true, Message: "OK"},
		{Name: "second", Message: "something broke"},
		{Name: "third", Passed: true, Message: "OK"},
	} {
		c := c
		r.Add(CustomCheck{CheckName: c.Name, Fn: func() CheckResult { return c }})
	}

	assert.Equal(t, []string{"first", "second", "third"}, r.Checks())
	result := r.Run()
	assert.False(t, result.AllPassed)
	assert.NotEmpty(t, result.Duration)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "third", result.Results[2].Name)
	assert.Equal(t, []CheckResult{{Name: "second", Message: "something broke"}}, result.Failures())

	assert.True(t, NewRunner().Run().AllPassed)
}
