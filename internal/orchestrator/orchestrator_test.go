package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/sitereset/internal/audit"
	"github.com/lyndonlyu/sitereset/internal/auth"
	"github.com/lyndonlyu/sitereset/internal/brand"
	"github.com/lyndonlyu/sitereset/internal/filelock"
	"github.com/lyndonlyu/sitereset/internal/hooks"
	"github.com/lyndonlyu/sitereset/internal/killswitch"
	"github.com/lyndonlyu/sitereset/internal/metrics"
	"github.com/lyndonlyu/sitereset/internal/notify"
	"github.com/lyndonlyu/sitereset/internal/options"
	"github.com/lyndonlyu/sitereset/internal/plugin"
	"github.com/lyndonlyu/sitereset/internal/reset"
	"github.com/lyndonlyu/sitereset/internal/session"
	"github.com/lyndonlyu/sitereset/internal/sitedb"
	"github.com/lyndonlyu/sitereset/internal/sitefs"
	"github.com/lyndonlyu/sitereset/internal/statedb"
	"github.com/lyndonlyu/sitereset/internal/step"
	"github.com/lyndonlyu/sitereset/internal/theme"
)

type themes struct{ installed []string }

func (f *themes) Installed() ([]theme.Theme, error) {
	var out []theme.Theme
	for _, s := range f.installed {
		out = append(out, theme.Theme{Slug: s, Name: s})
	}
	return out, nil
}

func (f *themes) Exists(slug string) bool { return slices.Contains(f.installed, slug) }
func (f *themes) Switch(string) error     { return nil }

func (f *themes) Delete(slug string) error {
	f.installed = slices.DeleteFunc(f.installed, func(s string) bool { return s == slug })
	return nil
}

func (f *themes) Install(_ context.Context, slug string) error {
	f.installed = append(f.installed, slug)
	return nil
}

type core struct{}

func (core) Reinstall(context.Context) ([]string, error) { return []string{"Installed successfully."}, nil }

type stubExecutor struct {
	rep reset.Report
	err error
}

func (s stubExecutor) Execute(context.Context, string, reset.Handoff) (reset.Report, error) {
	return s.rep, s.err
}

type fixture struct {
	orch    *Orchestrator
	runs    *statedb.DB
	audit   *audit.Logger
	metrics *metrics.Recorder
	state   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	state := filepath.Join(root, ".state")
	site := reset.Site{Root: root}
	brandFile := filepath.Join(site.Plugins(), "brand", "brand.php")
	require.NoError(t, os.MkdirAll(filepath.Dir(brandFile), 0755))
	require.NoError(t, os.MkdirAll(site.Themes(), 0755))
	require.NoError(t, os.WriteFile(brandFile, []byte("<?php\n/*\nPlugin Name: Brand\n*/\n"), 0644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := sitedb.Open(filepath.Join(root, "site.db"), "wp_", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Install(context.Background(), sitedb.InstallRequest{
		Title: "Old Site", Login: "admin", Email: "admin@example.com", Public: true,
		Locale: "en_US", SiteURL: "https://example.com",
	})
	require.NoError(t, err)
	opts := options.NewSQLStore(db.SQL(), db.Prefix())
	fs, err := sitefs.Open(root)
	require.NoError(t, err)

	svc := &reset.Service{
		Identity: auth.SystemIdentity{},
		Site:     site,
		Options:  opts,
		Plugins:  plugin.NewRegistry(site.Plugins(), fs, opts, hooks.NewRegistry()),
		Themes:   &themes{installed: []string{"astra"}},
		DB:       db,
		Core:     core{},
		Sessions: session.New(db, filepath.Join(state, "session.json")),
		Brand:    brand.Brand{ID: "bluehost", Basename: "brand/brand.php"},
		Logger:   logger,
	}

	require.NoError(t, os.MkdirAll(state, 0755))
	runs, err := statedb.Open(filepath.Join(state, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })
	trail, err := audit.NewLogger(filepath.Join(state, "audit"))
	require.NoError(t, err)
	observe := func(runID string) reset.Observer {
		return &audit.Trail{Log: trail, RunID: runID, Logger: logger}
	}
	rec := metrics.New()

	return &fixture{
		orch: &Orchestrator{
			Service:  svc,
			Executor: reset.InProcess{Service: svc, Observe: observe},
			Runs:     runs,
			Observe:  observe,
			Metrics:  rec,
			Switch:   killswitch.InDir(state),
			LockPath: filepath.Join(state, "reset.lock"),
			Logger:   logger,
		},
		runs:    runs,
		audit:   trail,
		metrics: rec,
		state:   state,
	}
}

func (f *fixture) assertResets(t *testing.T, series string) {
	t.Helper()
	expected := `
# HELP sitereset_resets_total Reset attempts by origin and result.
# TYPE sitereset_resets_total counter
` + series + "\n"
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry, strings.NewReader(expected), "sitereset_resets_total"))
}

func TestResetNowRecordsRun(t *testing.T) {
	f := newFixture(t)

	runID, rep, err := f.orch.ResetNow(context.Background(), OriginCLI, "https://example.com/")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	assert.True(t, rep.Success, "errors: %v", rep.Errors)
	assert.Equal(t, 17, rep.Steps.Len())

	run, err := f.runs.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusCompleted, run.Status)
	assert.Equal(t, OriginCLI, run.Origin)
	assert.Equal(t, 17, run.StepCount)
	assert.NotEmpty(t, run.EndedAt)

	records, err := f.audit.ForRun(runID)
	require.NoError(t, err)
	require.Len(t, records, 17)
	assert.Equal(t, reset.PhasePrepare, records[0].Phase)
	assert.Equal(t, reset.PhaseExecute, records[16].Phase)
	valid, _, err := f.audit.Verify()
	require.NoError(t, err)
	assert.True(t, valid)

	f.assertResets(t, `sitereset_resets_total{origin="cli",result="completed"} 1`)
	assert.Equal(t, 17, testutil.CollectAndCount(f.metrics.Registry, "sitereset_steps_total"))

	l, err := filelock.Acquire(f.orch.LockPath, "test")
	require.NoError(t, err, "lock must be released after the reset")
	l.Release()
}

func TestResetNowConfirmationMismatch(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.orch.ResetNow(context.Background(), OriginAPI, "https://other.example.com")
	assert.ErrorIs(t, err, reset.ErrConfirmation)

	runs, err := f.runs.ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPrepareFailureClosesRun(t *testing.T) {
	f := newFixture(t)
	f.orch.Service.Identity = auth.Denied{}

	runID, prep, err := f.orch.Prepare(context.Background(), OriginAPI)
	require.NoError(t, err)
	assert.False(t, prep.Success)

	run, err := f.runs.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, run.Status)
	assert.Equal(t, reset.MsgUnauthorized, run.Message)
	assert.Equal(t, 1, run.ErrorCount)
	f.assertResets(t, `sitereset_resets_total{origin="api",result="aborted"} 1`)
}

func TestResetNowPreparationError(t *testing.T) {
	f := newFixture(t)
	f.orch.Service.Site.Multisite = true

	_, _, err := f.orch.ResetNow(context.Background(), OriginCLI, "https://example.com")
	var perr *reset.PreparationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{reset.MsgMultisite}, perr.Errors)
}

func TestPrepareWhileLocked(t *testing.T) {
	f := newFixture(t)
	l, err := filelock.Acquire(f.orch.LockPath, "other")
	require.NoError(t, err)
	defer l.Release()

	_, _, err = f.orch.Prepare(context.Background(), OriginCLI)
	require.Error(t, err)
	assert.True(t, Busy(err))
	assert.ErrorIs(t, err, filelock.ErrLocked)
}

func TestKillSwitchBlocksReset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Switch.Activate("maintenance"))

	_, _, err := f.orch.Prepare(context.Background(), OriginCLI)
	assert.ErrorIs(t, err, killswitch.ErrDisabled)
	assert.True(t, Busy(err))

	_, err = f.orch.Execute(context.Background(), OriginCLI, "run", reset.Handoff{})
	assert.ErrorIs(t, err, killswitch.ErrDisabled)

	runs, err := f.runs.ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestReady(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Ready())

	l, err := filelock.Acquire(f.orch.LockPath, "api/run-9")
	require.NoError(t, err)
	err = f.orch.Ready()
	assert.ErrorIs(t, err, filelock.ErrLocked)
	assert.Contains(t, err.Error(), "api/run-9")
	require.NoError(t, l.Release())
	require.NoError(t, f.orch.Ready())

	require.NoError(t, f.orch.Switch.Activate("maintenance"))
	assert.ErrorIs(t, f.orch.Ready(), killswitch.ErrDisabled)
}

func TestExecuteRefusedClosesRun(t *testing.T) {
	f := newFixture(t)
	runID, prep, err := f.orch.Prepare(context.Background(), OriginAPI)
	require.NoError(t, err)
	require.True(t, prep.Success)

	l, err := filelock.Acquire(f.orch.LockPath, "other")
	require.NoError(t, err)
	defer l.Release()

	_, err = f.orch.Execute(context.Background(), OriginAPI, runID, prep.Handoff())
	require.ErrorIs(t, err, filelock.ErrLocked)

	run, err := f.runs.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, run.Status)
	assert.Equal(t, prep.Steps.Len(), run.StepCount)
	assert.Contains(t, run.Message, "already in progress")
	f.assertResets(t, `sitereset_resets_total{origin="api",result="aborted"} 1`)
}

func TestExecuteExecutorError(t *testing.T) {
	f := newFixture(t)
	runID, prep, err := f.orch.Prepare(context.Background(), OriginCLI)
	require.NoError(t, err)
	require.True(t, prep.Success)

	f.orch.Executor = stubExecutor{err: errors.New("child crashed")}
	_, err = f.orch.Execute(context.Background(), OriginCLI, runID, prep.Handoff())
	require.EqualError(t, err, "child crashed")

	run, err := f.runs.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, run.Status)
	assert.Equal(t, "child crashed", run.Message)
	f.assertResets(t, `sitereset_resets_total{origin="cli",result="failed"} 1`)
}

func TestExecuteFailedReport(t *testing.T) {
	f := newFixture(t)
	runID, prep, err := f.orch.Prepare(context.Background(), OriginAPI)
	require.NoError(t, err)

	log := prep.Steps.Clone()
	require.NoError(t, log.Append(reset.StepResetDatabase, step.Fail("schema locked")))
	f.orch.Executor = stubExecutor{rep: reset.BuildReport(log)}

	rep, err := f.orch.Execute(context.Background(), OriginAPI, runID, prep.Handoff())
	require.NoError(t, err)
	assert.False(t, rep.Success)

	run, err := f.runs.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, statedb.StatusFailed, run.Status)
	assert.Equal(t, prep.Steps.Len()+1, run.StepCount)
	assert.Equal(t, 1, run.ErrorCount)
	assert.Equal(t, "reset_database: schema locked", run.Message)
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.Registry, "sitereset_resets_total"))
}

func TestExecuteAnnouncesSummary(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	d := notify.NewDispatcher()
	require.NoError(t, d.RegisterChannel(notify.NewWriterChannel("log", &out)))
	d.AddRule(notify.Rule{EventType: notify.EventResetComplete, MinLevel: "INFO", Channel: "log"})
	f.orch.Notify = d

	runID, prep, err := f.orch.Prepare(context.Background(), OriginCLI)
	require.NoError(t, err)
	log := prep.Steps.Clone()
	require.NoError(t, log.Append(reset.StepResetDatabase, step.Fail("schema locked")))
	f.orch.Executor = stubExecutor{rep: reset.BuildReport(log)}

	_, err = f.orch.Execute(context.Background(), OriginCLI, runID, prep.Handoff())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Factory reset failed")
	assert.Contains(t, out.String(), "reset_database: schema locked")
}
