package reset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/sitereset/internal/step"
)

// TestHelperProcess stands in for the execute subcommand when the test
// binary is re-run by ProcessExecutor.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("SITERESET_HELPER")
	if mode == "" {
		t.Skip("helper process only")
	}
	in, _ := io.ReadAll(os.Stdin)
	var h Handoff
	if err := json.Unmarshal(in, &h); err != nil {
		fmt.Fprintln(os.Stderr, "bad handoff:", err)
		os.Exit(2)
	}
	switch mode {
	case "ok", "failed":
		log := h.Steps.Clone()
		r := step.OK("Database reset and WordPress reinstalled.").With("user_id", 1)
		if mode == "failed" {
			r = step.Fail("Site install failed: locked")
		}
		_ = log.Append(StepResetDatabase, r)
		_ = log.Append("echo_run_id", step.OK("%s", os.Args[len(os.Args)-1]))
		_ = json.NewEncoder(os.Stdout).Encode(BuildReport(log))
		if mode == "failed" {
			os.Exit(1)
		}
	case "crash":
		fmt.Fprintln(os.Stderr, "panic: site root vanished")
		os.Exit(2)
	}
	os.Exit(0)
}

func helper(mode string) *ProcessExecutor {
	return &ProcessExecutor{
		Path: os.Args[0],
		Args: []string{"-test.run=TestHelperProcess", "--"},
		Env:  append(os.Environ(), "SITERESET_HELPER="+mode),
	}
}

func priorLog(t *testing.T) *step.Log {
	t.Helper()
	log := step.NewLog()
	require.NoError(t, log.Append(StepInstallTheme, step.OK("Theme already installed.")))
	return log
}

func TestProcessExecutor(t *testing.T) {
	rep, err := helper("ok").Execute(context.Background(), "run-42", Handoff{Steps: priorLog(t)})
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Equal(t, []string{StepInstallTheme, StepResetDatabase, "echo_run_id"}, rep.Steps.Names())
	r, _ := rep.Steps.Get("echo_run_id")
	assert.Equal(t, "run-42", r.Message)
	db, _ := rep.Steps.Get(StepResetDatabase)
	id, ok := db.Int("user_id")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestProcessExecutorFailedReport(t *testing.T) {
	rep, err := helper("failed").Execute(context.Background(), "run-1", Handoff{Steps: priorLog(t)})
	require.NoError(t, err, "a failed reset is a report, not an error")
	assert.False(t, rep.Success)
	assert.Equal(t, []string{"reset_database: Site install failed: locked"}, rep.Errors)
}

func TestProcessExecutorCrash(t *testing.T) {
	_, err := helper("crash").Execute(context.Background(), "run-1", Handoff{Steps: priorLog(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site root vanished")
}

func TestInProcess(t *testing.T) {
	env := newEnv(t)
	prep := env.svc.Prepare(context.Background())
	require.True(t, prep.Success)

	rec := &recorder{}
	var gotRun string
	ex := InProcess{Service: env.svc, Observe: func(runID string) Observer {
		gotRun = runID
		return rec
	}}
	rep, err := ex.Execute(context.Background(), "run-7", prep.Handoff())
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Equal(t, "run-7", gotRun)
	require.Len(t, rec.seen, 13)
	assert.Equal(t, PhaseExecute, rec.seen[0].phase)
	assert.Nil(t, env.svc.Observer)
}
