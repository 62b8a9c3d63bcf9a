package reset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Executor runs phase two of the reset identified by runID.
type Executor interface {
	Execute(ctx context.Context, runID string, h Handoff) (Report, error)
}

// InProcess executes in the calling process.
type InProcess struct {
	Service *Service
	// Observe, when set, returns the observer for the steps of runID.
	Observe func(runID string) Observer
}

func (e InProcess) Execute(ctx context.Context, runID string, h Handoff) (Report, error) {
	svc := *e.Service
	if e.Observe != nil {
		svc.Observer = e.Observe(runID)
	}
	return svc.Execute(ctx, h.Data, h.Steps), nil
}

// ProcessExecutor runs phase two in a child process so nothing loaded by
// phase one survives. The handoff is written to the child's stdin as JSON
// and the child must print the Report as JSON on stdout.
type ProcessExecutor struct {
	Path string
	// Args precede "--run-id <id>".
	Args   []string
	Env    []string
	Stderr io.Writer
}

func (e *ProcessExecutor) Execute(ctx context.Context, runID string, h Handoff) (Report, error) {
	payload, err := json.Marshal(h)
	if err != nil {
		return Report{}, fmt.Errorf("reset: encode handoff: %w", err)
	}

	args := append(append([]string{}, e.Args...), "--run-id", runID)
	cmd := exec.CommandContext(ctx, e.Path, args...)
	cmd.Env = e.Env
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	runErr := cmd.Run()
	var rep Report
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil || rep.Steps == nil {
		if runErr != nil {
			return Report{}, fmt.Errorf("reset: execute process: %w: %s", runErr, lastLine(stderr.String()))
		}
		return Report{}, errors.New("reset: execute process: no report on stdout")
	}
	// A failed report comes with a non-zero exit status.
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return Report{}, fmt.Errorf("reset: execute process: %w", runErr)
	}
	if rep.Errors == nil {
		rep.Errors = []string{}
	}
	return rep, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
