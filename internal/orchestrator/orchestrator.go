// Package orchestrator runs resets under the state directory's lock and
// records each attempt in the run history, the audit trail and metrics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lyndonlyu/sitereset/internal/filelock"
	"github.com/lyndonlyu/sitereset/internal/killswitch"
	"github.com/lyndonlyu/sitereset/internal/metrics"
	"github.com/lyndonlyu/sitereset/internal/notify"
	"github.com/lyndonlyu/sitereset/internal/reset"
	"github.com/lyndonlyu/sitereset/internal/statedb"
)

// Origins.
const (
	OriginCLI = "cli"
	OriginAPI = "api"
)

// Runs is the run history.
type Runs interface {
	StartRun(origin string) (string, error)
	FinishRun(id, status string, steps, errs int, message string) error
}

// Notifier receives the reset summary.
type Notifier interface {
	Dispatch(event notify.Event) []error
}

type Orchestrator struct {
	Service  *reset.Service
	Executor reset.Executor
	Runs     Runs
	// Observe returns the observer for the prepare steps of runID.
	Observe  func(runID string) reset.Observer
	Metrics  *metrics.Recorder
	Notify   Notifier
	Switch   *killswitch.Switch
	LockPath string
	Logger   *slog.Logger
	Now      func() time.Time
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) lock(holder string) (func(), error) {
	if err := o.Switch.Check(); err != nil {
		return nil, err
	}
	if o.LockPath == "" {
		return func() {}, nil
	}
	l, err := filelock.Acquire(o.LockPath, holder)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			o.logger().Warn("lock release failed", "path", o.LockPath, "error", err)
		}
	}, nil
}

// Ready reports whether a reset could start now. Callers check it before
// consuming a handoff so a refused execute keeps the token usable.
func (o *Orchestrator) Ready() error {
	if err := o.Switch.Check(); err != nil {
		return err
	}
	if o.LockPath == "" {
		return nil
	}
	if _, err := os.Stat(o.LockPath + ".meta"); err != nil || filelock.IsStale(o.LockPath) {
		return nil
	}
	meta, _ := filelock.ReadMeta(o.LockPath)
	return &filelock.HolderError{Meta: meta}
}

func (o *Orchestrator) finish(runID, status string, steps, errs int, msg string) {
	if o.Runs == nil {
		return
	}
	if err := o.Runs.FinishRun(runID, status, steps, errs, msg); err != nil {
		o.logger().Warn("run history not updated", "run", runID, "error", err)
	}
}

func (o *Orchestrator) resetFinished(origin, result string) {
	if o.Metrics != nil {
		o.Metrics.ResetFinished(origin, result, o.now())
	}
}

// Prepare runs phase one for a new run and returns its id. A preparation
// that did not succeed is returned with a nil error; the run is closed as
// FAILED.
func (o *Orchestrator) Prepare(ctx context.Context, origin string) (string, reset.PreparationResult, error) {
	release, err := o.lock(origin + "/prepare")
	if err != nil {
		return "", reset.PreparationResult{}, err
	}
	defer release()

	runID := ""
	if o.Runs != nil {
		if runID, err = o.Runs.StartRun(origin); err != nil {
			return "", reset.PreparationResult{}, fmt.Errorf("orchestrator: start run: %w", err)
		}
	}
	log := o.logger().With("run", runID, "origin", origin)

	svc := *o.Service
	if o.Observe != nil {
		svc.Observer = o.Observe(runID)
	}
	start := o.now()
	prep := svc.Prepare(ctx)
	if o.Metrics != nil {
		o.Metrics.CountSteps(reset.PhasePrepare, prep.Steps, 0)
		o.Metrics.PhaseFinished(reset.PhasePrepare, o.now().Sub(start))
	}

	if !prep.Success {
		msg := firstOr(prep.Errors, "Failed to prepare for reset.")
		log.Warn("preparation failed", "error", msg)
		o.finish(runID, statedb.StatusFailed, prep.Steps.Len(), len(prep.Errors), msg)
		o.resetFinished(origin, metrics.ResultAborted)
		return runID, prep, nil
	}
	log.Info("prepared", "steps", prep.Steps.Len())
	return runID, prep, nil
}

// Execute runs phase two of runID through the executor. The handoff is
// spent by then, so a run refused here is closed as FAILED.
func (o *Orchestrator) Execute(ctx context.Context, origin, runID string, h reset.Handoff) (reset.Report, error) {
	prior := 0
	if h.Steps != nil {
		prior = h.Steps.Len()
	}
	release, err := o.lock(origin + "/" + runID)
	if err != nil {
		o.finish(runID, statedb.StatusFailed, prior, 1, err.Error())
		o.resetFinished(origin, metrics.ResultAborted)
		return reset.Report{}, err
	}
	defer release()

	log := o.logger().With("run", runID, "origin", origin)
	if o.Metrics != nil {
		defer o.Metrics.Started()()
	}

	start := o.now()
	rep, err := o.Executor.Execute(ctx, runID, h)
	if o.Metrics != nil {
		o.Metrics.PhaseFinished(reset.PhaseExecute, o.now().Sub(start))
	}
	if err != nil {
		log.Error("execute failed", "error", err)
		o.finish(runID, statedb.StatusFailed, prior, 1, err.Error())
		o.resetFinished(origin, metrics.ResultFailed)
		return reset.Report{}, err
	}
	if o.Metrics != nil {
		o.Metrics.CountSteps(reset.PhaseExecute, rep.Steps, prior)
	}

	status, result := statedb.StatusCompleted, metrics.ResultCompleted
	if !rep.Success {
		status, result = statedb.StatusFailed, metrics.ResultFailed
	}
	o.finish(runID, status, rep.Steps.Len(), len(rep.Errors), firstOr(rep.Errors, ""))
	o.resetFinished(origin, result)
	o.announce(runID, rep)
	log.Info("reset finished", "success", rep.Success, "steps", rep.Steps.Len(), "errors", len(rep.Errors))
	return rep, nil
}

func (o *Orchestrator) announce(runID string, rep reset.Report) {
	if o.Notify == nil {
		return
	}
	ev := notify.Event{
		Type:    notify.EventResetComplete,
		Subject: "Factory reset completed",
		Message: fmt.Sprintf("Reset %s finished %d steps.", runID, rep.Steps.Len()),
		Level:   "INFO",
	}
	if !rep.Success {
		ev.Subject = "Factory reset failed"
		ev.Message = fmt.Sprintf("Reset %s failed: %s", runID, strings.Join(rep.Errors, "; "))
		ev.Level = "ERROR"
	}
	for _, err := range o.Notify.Dispatch(ev) {
		o.logger().Warn("reset summary not sent", "run", runID, "error", err)
	}
}

// ResetNow confirms the site URL, then prepares and executes in one call.
// It returns reset.ErrConfirmation or a *reset.PreparationError when the
// reset did not start.
func (o *Orchestrator) ResetNow(ctx context.Context, origin, confirmationURL string) (string, reset.Report, error) {
	home, err := o.SiteURL()
	if err != nil {
		return "", reset.Report{}, fmt.Errorf("orchestrator: site url: %w", err)
	}
	if !reset.ConfirmURL(home, confirmationURL) {
		return "", reset.Report{}, reset.ErrConfirmation
	}
	runID, prep, err := o.Prepare(ctx, origin)
	if err != nil {
		return runID, reset.Report{}, err
	}
	if !prep.Success {
		return runID, reset.Report{}, &reset.PreparationError{Errors: prep.Errors}
	}
	rep, err := o.Execute(ctx, origin, runID, prep.Handoff())
	return runID, rep, err
}

// Busy reports whether err means a reset could not start because another
// one holds the lock or resets are switched off.
func Busy(err error) bool {
	return errors.Is(err, filelock.ErrLocked) || errors.Is(err, killswitch.ErrDisabled)
}

func firstOr(errs []string, fallback string) string {
	if len(errs) > 0 {
		return errs[0]
	}
	return fallback
}

// SiteURL is the URL confirmations are checked against.
func (o *Orchestrator) SiteURL() (string, error) {
	return o.Service.SiteURL()
}
