package audit

import (
	"log/slog"
	"time"

	"github.com/lyndonlyu/sitereset/internal/step"
)

// Trail records finished reset steps of one run.
type Trail struct {
	Log    *Logger
	RunID  string
	Logger *slog.Logger
}

func (t *Trail) StepFinished(phase, name string, r step.Result, elapsed time.Duration) {
	outcome := OutcomeOK
	if !r.Success {
		outcome = OutcomeFailed
	}
	err := t.Log.Log(Entry{
		RunID:    t.RunID,
		Phase:    phase,
		Step:     name,
		Outcome:  outcome,
		Message:  r.Message,
		Duration: elapsed,
		Extra:    r.Extra,
	})
	if err != nil && t.Logger != nil {
		t.Logger.Warn("audit record not written", "step", name, "error", err)
	}
}
