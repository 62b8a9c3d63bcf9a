// Package metrics exposes reset activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyndonlyu/sitereset/internal/step"
)

const namespace = "sitereset"

// Reset outcomes.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultAborted   = "aborted"
)

// Recorder owns a registry and the reset instruments registered on it.
type Recorder struct {
	Registry *prometheus.Registry

	steps     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	resets    *prometheus.CounterVec
	lastReset prometheus.Gauge
	inFlight  prometheus.Gauge
}

// New returns a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Recorder{
		Registry: reg,
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Finished reset steps by phase, step and outcome.",
		}, []string{"phase", "step", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of reset phases.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		resets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Reset attempts by origin and result.",
		}, []string{"origin", "result"}),
		lastReset: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reset_timestamp_seconds",
			Help:      "Unix time of the last completed reset.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resets_in_flight",
			Help:      "Resets currently executing.",
		}),
	}
}

// CountSteps counts the entries of log from index from on, attributing
// them to phase. Steps may have run in another process, so they are counted
// from the log rather than observed live.
func (r *Recorder) CountSteps(phase string, log *step.Log, from int) {
	if log == nil {
		return
	}
	for i, e := range log.Entries() {
		if i < from {
			continue
		}
		outcome := "ok"
		if !e.Result.Success {
			outcome = "failed"
		}
		r.steps.WithLabelValues(phase, e.Name, outcome).Inc()
	}
}

func (r *Recorder) PhaseFinished(phase string, elapsed time.Duration) {
	r.duration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// Started marks a reset as executing; the returned func ends it.
func (r *Recorder) Started() func() {
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// ResetFinished counts one reset attempt.
func (r *Recorder) ResetFinished(origin, result string, at time.Time) {
	r.resets.WithLabelValues(origin, result).Inc()
	if result == ResultCompleted {
		r.lastReset.Set(float64(at.Unix()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}
