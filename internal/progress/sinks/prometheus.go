package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/siteshot/internal/progress"
)

// PrometheusSink derives job lifecycle metrics from progress events. It owns its collectors
// and registers them on the provided registry.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	stepDuration  *prometheus.HistogramVec
	artifactBytes *prometheus.CounterVec
	cleanupErrors prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteshot_jobs_started_total",
			Help: "Jobs admitted past the lease and memory gate.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteshot_jobs_completed_total",
			Help: "Finished jobs partitioned by result.",
		}, []string{"result"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteshot_job_errors_total",
			Help: "Failed or rejected jobs partitioned by error kind.",
		}, []string{"kind"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "siteshot_jobs_running",
			Help: "Jobs currently holding the lease.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siteshot_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siteshot_step_duration_seconds",
			Help:    "Wall time per pipeline step.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"step"}),
		artifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteshot_artifact_bytes_total",
			Help: "Bytes of generated artifacts partitioned by producing step.",
		}, []string{"step"}),
		cleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteshot_cleanup_errors_total",
			Help: "Job workspaces that could not be removed.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobErrors,
		s.jobsRunning,
		s.jobRuntime,
		s.stepDuration,
		s.artifactBytes,
		s.cleanupErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.finish(evt, "success")
	case progress.StageJobError:
		s.jobErrors.WithLabelValues(evt.ErrorKind).Inc()
		s.finish(evt, "error")
	case progress.StageJobRejected:
		s.jobErrors.WithLabelValues(evt.ErrorKind).Inc()
		s.jobsCompleted.WithLabelValues("rejected").Inc()
	case progress.StageStepDone:
		step := string(evt.Step)
		if evt.Dur > 0 {
			s.stepDuration.WithLabelValues(step).Observe(evt.Dur.Seconds())
		}
		if evt.Bytes > 0 {
			s.artifactBytes.WithLabelValues(step).Add(float64(evt.Bytes))
		}
	case progress.StageCleanup:
		s.cleanupErrors.Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
