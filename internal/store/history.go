package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound signals that the requested job is not in the history.
var ErrNotFound = errors.New("job not found")

// JobStatus is the lifecycle state recorded for a job.
type JobStatus string

// Job statuses.
const (
	StatusRunning  JobStatus = "running"
	StatusSuccess  JobStatus = "success"
	StatusError    JobStatus = "error"
	StatusRejected JobStatus = "rejected"
)

// ParseStatus accepts the status names used in query strings.
func ParseStatus(raw string) (JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running":
		return StatusRunning, nil
	case "success", "completed":
		return StatusSuccess, nil
	case "error", "failed", "failure":
		return StatusError, nil
	case "rejected", "busy":
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("invalid status %q", raw)
	}
}

// StepTiming records how long one pipeline step took.
type StepTiming struct {
	Step     string
	Duration time.Duration
	Bytes    int64
}

// JobRun is one job as seen by the history.
type JobRun struct {
	JobID      string
	URL        string
	Kinds      []string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     JobStatus
	// ErrorKind and ErrorMessage are set for error and rejected runs.
	ErrorKind    string
	ErrorMessage *string
	Steps        []StepTiming
	// Bytes is the total artifact payload of a successful run.
	Bytes int64
}

// JobHistory records recent jobs for the read-only API.
type JobHistory interface {
	// StartJob records an admitted job. Repeating it for the same ID is a no-op.
	StartJob(ctx context.Context, jobID, url string, kinds []string, at time.Time) error
	// RecordStep appends a finished step to a running job.
	RecordStep(ctx context.Context, jobID string, step StepTiming) error
	// CompleteJob marks the run finished. Unknown IDs create a finished record, which is how
	// rejected jobs appear.
	CompleteJob(ctx context.Context, jobID string, at time.Time, status JobStatus, errorKind string, errMsg *string, bytes int64) error
	// GetJob loads one job or returns ErrNotFound.
	GetJob(ctx context.Context, jobID string) (JobRun, error)
	// ListJobs returns jobs newest first, optionally filtered by status.
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]JobRun, error)
}
