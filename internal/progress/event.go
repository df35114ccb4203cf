package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the kind of milestone an Event records.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobRejected Stage = "JOB_REJECTED"
	StageStepStart   Stage = "STEP_START"
	StageStepDone    Stage = "STEP_DONE"
	StageEncode      Stage = "ENCODE_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageCleanup     Stage = "CLEANUP_ERROR"
)

// Step names a pipeline stage inside a job.
type Step string

// Pipeline steps, in execution order.
const (
	StepCapture   Step = "capture"
	StepColors    Step = "colors"
	StepComposite Step = "composite"
	StepVideo     Step = "video"
	StepCleanup   Step = "cleanup"
)

// Event is a single job milestone.
type Event struct {
	JobID string
	// TS is the UTC time the emitter observed the milestone.
	TS    time.Time
	Stage Stage
	// Step scopes STEP_* events.
	Step Step
	// URL is the page being captured.
	URL string
	// Kinds lists the requested assets on JOB_START.
	Kinds []string
	// Bytes is the artifact size for STEP_DONE and the total payload for JOB_DONE.
	Bytes int64
	// Frame is the encoder position for ENCODE_PROGRESS.
	Frame int
	// Dur is the step or job wall time.
	Dur time.Duration
	// ErrorKind is the failure category for JOB_ERROR and JOB_REJECTED.
	ErrorKind string
	Note      string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageEncode:
	case StageJobRejected, StageJobError:
		if e.ErrorKind == "" {
			return fmt.Errorf("%s requires an error kind", e.Stage)
		}
	case StageStepStart, StageStepDone, StageCleanup:
		if e.Step == "" {
			return fmt.Errorf("%s requires a step", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a job's lifecycle.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageJobDone, StageJobError, StageJobRejected:
		return true
	default:
		return false
	}
}
