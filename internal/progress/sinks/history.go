package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/progress"
	"github.com/JakeFAU/siteshot/internal/store"
)

// HistorySink records job lifecycle events into a store.JobHistory for the jobs API.
type HistorySink struct {
	history store.JobHistory
	logger  *zap.Logger
}

// NewHistorySink constructs a HistorySink for history.
func NewHistorySink(history store.JobHistory, logger *zap.Logger) *HistorySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistorySink{history: history, logger: logger}
}

// Consume applies each event to the history in order.
func (s *HistorySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.history == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *HistorySink) apply(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		if err := s.history.StartJob(ctx, evt.JobID, evt.URL, evt.Kinds, evt.TS); err != nil {
			return fmt.Errorf("start job: %w", err)
		}
	case progress.StageStepDone:
		step := store.StepTiming{Step: string(evt.Step), Duration: evt.Dur, Bytes: evt.Bytes}
		if err := s.history.RecordStep(ctx, evt.JobID, step); err != nil {
			// The job may already have been evicted.
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Debug("step for unknown job", zap.String("job_id", evt.JobID))
				return nil
			}
			return fmt.Errorf("record step: %w", err)
		}
	case progress.StageJobDone:
		return s.complete(ctx, evt, store.StatusSuccess)
	case progress.StageJobError:
		return s.complete(ctx, evt, store.StatusError)
	case progress.StageJobRejected:
		return s.complete(ctx, evt, store.StatusRejected)
	}
	return nil
}

func (s *HistorySink) complete(ctx context.Context, evt progress.Event, status store.JobStatus) error {
	var note *string
	if evt.Note != "" {
		note = &evt.Note
	}
	if err := s.history.CompleteJob(ctx, evt.JobID, evt.TS, status, evt.ErrorKind, note, evt.Bytes); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
