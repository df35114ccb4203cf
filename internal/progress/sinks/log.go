package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/progress"
)

// LogSink writes each event as a structured log line. Encoder progress is logged at debug
// level since ffmpeg reports it several times a second.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Step != "" {
			fields = append(fields, zap.String("step", string(evt.Step)))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if len(evt.Kinds) > 0 {
			fields = append(fields, zap.Strings("kinds", evt.Kinds))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("kind", evt.ErrorKind))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}

		switch evt.Stage {
		case progress.StageEncode:
			s.logger.Debug("encode progress", append(fields, zap.Int("frame", evt.Frame))...)
		case progress.StageJobError, progress.StageCleanup:
			s.logger.Warn("job event", fields...)
		default:
			s.logger.Info("job event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
