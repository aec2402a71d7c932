package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/progress"
)

// LogSink emits structured logs for progress streams.
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

// Consume logs each event in the batch using structured fields. Failed fetches
// are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("index", evt.Index),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.String("status", evt.Status),
			zap.Int("pages", evt.Pages),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Status == progress.StatusFailed || evt.Stage == progress.StageRunError {
			s.logger.Warn(evt.Message(), fields...)
			continue
		}
		s.logger.Info(evt.Message(), fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
