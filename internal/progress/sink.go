package progress

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and be safe for repeated calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes events. Implementations deliver a batch in order.
type Emitter interface {
	Emit(ctx context.Context, events ...Event)
}

const defaultSinkTimeout = 10 * time.Second

// Fanout delivers each batch to every sink synchronously and in order. Sink
// failures are logged and never surface to the emitter.
type Fanout struct {
	sinks       []Sink
	logger      *zap.Logger
	sinkTimeout time.Duration
}

// NewFanout builds a Fanout over the given sinks. nil sinks are skipped.
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{
		sinks:       kept,
		logger:      logger.Named("progress"),
		sinkTimeout: defaultSinkTimeout,
	}
}

// Emit hands the batch to each sink. Invalid events are dropped with a warning.
func (f *Fanout) Emit(ctx context.Context, events ...Event) {
	if f == nil || len(f.sinks) == 0 || len(events) == 0 {
		return
	}
	batch := make([]Event, 0, len(events))
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			f.logger.Warn("dropping invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
			continue
		}
		batch = append(batch, evt)
	}
	if len(batch) == 0 {
		return
	}
	for _, sink := range f.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.sinkTimeout)
		if err := sink.Consume(sinkCtx, batch); err != nil {
			f.logger.Warn("progress sink failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

// Close closes every sink, returning the first error.
func (f *Fanout) Close(ctx context.Context) error {
	if f == nil {
		return nil
	}
	var firstErr error
	for _, sink := range f.sinks {
		if err := sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard is an Emitter that drops everything.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(context.Context, ...Event) {}
