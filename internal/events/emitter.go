package events

import (
	"context"
	"errors"
	"log/slog"

	"git.home.luguber.info/inful/piperunner/internal/logfields"
)

// Emitter delivers events to one consumer. Implementations must tolerate
// being called from the run goroutine: block briefly or not at all.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}

// LogEmitter writes events to the process log. It is the default consumer
// when no external sink is configured.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, ev Event) error {
	attrs := []any{
		logfields.RunID(ev.RunID),
		logfields.Pipeline(ev.Pipeline),
		logfields.Branch(ev.Branch),
	}
	switch ev.Type {
	case TypeRunStarted:
		slog.Info("Run started", attrs...)
	case TypeStageFinished:
		slog.Info("Stage finished", append(attrs,
			logfields.Stage(ev.Stage),
			logfields.Status(ev.StageStatus),
			logfields.DurationMS(float64(ev.DurationMS)))...)
	case TypeRunCompleted:
		slog.Info("Run completed", append(attrs,
			logfields.Status(ev.RunStatus),
			slog.Int("stages_failed", ev.StagesFailed),
			logfields.DurationMS(float64(ev.DurationMS)))...)
	default:
		slog.Info("Run event", append(attrs, slog.String("event", string(ev.Type)))...)
	}
	return nil
}

func (LogEmitter) Close() error { return nil }

// Multi fans one event out to several emitters. Every emitter sees every
// event; failures are joined, not short-circuited.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
