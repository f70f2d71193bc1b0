package task

import (
	"context"
	"errors"
	"iter"
	"log/slog"
)

// Task is a unit of work that prepares a context, lazily produces values
// from it and processes them one at a time.
//
// U is the unit type yielded by Iterate, C the context type built by Prepare
// and R the result type produced by Process.
type Task[U, C, R any] interface {
	// Prepare builds the context. On failure it must release anything it
	// already acquired, Finalize is not called for a failed Prepare.
	Prepare(ctx context.Context) (C, error)

	// Iterate returns the lazy sequence of units to process. Each unit is
	// processed before the next one is pulled.
	Iterate(c C) iter.Seq2[U, error]

	// Process handles a single unit inside the context.
	Process(ctx context.Context, unit U, c C) (R, error)

	// Finalize releases the context. It is called exactly once after a
	// successful Prepare, however the run ended.
	Finalize(c C) error
}

// State is the lifecycle state of a run.
type State int

const (
	StateIdle State = iota
	StatePrepared
	StateRunning
	StateCompleted
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// Report describes how a run ended.
type Report[R any] struct {
	State     State
	Processed int
	Results   []R
}

// ProgressFunc observes the number of units processed so far.
type ProgressFunc func(processed int)

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	progress ProgressFunc
	logger   *slog.Logger
	name     string
}

// WithProgress registers a callback invoked after every processed unit.
func WithProgress(fn ProgressFunc) Option {
	return func(o *runOptions) {
		o.progress = fn
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runOptions) {
		o.logger = logger
	}
}

// WithName labels log records of the run.
func WithName(name string) Option {
	return func(o *runOptions) {
		o.name = name
	}
}

// Run drives t through prepare, iterate, process and finalize on the calling
// goroutine. Cancellation of ctx is observed between units only, a unit that
// is being processed always completes.
//
// A canceled run returns its report together with ctx.Err(). Any error from
// Prepare, the sequence or Process ends the run in StateFailed after
// Finalize has run.
func Run[U, C, R any](ctx context.Context, t Task[U, C, R], opts ...Option) (Report[R], error) {
	o := runOptions{name: "task"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("task", o.name)

	rep := Report[R]{State: StateIdle}

	c, err := t.Prepare(ctx)
	if err != nil {
		rep.State = StateFailed
		return rep, err
	}
	rep.State = StatePrepared
	logger.Debug("prepared")

	runErr := loop(ctx, t, c, &rep, o.progress)

	finErr := t.Finalize(c)
	if finErr != nil {
		logger.Debug("finalize failed", "error", finErr)
		rep.State = StateFailed
	}
	logger.Debug("finished", "state", rep.State.String(), "processed", rep.Processed)

	return rep, errors.Join(runErr, finErr)
}

func loop[U, C, R any](ctx context.Context, t Task[U, C, R], c C, rep *Report[R], progress ProgressFunc) error {
	rep.State = StateRunning
	for unit, err := range t.Iterate(c) {
		if err != nil {
			rep.State = StateFailed
			return err
		}
		if err := ctx.Err(); err != nil {
			rep.State = StateCanceled
			return err
		}
		r, err := t.Process(ctx, unit, c)
		if err != nil {
			rep.State = StateFailed
			return err
		}
		rep.Results = append(rep.Results, r)
		rep.Processed++
		if progress != nil {
			progress(rep.Processed)
		}
		if err := ctx.Err(); err != nil {
			rep.State = StateCanceled
			return err
		}
	}
	rep.State = StateCompleted
	return nil
}
