// Package schedule runs an ordered list of named steps that can be resumed
// from the step that last failed.
//
// A Runner keeps a current-step marker. Run starts at the first step when the
// marker is unset and otherwise re-enters the marked step, so a failing step is
// retried rather than skipped. A step that returns Restart clears the marker and
// makes Run return ErrRestartRequested; the next Run replays the whole list.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// StepID names a step. Identifiers are unique within one Runner.
type StepID string

func (id StepID) String() string {
	return string(id)
}

// Outcome is the non-error result of a step.
type Outcome int

const (
	// Done lets the runner continue with the next step.
	Done Outcome = iota
	// Restart asks the runner to clear its marker so the next Run starts over.
	Restart
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Restart:
		return "restart"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// StepFunc is the body of a step. A non-nil error always wins over the Outcome.
type StepFunc func(ctx context.Context) (Outcome, error)

type Step struct {
	ID  StepID
	Run StepFunc
}

var (
	// ErrRestartRequested is returned by Run and Reset after the marker is cleared.
	ErrRestartRequested = errors.New("schedule restart requested")
	// ErrNoSuchStep is returned by RunTask for identifiers outside the pipeline.
	ErrNoSuchStep = errors.New("no such step")
)

// StepError wraps the failure of a single step with its identifier.
type StepError struct {
	Step StepID
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Observer receives step and run results, e.g. for metrics.
type Observer interface {
	StepFinished(step string, result string)
	RunFinished(result string)
}

const (
	resultOK      = "ok"
	resultError   = "error"
	resultRestart = "restart"
)

type Option func(*Runner)

// WithObserver attaches o to the runner.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

type Runner struct {
	logger   *slog.Logger
	order    []StepID
	table    map[StepID]StepFunc
	state    *fsm.FSM
	observer Observer

	mu      sync.RWMutex
	current StepID
}

// NewRunner builds the step table once. Steps run in the given order.
func NewRunner(logger *slog.Logger, steps []Step, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(steps) == 0 {
		return nil, errors.New("schedule needs at least one step")
	}

	r := &Runner{
		logger:   logger,
		order:    make([]StepID, 0, len(steps)),
		table:    make(map[StepID]StepFunc, len(steps)),
		observer: nopObserver{},
	}
	for _, step := range steps {
		if step.ID == "" {
			return nil, errors.New("step id is required")
		}
		if step.Run == nil {
			return nil, fmt.Errorf("step %s has no body", step.ID)
		}
		if _, dup := r.table[step.ID]; dup {
			return nil, fmt.Errorf("duplicate step %s", step.ID)
		}
		r.order = append(r.order, step.ID)
		r.table[step.ID] = step.Run
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state = newStateMachine(logger)
	return r, nil
}

// Steps returns the pipeline order.
func (r *Runner) Steps() []StepID {
	return slices.Clone(r.order)
}

// Current returns the marked step, if any.
func (r *Runner) Current() (StepID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.current != ""
}

func (r *Runner) State() State {
	return State(r.state.Current())
}

// Run executes the steps from the resume point to the end, strictly in order.
// It stops at the first failing step and leaves the marker on it. Run on a
// completed schedule does nothing; call Reset to replay it.
func (r *Runner) Run(ctx context.Context) error {
	if r.State() == StateCompleted {
		r.logger.Debug("schedule already completed")
		return nil
	}

	start := 0
	current, resuming := r.Current()
	if resuming {
		idx := slices.Index(r.order, current)
		if idx < 0 {
			return fmt.Errorf("resume: %w: %s", ErrNoSuchStep, current)
		}
		start = idx
	}

	attemptID := uuid.NewString()
	logger := r.logger.With("attempt_id", attemptID)
	if resuming {
		logger.Info("schedule resume", "step", current)
	} else {
		logger.Info("schedule start", "steps", len(r.order))
	}
	if err := r.transition(ctx, eventStart); err != nil {
		return err
	}

	for _, id := range r.order[start:] {
		outcome, err := r.runTask(ctx, logger, id)
		if err != nil {
			r.observer.StepFinished(id.String(), resultError)
			r.observer.RunFinished(resultError)
			if terr := r.transition(ctx, eventFail); terr != nil {
				logger.Warn("schedule state", "error", terr)
			}
			return &StepError{Step: id, Err: err}
		}
		if outcome == Restart {
			r.observer.StepFinished(id.String(), resultRestart)
			r.observer.RunFinished(resultRestart)
			logger.Info("schedule reset", "step", id)
			return &StepError{Step: id, Err: r.Reset()}
		}
		r.observer.StepFinished(id.String(), resultOK)
	}

	if err := r.transition(ctx, eventComplete); err != nil {
		return err
	}
	r.observer.RunFinished(resultOK)
	logger.Info("schedule end")
	return nil
}

// RunTask marks id as current and runs it to completion.
func (r *Runner) RunTask(ctx context.Context, id StepID) (Outcome, error) {
	return r.runTask(ctx, r.logger, id)
}

func (r *Runner) runTask(ctx context.Context, logger *slog.Logger, id StepID) (Outcome, error) {
	// The marker only ever holds identifiers from this pipeline.
	fn, ok := r.table[id]
	if !ok {
		return Done, fmt.Errorf("%w: %s", ErrNoSuchStep, id)
	}

	r.mu.Lock()
	r.current = id
	r.mu.Unlock()

	started := time.Now()
	logger.Info("task start", "step", id)
	outcome, err := fn(ctx)
	if err != nil {
		logger.Debug("task failed", "step", id, "duration_ms", time.Since(started).Milliseconds())
		return outcome, err
	}
	logger.Debug("task end", "step", id, "outcome", outcome, "duration_ms", time.Since(started).Milliseconds())
	return outcome, nil
}

// Reset clears the marker so the next Run replays every step. It never
// succeeds: the returned error always matches ErrRestartRequested.
func (r *Runner) Reset() error {
	r.mu.Lock()
	r.current = ""
	r.mu.Unlock()

	if r.State() != StateIdle {
		if err := r.transition(context.Background(), eventReset); err != nil {
			r.logger.Warn("schedule state", "error", err)
		}
	}
	return ErrRestartRequested
}

func (r *Runner) transition(ctx context.Context, event string) error {
	// fsm drops the transition on a cancelled ctx and stays pending.
	if err := r.state.Event(context.WithoutCancel(ctx), event); err != nil {
		return fmt.Errorf("schedule %s from %s: %w", event, r.state.Current(), err)
	}
	return nil
}

type nopObserver struct{}

func (nopObserver) StepFinished(string, string) {}
func (nopObserver) RunFinished(string)          {}
