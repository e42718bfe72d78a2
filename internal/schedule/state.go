package schedule

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// State is the lifecycle of a Runner between and during Run calls.
type State string

const (
	// StateIdle means no step has been attempted since construction or the last reset.
	StateIdle State = "idle"
	// StateRunning means a Run call is executing steps.
	StateRunning State = "running"
	// StateFailed means the last Run stopped at the current step with an error.
	StateFailed State = "failed"
	// StateCompleted means every step succeeded. It is distinct from any step identifier.
	StateCompleted State = "completed"
)

func (s State) String() string {
	return string(s)
}

const (
	eventStart    = "start"
	eventFail     = "fail"
	eventComplete = "complete"
	eventReset    = "reset"
)

func newStateMachine(logger *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{
				Name: eventStart,
				Src:  []string{StateIdle.String(), StateFailed.String()},
				Dst:  StateRunning.String(),
			},
			{
				Name: eventFail,
				Src:  []string{StateRunning.String()},
				Dst:  StateFailed.String(),
			},
			{
				Name: eventComplete,
				Src:  []string{StateRunning.String()},
				Dst:  StateCompleted.String(),
			},
			{
				Name: eventReset,
				Src: []string{
					StateRunning.String(),
					StateFailed.String(),
					StateCompleted.String(),
				},
				Dst: StateIdle.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("schedule state", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}
