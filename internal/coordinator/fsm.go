// Copyright 2025 James Ross
package coordinator

import (
	"fmt"

	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
)

// event names one transition trigger in the per-source lifecycle of
// spec §4.4. Events are the only way FSMState changes.
type event string

const (
	evStart     event = "start"
	evConnected event = "connected"
	evTick      event = "tick"
	evFetched   event = "fetched"
	evProcessed event = "processed"
	evStored    event = "stored"
	evFailed    event = "failed"
	evRecovered event = "recovered"
	evStop      event = "stop"
	evPause     event = "pause"
	evResume    event = "resume"
)

// transitions is the explicit table driving every state change. Missing
// entries are invalid transitions and rejected with ErrFSMInvalidTransition,
// except Stop, Pause and Resume which apply uniformly and are handled
// outside the table (see apply below).
var transitions = map[model.FSMState]map[event]model.FSMState{
	model.StateRegistered: {
		evStart: model.StateConnecting,
	},
	model.StateConnecting: {
		evConnected: model.StateIdle,
		evFailed:    model.StateBackoff,
	},
	model.StateIdle: {
		evTick: model.StateFetching,
	},
	model.StateFetching: {
		evFetched: model.StateProcessing,
		evFailed:  model.StateBackoff,
	},
	model.StateProcessing: {
		evProcessed: model.StateStoring,
		evFailed:    model.StateBackoff,
	},
	model.StateStoring: {
		evStored: model.StateIdle,
		evFailed: model.StateBackoff,
	},
	model.StateBackoff: {
		evRecovered: model.StateIdle,
		evFailed:    model.StateBackoff,
	},
}

// apply computes the next state for (current, ev), handling the
// state-independent Stop/Pause/Resume events before consulting the table.
func apply(current model.FSMState, prior model.FSMState, ev event) (next model.FSMState, newPrior model.FSMState, err error) {
	switch ev {
	case evStop:
		return model.StateRegistered, prior, nil
	case evPause:
		if current == model.StatePaused {
			return current, prior, nil
		}
		return model.StatePaused, current, nil
	case evResume:
		if current != model.StatePaused {
			return current, prior, nil
		}
		if prior == "" {
			prior = model.StateIdle
		}
		return prior, "", nil
	}

	if current == model.StatePaused {
		return current, prior, fmt.Errorf("%w: source is paused", ingesterr.ErrFSMInvalidTransition)
	}

	row, ok := transitions[current]
	if !ok {
		return current, prior, fmt.Errorf("%w: no transitions defined from %s", ingesterr.ErrFSMInvalidTransition, current)
	}
	n, ok := row[ev]
	if !ok {
		return current, prior, fmt.Errorf("%w: event %s invalid in state %s", ingesterr.ErrFSMInvalidTransition, ev, current)
	}
	return n, prior, nil
}
