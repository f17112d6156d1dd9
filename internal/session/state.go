package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a session.
type State string

const (
	StateStarting    State = "starting"
	StateActive      State = "active"
	StateProcessing  State = "processing"
	StatePaused      State = "paused"
	StateInterrupted State = "interrupted"
	StateRestarting  State = "restarting"
	StateCancelling  State = "cancelling"
	StateEnding      State = "ending"
)

// ErrInvalidTransition is returned for a lifecycle edge that does not exist.
var ErrInvalidTransition = errors.New("invalid session state transition")

var transitions = map[State][]State{
	StateStarting:    {StateActive, StateProcessing, StatePaused, StateCancelling, StateEnding},
	StateActive:      {StateProcessing, StatePaused, StateInterrupted, StateRestarting, StateCancelling, StateEnding},
	StateProcessing:  {StateActive, StatePaused, StateInterrupted, StateRestarting, StateCancelling, StateEnding},
	StateInterrupted: {StateActive, StateProcessing, StatePaused, StateRestarting, StateCancelling, StateEnding},
	StateRestarting:  {StateActive, StateProcessing, StatePaused, StateCancelling, StateEnding},
	StatePaused:      {StateEnding},
	StateCancelling:  {StateEnding},
	StateEnding:      nil,
}

// CanTransition reports whether from -> to is a valid lifecycle edge.
// Staying in the same state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Deliberate reports whether the agent process exiting in this state is
// expected rather than a crash.
func (s State) Deliberate() bool {
	switch s {
	case StateRestarting, StateCancelling, StateEnding, StatePaused:
		return true
	}
	return false
}

// Alive reports whether the session still owns its agent process.
func (s State) Alive() bool {
	switch s {
	case StatePaused, StateEnding:
		return false
	}
	return true
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
