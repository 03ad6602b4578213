package workflow

import "context"

// StateMachine represents a state machine that tracks current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// Fire attempts to execute the action, transitioning to the new state if allowed
	Fire(ctx context.Context, action Action) error
}
