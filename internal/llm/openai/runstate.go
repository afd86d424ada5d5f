package openai

import "time"

// RunState is the local view of a remote assistant run.
type RunState string

const (
	StateSubmitted RunState = "submitted"
	StateRunning   RunState = "running"
	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
	StateExpired   RunState = "expired"
	StateTimedOut  RunState = "timed-out"
)

// Terminal reports whether polling should stop.
func (s RunState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateExpired, StateTimedOut:
		return true
	default:
		return false
	}
}

// Next maps the remote run status and the time spent polling onto a RunState.
// A terminal remote status wins over the timeout.
func Next(remoteStatus string, elapsed, timeout time.Duration) RunState {
	var state RunState
	switch remoteStatus {
	case "completed":
		return StateSucceeded
	case "failed", "incomplete":
		return StateFailed
	case "cancelled":
		return StateCancelled
	case "expired":
		return StateExpired
	case "", "queued":
		state = StateSubmitted
	default:
		// in_progress, cancelling, requires_action
		state = StateRunning
	}
	if timeout > 0 && elapsed >= timeout {
		return StateTimedOut
	}
	return state
}
