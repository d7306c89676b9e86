package pipeline

import "fmt"

// AbortError is returned by Run when the pipeline ends in ABORTED.
// State is the last state reached before the failure.
type AbortError struct {
	State  State
	Reason string
	Err    error
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pipeline aborted in %s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("pipeline aborted in %s: %s: %v", e.State, e.Reason, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }
