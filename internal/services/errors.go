package services

import "fmt"

// CompositionError is a per-sentence, retryable failure: the external
// compositing process exited non-zero, was killed by its timeout, or its
// inputs could not be prepared.
type CompositionError struct {
	Reason   string
	ExitCode int  // -1 when the process never ran or was killed
	TimedOut bool // true when the hard wall-clock timeout fired
	Err      error
}

func (e *CompositionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("composition timed out: %s", e.Reason)
	case e.ExitCode >= 0:
		return fmt.Sprintf("composition failed (exit %d): %s", e.ExitCode, e.Reason)
	default:
		return fmt.Sprintf("composition failed: %s", e.Reason)
	}
}

func (e *CompositionError) Unwrap() error { return e.Err }

// AssemblyError is task-fatal: the whole timeline step failed and there is
// nothing per-sentence retries can do about it.
type AssemblyError struct {
	Reason string
	Err    error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed: %s", e.Reason)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
