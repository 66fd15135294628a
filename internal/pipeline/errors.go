package pipeline

import "errors"

// ErrInvalidTransition is returned by the task control surface when the
// requested transition is not legal from the task's current state. No state
// is changed.
var ErrInvalidTransition = errors.New("invalid task transition")

// ErrMaterialUnavailable marks a sentence whose image or audio material
// cannot be resolved. Retrying cannot help, so the sentence fails
// immediately without consuming a retry attempt.
var ErrMaterialUnavailable = errors.New("required material unavailable")

// ErrChapterBusy is returned by Start when another task already holds the
// chapter's lease.
var ErrChapterBusy = errors.New("another task is already running for this chapter")
