package chat

import "errors"

// Turn failures surfaced to callers. Errors returned by Send wrap one of
// these, so classify with errors.Is.
var (
	ErrAuthRequired    = errors.New("authentication required")
	ErrCreateFailed    = errors.New("creating chat record failed")
	ErrStreamTransport = errors.New("assistant stream failed")
	ErrPersistFailed   = errors.New("saving chat record failed")
	ErrTurnInProgress  = errors.New("a reply is still streaming")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrSessionClosed   = errors.New("conversation was replaced")
	ErrInvalidTitle    = errors.New("title must be 3 to 50 characters")
)

// Failures recovered inside the controller; they are only logged.
var (
	ErrTitleGeneration     = errors.New("title generation failed")
	ErrLocationUnavailable = errors.New("location unavailable")
)
