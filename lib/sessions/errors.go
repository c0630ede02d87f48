package sessions

import "errors"

var (
	// ErrNotFound is returned when a session is not found
	ErrNotFound = errors.New("session not found")

	// ErrLimitReached is returned when creating a session would exceed the configured maximum
	ErrLimitReached = errors.New("session limit reached")

	// ErrNoLesson is returned when a task check is requested on a session without a lesson
	ErrNoLesson = errors.New("session has no lesson")

	// ErrInvalidCheck is returned when a check request names neither a task nor a validation
	ErrInvalidCheck = errors.New("check needs a task index or a validation")
)
