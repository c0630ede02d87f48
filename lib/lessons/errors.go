package lessons

import "errors"

var (
	// ErrNotFound is returned when no lesson has the requested ID.
	ErrNotFound = errors.New("lesson not found")

	// ErrDuplicate is returned when two fixtures declare the same lesson ID.
	ErrDuplicate = errors.New("duplicate lesson id")

	// ErrInvalidLesson is returned when a fixture fails validation.
	ErrInvalidLesson = errors.New("invalid lesson")

	// ErrTaskIndex is returned when a task index is outside the lesson's task list.
	ErrTaskIndex = errors.New("task index out of range")

	// ErrUnknownValidation is returned for validation types the checker does not implement.
	ErrUnknownValidation = errors.New("unknown validation type")
)

// ValidationError describes which field of a fixture is wrong.
type ValidationError struct {
	Lesson  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Lesson == "" {
		return e.Field + ": " + e.Message
	}
	return e.Lesson + ": " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrInvalidLesson }
