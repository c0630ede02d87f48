package vfs

import "errors"

// Sentinel error kinds. Their text is the conventional Unix diagnostic so
// callers can render "<cmd>: <path>: <reason>" without a lookup table.
var (
	ErrNotExist     = errors.New("No such file or directory")
	ErrExist        = errors.New("File exists")
	ErrNotDir       = errors.New("Not a directory")
	ErrIsDir        = errors.New("Is a directory")
	ErrNotEmpty     = errors.New("Directory not empty")
	ErrInvalid      = errors.New("Invalid argument")
	ErrLoop         = errors.New("Too many levels of symbolic links")
	ErrUnknownUser  = errors.New("invalid user")
	ErrUnknownGroup = errors.New("invalid group")
	ErrNoSpace      = errors.New("No space left on device")
	ErrTooLarge     = errors.New("File too large")
	ErrPermission   = errors.New("Permission denied")
)

// PathError records a failed operation and the path (or account name) it was
// applied to, exactly as the caller spelled it.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

func pathErr(op, p string, err error) error {
	return &PathError{Op: op, Path: p, Err: err}
}
