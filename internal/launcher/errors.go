package launcher

import "errors"

// Sentinel errors for the launcher package.
var (
	// ErrInterpreterNotFound is returned when the python command cannot be
	// resolved on PATH.
	ErrInterpreterNotFound = errors.New("python interpreter not found")

	// ErrNoLogPath is returned when an invocation omits its log path.
	ErrNoLogPath = errors.New("invocation has no log path")
)
