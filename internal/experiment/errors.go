package experiment

import "errors"

// Sentinel errors for the experiment package. Using sentinels instead of
// ad-hoc fmt.Errorf allows callers to match with errors.Is.
var (
	// ErrMissingField is returned when a required manifest field is empty.
	ErrMissingField = errors.New("missing required field")

	// ErrOutOfRange is returned when a numeric field falls outside its domain.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidValue is returned for malformed field values.
	ErrInvalidValue = errors.New("invalid value")
)
