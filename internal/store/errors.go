package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrRunNotFound is returned when no run matches an ID or prefix.
	ErrRunNotFound = errors.New("run not found")

	// ErrAmbiguousID is returned when a short ID prefix matches several runs.
	ErrAmbiguousID = errors.New("ambiguous run id")

	// ErrBadTransition is returned for illegal status transitions.
	ErrBadTransition = errors.New("invalid status transition")

	// ErrBadStatus is returned for an unknown status filter.
	ErrBadStatus = errors.New("unknown status")
)
