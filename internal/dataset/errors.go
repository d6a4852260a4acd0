package dataset

import "errors"

// Sentinel errors for dataset preflight.
var (
	// ErrMalformedAnnotations is returned when the annotation file is not a
	// JSON array of records.
	ErrMalformedAnnotations = errors.New("malformed annotation file")

	// ErrEmptyAnnotations is returned for an annotation file with no records.
	ErrEmptyAnnotations = errors.New("annotation file has no records")

	// ErrEmptyTemplate is returned for an empty format-prompt template.
	ErrEmptyTemplate = errors.New("empty format prompt template")

	// ErrNoContentSlot is returned when the template never renders the
	// question.
	ErrNoContentSlot = errors.New("format prompt missing content slot")
)
