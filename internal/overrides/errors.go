package overrides

import "errors"

// Sentinel errors for override assembly.
var (
	// ErrInvalidKey is returned for override keys that do not match the
	// trainer's dotted config schema shape.
	ErrInvalidKey = errors.New("invalid override key")

	// ErrKeyCollision is returned when a free-form override would shadow a
	// key derived from a structured manifest field.
	ErrKeyCollision = errors.New("override collides with derived key")

	// ErrReservedEnv is returned when manifest env tries to set a variable
	// that verlctl owns.
	ErrReservedEnv = errors.New("reserved environment variable")
)
