package formatter

import "errors"

// ErrUnknownFormat is returned for output formats the CLI does not support.
var ErrUnknownFormat = errors.New("unknown output format")
