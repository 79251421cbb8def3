package importer

import "errors"

// Run-aborting error classes. Row- and batch-level failures are recovered
// in place and surface only through the statistics counters.
var (
	// ErrFileProcessing marks a source that is missing, unreadable, or of an
	// unsupported type.
	ErrFileProcessing = errors.New("file processing error")
	// ErrValidation marks a structural input validation failure.
	ErrValidation = errors.New("input data validation failed")
)
