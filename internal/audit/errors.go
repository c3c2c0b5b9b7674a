package audit

import "errors"

var (
	// ErrUnsupportedFormat is returned by Export for an unknown format tag.
	ErrUnsupportedFormat = errors.New("audit: unsupported export format")

	// ErrInvalidMaxRecords is returned when a memory backend is created
	// with a negative record bound.
	ErrInvalidMaxRecords = errors.New("audit: maxRecords must not be negative")

	// ErrInvalidOutcome is returned by Log when the decision input carries
	// an outcome other than permit or deny.
	ErrInvalidOutcome = errors.New("audit: outcome must be permit or deny")
)
