// Package common defines shared constants and sentinel errors used across
// the pipeline stages. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Input errors, never retried.
	ErrInvalidRange  = errors.New("invalid date range")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Source errors. The run may be retried later.
	ErrSourceUnavailable = errors.New("source unavailable")

	// Payload or schema drift between the stream and the destination.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// Destination-side errors.
	ErrStagingFailed = errors.New("staging load failed")
	ErrMergeFailed   = errors.New("merge failed")
	ErrUploadFailed  = errors.New("upload failed")
)
