package cli

import (
	"errors"

	"github.com/dmitrijs2005/timecampetl/internal/common"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitUnexpected = 1
	ExitInvalid    = 2
	ExitSource     = 3
	ExitStaging    = 4
	ExitMerge      = 5
	ExitUpload     = 6
)

// ExitCode classifies err for the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, common.ErrInvalidRange), errors.Is(err, common.ErrInvalidConfig):
		return ExitInvalid
	case errors.Is(err, common.ErrSourceUnavailable):
		return ExitSource
	case errors.Is(err, common.ErrSchemaMismatch), errors.Is(err, common.ErrStagingFailed):
		return ExitStaging
	case errors.Is(err, common.ErrMergeFailed):
		return ExitMerge
	case errors.Is(err, common.ErrUploadFailed):
		return ExitUpload
	default:
		return ExitUnexpected
	}
}
