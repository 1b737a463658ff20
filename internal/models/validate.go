package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
)

// Validate checks the invariants a record must satisfy before it is staged.
func (r *TimeRecord) Validate() error {
	if r.ID == 0 {
		return fmt.Errorf("%w: record without id", common.ErrSchemaMismatch)
	}
	if _, err := time.Parse(common.DateLayout, r.Date); err != nil {
		return fmt.Errorf("%w: record %d: bad date %q", common.ErrSchemaMismatch, r.ID, r.Date)
	}

	levels := r.Breadcrumbs()
	for k := 0; k < len(levels)-1; k++ {
		if levels[k] != "" {
			continue
		}
		for j := k + 1; j < len(levels); j++ {
			if levels[j] != "" {
				return fmt.Errorf("%w: record %d: breadcrumb level %d set after empty level %d",
					common.ErrSchemaMismatch, r.ID, j+1, k+1)
			}
		}
		break
	}
	return nil
}
