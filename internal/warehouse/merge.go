package warehouse

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
)

// Merger folds staging tables into destinations.
type Merger struct {
	backend Backend
	log     logging.Logger
}

// NewMerger builds a Merger over b.
func NewMerger(b Backend, log logging.Logger) *Merger {
	return &Merger{backend: b, log: log}
}

// Merge upserts s into table keyed on id and drops s afterwards, whether
// or not the merge succeeded. An empty staging is a no-op.
func (m *Merger) Merge(ctx context.Context, s Staging, table string) (MergeStats, error) {
	if s.Empty || s.Table == "" {
		return MergeStats{}, nil
	}

	log := m.log.With("table", table, "staging", s.Table, "backend", m.backend.Name())

	defer func() {
		if err := m.backend.DropTable(context.WithoutCancel(ctx), s.Table); err != nil {
			log.Warn(ctx, "drop staging after merge", "error", err)
		}
	}()

	stats, err := m.backend.Merge(ctx, s.Table, table, s.Columns)
	if err != nil {
		return MergeStats{}, fmt.Errorf("%w: %s into %s: %w", common.ErrMergeFailed, s.Table, table, err)
	}

	log.Info(ctx, "merged staging", "rows", stats.Rows, "inserted", stats.Inserted, "updated", stats.Updated)
	return stats, nil
}
