package warehouse

import (
	"context"
	"fmt"
	"iter"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/models"
)

// Result summarises one Upsert.
type Result struct {
	Staged int64
	Merge  MergeStats
}

// Upserter chains table creation, staging and merge.
type Upserter struct {
	backend Backend
	loader  *Loader
	merger  *Merger
}

// NewUpserter builds an Upserter over b.
func NewUpserter(b Backend, log logging.Logger, opts ...LoaderOption) *Upserter {
	return &Upserter{
		backend: b,
		loader:  NewLoader(b, log, opts...),
		merger:  NewMerger(b, log),
	}
}

// Prepare creates the destination table if it is missing.
func (u *Upserter) Prepare(ctx context.Context, table string) error {
	if err := u.backend.EnsureTable(ctx, table, models.Columns); err != nil {
		return fmt.Errorf("%w: ensure table %s: %w", common.ErrStagingFailed, table, err)
	}
	return nil
}

// Stage loads seq into a fresh staging table.
func (u *Upserter) Stage(ctx context.Context, table string, seq iter.Seq2[models.TimeRecord, error]) (Staging, error) {
	return u.loader.Load(ctx, table, seq)
}

// Merge folds s into table.
func (u *Upserter) Merge(ctx context.Context, s Staging, table string) (MergeStats, error) {
	return u.merger.Merge(ctx, s, table)
}

// Upsert runs Prepare, Stage and Merge in order.
func (u *Upserter) Upsert(ctx context.Context, table string, seq iter.Seq2[models.TimeRecord, error]) (Result, error) {
	if err := u.Prepare(ctx, table); err != nil {
		return Result{}, err
	}
	s, err := u.Stage(ctx, table, seq)
	if err != nil {
		return Result{}, err
	}
	stats, err := u.Merge(ctx, s, table)
	if err != nil {
		return Result{Staged: s.Rows}, err
	}
	return Result{Staged: s.Rows, Merge: stats}, nil
}
