package warehouse

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/models"
)

// Loader stages record streams.
type Loader struct {
	backend      Backend
	log          logging.Logger
	evolveSchema bool
	nameFn       func(string) string
}

// LoaderOption tweaks a Loader.
type LoaderOption func(*Loader)

// WithSchemaEvolution lets the loader append missing columns to the
// destination instead of failing.
func WithSchemaEvolution(on bool) LoaderOption {
	return func(l *Loader) { l.evolveSchema = on }
}

// WithStagingNames overrides how staging tables are named.
func WithStagingNames(fn func(string) string) LoaderOption {
	return func(l *Loader) { l.nameFn = fn }
}

// NewLoader builds a Loader over b.
func NewLoader(b Backend, log logging.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{backend: b, log: log, nameFn: StagingName}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load checks the destination schema, then stages every record of seq
// verbatim. Either a fully loaded staging table is returned or none exists.
// An empty seq stages nothing.
func (l *Loader) Load(ctx context.Context, table string, seq iter.Seq2[models.TimeRecord, error]) (Staging, error) {
	cols := models.Columns

	if err := l.checkSchema(ctx, table, cols); err != nil {
		return Staging{}, err
	}

	next, stop := iter.Pull2(seq)
	defer stop()

	first, err, ok := next()
	if !ok {
		l.log.Info(ctx, "nothing to stage", "table", table)
		return Staging{Empty: true, Columns: cols}, nil
	}
	if err != nil {
		return Staging{}, fmt.Errorf("%w: %w", common.ErrStagingFailed, err)
	}

	var streamErr error
	rows := func(yield func(models.TimeRecord, error) bool) {
		r, err := first, error(nil)
		for {
			if err == nil {
				err = r.Validate()
			}
			if err != nil {
				streamErr = err
				yield(models.TimeRecord{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
			var more bool
			r, err, more = next()
			if !more {
				return
			}
		}
	}

	name := l.nameFn(table)
	log := l.log.With("table", table, "staging", name, "backend", l.backend.Name())

	n, err := l.backend.LoadStaging(ctx, name, cols, rows)
	if err != nil {
		if derr := l.backend.DropTable(context.WithoutCancel(ctx), name); derr != nil {
			log.Warn(ctx, "drop staging after failed load", "error", derr)
		}
		if errors.Is(streamErr, common.ErrSchemaMismatch) || errors.Is(err, common.ErrSchemaMismatch) {
			return Staging{}, fmt.Errorf("stage %s: %w", table, err)
		}
		return Staging{}, fmt.Errorf("%w: stage %s: %w", common.ErrStagingFailed, table, err)
	}

	log.Info(ctx, "staged records", "rows", n)
	return Staging{Table: name, Rows: n, Columns: cols}, nil
}

func (l *Loader) checkSchema(ctx context.Context, table string, cols []models.Column) error {
	have, err := l.backend.Columns(ctx, table)
	if err != nil {
		return fmt.Errorf("%w: read columns of %s: %w", common.ErrStagingFailed, table, err)
	}

	var missing []models.Column
	for _, c := range cols {
		if !slices.Contains(have, c.Name) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	names := models.ColumnNames(missing)
	if !l.evolveSchema {
		return fmt.Errorf("%w: %s lacks columns %v", common.ErrSchemaMismatch, table, names)
	}

	l.log.Warn(ctx, "adding columns to destination", "table", table, "columns", names)
	if err := l.backend.AddColumns(ctx, table, missing); err != nil {
		return fmt.Errorf("%w: add columns %v to %s: %w", common.ErrSchemaMismatch, names, table, err)
	}
	return nil
}
