// Package postgres implements the warehouse backend on PostgreSQL 15+
// using COPY for staging and MERGE for the upsert.
package postgres

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/dbx"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/warehouse"
	"github.com/jackc/pgx/v5"
)

// DB is what the backend needs from a pool.
type DB interface {
	dbx.DBTX
	dbx.Beginner
}

// Backend is a warehouse.Backend over a pgx pool.
type Backend struct {
	db DB
}

// NewBackend binds a backend to db.
func NewBackend(db DB) *Backend {
	return &Backend{db: db}
}

var _ warehouse.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "postgres" }

func (b *Backend) EnsureTable(ctx context.Context, table string, cols []models.Column) error {
	_, err := b.db.Exec(ctx, createTableSQL(table, cols))
	return err
}

func (b *Backend) Columns(ctx context.Context, table string) ([]string, error) {
	schema, name := splitName(table)
	rows, err := b.db.Query(ctx, columnsSQL, schema, name)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (b *Backend) AddColumns(ctx context.Context, table string, cols []models.Column) error {
	if len(cols) == 0 {
		return nil
	}
	_, err := b.db.Exec(ctx, addColumnsSQL(table, cols))
	return err
}

// LoadStaging creates the staging table and copies rows into it inside one
// transaction, so a failed copy leaves no table behind.
func (b *Backend) LoadStaging(ctx context.Context, staging string, cols []models.Column, rows iter.Seq2[models.TimeRecord, error]) (int64, error) {
	names := append(models.ColumnNames(cols), common.SeqColumn)

	var n int64
	err := dbx.WithTx(ctx, b.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.Exec(ctx, createStagingSQL(staging, cols)); err != nil {
			return fmt.Errorf("create staging: %w", err)
		}

		next, stop := iter.Pull2(rows)
		defer stop()

		var seq int64
		src := pgx.CopyFromFunc(func() ([]any, error) {
			r, err, ok := next()
			if !ok {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			seq++
			return copyRow(r, cols, seq)
		})

		var err error
		n, err = tx.CopyFrom(ctx, ident(staging), names, src)
		if err != nil {
			return fmt.Errorf("copy into staging: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Backend) Merge(ctx context.Context, staging, table string, cols []models.Column) (warehouse.MergeStats, error) {
	tag, err := b.db.Exec(ctx, mergeSQL(staging, table, cols))
	if err != nil {
		return warehouse.MergeStats{}, err
	}
	return warehouse.MergeStats{Rows: tag.RowsAffected()}, nil
}

func (b *Backend) DropTable(ctx context.Context, table string) error {
	_, err := b.db.Exec(ctx, dropTableSQL(table))
	return err
}

// copyRow converts a record into COPY values in cols order. DATE wants
// time.Time; the tag slice goes through the JSONB codec.
func copyRow(r models.TimeRecord, cols []models.Column, seq int64) ([]any, error) {
	all := r.Values()
	out := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		i, ok := columnIndex[c.Name]
		if !ok {
			return nil, fmt.Errorf("%w: record has no column %q", common.ErrSchemaMismatch, c.Name)
		}
		v := all[i]
		if c.Type == models.TypeDate {
			d, err := time.Parse(common.DateLayout, r.Date)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d: date %q", common.ErrSchemaMismatch, r.ID, r.Date)
			}
			v = d
		}
		out = append(out, v)
	}
	return append(out, seq), nil
}

var columnIndex = func() map[string]int {
	m := make(map[string]int, len(models.Columns))
	for i, c := range models.Columns {
		m[c.Name] = i
	}
	return m
}()
