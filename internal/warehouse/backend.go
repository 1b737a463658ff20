// Package warehouse loads record streams into analytical tables through a
// staging table and a set-based merge keyed on the record id.
//
// A Loader bulk-loads a stream into a uniquely named staging table, and a
// Merger folds that table into the destination and drops it. Backends
// supply the destination-specific primitives.
package warehouse

import (
	"context"
	"iter"
	"strings"

	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/google/uuid"
)

// Backend is the destination boundary.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// EnsureTable creates table with cols when it does not exist.
	EnsureTable(ctx context.Context, table string, cols []models.Column) error
	// Columns lists the column names of an existing table.
	Columns(ctx context.Context, table string) ([]string, error)
	// AddColumns appends cols to table as nullable columns.
	AddColumns(ctx context.Context, table string, cols []models.Column) error
	// LoadStaging creates staging with cols plus the ordinal column and
	// loads rows into it. It returns the number of rows loaded.
	LoadStaging(ctx context.Context, staging string, cols []models.Column, rows iter.Seq2[models.TimeRecord, error]) (int64, error)
	// Merge folds staging into table in one statement.
	Merge(ctx context.Context, staging, table string, cols []models.Column) (MergeStats, error)
	// DropTable removes table. Missing tables are not an error.
	DropTable(ctx context.Context, table string) error
}

// MergeStats reports what a merge touched. Inserted and Updated are only
// filled in by backends that can tell them apart.
type MergeStats struct {
	Rows     int64
	Inserted int64
	Updated  int64
}

// Staging is a loaded staging table. Empty means nothing was staged and no
// table exists.
type Staging struct {
	Table   string
	Rows    int64
	Columns []models.Column
	Empty   bool
}

// StagingName derives a unique staging table name for table.
func StagingName(table string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return table + "_staging_" + id[:12]
}
