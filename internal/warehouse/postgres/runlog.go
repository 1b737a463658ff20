package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/dbx"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/warehouse/postgres/migrations"
	"github.com/pressly/goose/v3"
)

// RunLog records pipeline runs in etl_runs. The pipeline never reads it.
type RunLog struct {
	db dbx.DBTX
}

// NewRunLog binds a run log to db.
func NewRunLog(db dbx.DBTX) *RunLog {
	return &RunLog{db: db}
}

const insertRunSQL = `INSERT INTO etl_runs (id, range_from, range_to, destination, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

const finishRunSQL = `UPDATE etl_runs
SET status = $2, stage = $3, records = $4, merged = $5, error = $6, finished_at = $7
WHERE id = $1`

// Start inserts run with its initial status.
func (l *RunLog) Start(ctx context.Context, run *models.Run) error {
	from, err := time.Parse(common.DateLayout, run.From)
	if err != nil {
		return fmt.Errorf("run from: %w", err)
	}
	to, err := time.Parse(common.DateLayout, run.To)
	if err != nil {
		return fmt.Errorf("run to: %w", err)
	}
	_, err = l.db.Exec(ctx, insertRunSQL, run.ID, from, to, run.Destination, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish stores the final outcome of run.
func (l *RunLog) Finish(ctx context.Context, run *models.Run) error {
	tag, err := l.db.Exec(ctx, finishRunSQL, run.ID, run.Status, run.Stage, run.Records, run.Merged, run.Error, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: not started", run.ID)
	}
	return nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
