// Package pipeline runs one extract and load cycle: fetch a date range from
// TimeCamp into a local interchange file, then merge it into a warehouse
// table or upload it to object storage as weekly files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/filex"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/metrics"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/objectstore"
	"github.com/dmitrijs2005/timecampetl/internal/stream"
	"github.com/dmitrijs2005/timecampetl/internal/timecamp"
	"github.com/dmitrijs2005/timecampetl/internal/timex"
	"github.com/dmitrijs2005/timecampetl/internal/warehouse"
	"github.com/google/uuid"
)

// Stage names, also used as metric labels.
const (
	StageValidate = "validate"
	StageFetch    = "fetch"
	StagePrepare  = "prepare"
	StageStage    = "stage"
	StageMerge    = "merge"
	StageUpload   = "upload"
)

// Source yields records for a query.
type Source interface {
	Fetch(ctx context.Context, q timecamp.Query) iter.Seq2[models.TimeRecord, error]
}

// Warehouse is the staged upsert into one destination. *warehouse.Upserter
// satisfies it.
type Warehouse interface {
	Prepare(ctx context.Context, table string) error
	Stage(ctx context.Context, table string, seq iter.Seq2[models.TimeRecord, error]) (warehouse.Staging, error)
	Merge(ctx context.Context, s warehouse.Staging, table string) (warehouse.MergeStats, error)
}

// Uploader writes weekly objects. *objectstore.Uploader satisfies it.
type Uploader interface {
	Upload(ctx context.Context, recs []models.TimeRecord, from, to time.Time) (objectstore.Report, error)
}

// RunLog persists run outcomes.
type RunLog interface {
	Start(ctx context.Context, run *models.Run) error
	Finish(ctx context.Context, run *models.Run) error
}

// Notifier announces finished runs.
type Notifier interface {
	RunCompleted(ctx context.Context, run models.Run) error
}

// Request is one run's input.
type Request struct {
	From           time.Time
	To             time.Time
	UserIDs        []string
	IncludeProject bool
	IncludeRates   bool
	PageSize       int
}

func (r Request) query() timecamp.Query {
	return timecamp.Query{
		From:           r.From,
		To:             r.To,
		UserIDs:        r.UserIDs,
		IncludeProject: r.IncludeProject,
		IncludeRates:   r.IncludeRates,
		PageSize:       r.PageSize,
	}
}

// StageTiming is how long one stage took.
type StageTiming struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Report summarises a run.
type Report struct {
	RunID       uuid.UUID
	Destination string
	File        string
	Records     int
	Staged      int64
	Merge       warehouse.MergeStats
	Upload      objectstore.Report
	Stages      []StageTiming
	Duration    time.Duration
}

// StageError tags a failure with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage recorded in err, or "".
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Pipeline wires a source to one destination.
type Pipeline struct {
	source      Source
	log         logging.Logger
	destination string
	warehouse   Warehouse
	table       string
	uploader    Uploader
	runLog      RunLog
	notifier    Notifier
	workDir     string
	keepFiles   bool
	format      stream.Format
	pushURL     string
	pushJob     string
	now         func() time.Time
	newID       func() uuid.UUID
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWarehouse targets a warehouse table.
func WithWarehouse(name string, w Warehouse, table string) Option {
	return func(p *Pipeline) {
		p.destination = name
		p.warehouse = w
		p.table = table
	}
}

// WithUploader targets object storage.
func WithUploader(u Uploader) Option {
	return func(p *Pipeline) {
		p.destination = "s3"
		p.uploader = u
	}
}

// WithRunLog records every run.
func WithRunLog(l RunLog) Option {
	return func(p *Pipeline) { p.runLog = l }
}

// WithNotifier publishes run outcomes.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithWorkDir sets where interchange files live and whether they survive
// a successful run.
func WithWorkDir(dir string, keep bool) Option {
	return func(p *Pipeline) {
		p.workDir = dir
		p.keepFiles = keep
	}
}

// WithFormat selects the interchange file format.
func WithFormat(f stream.Format) Option {
	return func(p *Pipeline) { p.format = f }
}

// WithMetricsPush pushes run metrics to a Pushgateway when the run ends.
func WithMetricsPush(url, job string) Option {
	return func(p *Pipeline) {
		p.pushURL = url
		p.pushJob = job
	}
}

// New builds a pipeline reading from src.
func New(src Source, log logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  src,
		log:     log,
		workDir: "data",
		format:  stream.FormatJSONL,
		now:     time.Now,
		newID:   uuid.New,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) timed(ctx context.Context, rep *Report, stage string, fn func() error) error {
	start := p.now()
	err := fn()
	d := p.now().Sub(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveStage(stage, status, d)
	if rep != nil {
		rep.Stages = append(rep.Stages, StageTiming{Name: stage, Duration: d, Err: err})
	}
	p.log.Debug(ctx, "stage finished", "stage", stage, "status", status, "duration", d)

	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// Run validates the range, fetches it to a file and delivers that file to
// the configured destination. The destination is untouched unless the
// fetch completed.
func (p *Pipeline) Run(ctx context.Context, req Request) (rep Report, err error) {
	started := p.now()
	rep = Report{RunID: p.newID(), Destination: p.destination}
	log := p.log.With("run_id", rep.RunID.String(), "destination", p.destination)

	if err := p.timed(ctx, &rep, StageValidate, p.validate(req)); err != nil {
		return rep, err
	}

	run := &models.Run{
		ID:          rep.RunID,
		From:        timex.FormatDate(req.From),
		To:          timex.FormatDate(req.To),
		Destination: p.destination,
		Status:      models.RunRunning,
		StartedAt:   started.UTC(),
	}
	p.startRun(ctx, run)
	defer func() {
		rep.Duration = p.now().Sub(started)
		p.finishRun(ctx, run, rep, err)
	}()

	log.Info(ctx, "run started", "from", run.From, "to", run.To)

	dir, err := filex.EnsureDir(p.workDir)
	if err != nil {
		return rep, &StageError{Stage: StageFetch, Err: err}
	}
	rep.File = filex.RunFile(dir, run.From, run.To, rep.RunID.String(), string(p.format))

	if err := p.timed(ctx, &rep, StageFetch, func() error {
		n, err := p.Fetch(ctx, req, rep.File)
		rep.Records = n
		return err
	}); err != nil {
		return rep, err
	}

	switch {
	case p.warehouse != nil:
		err = p.deliverWarehouse(ctx, &rep)
	case p.uploader != nil:
		err = p.timed(ctx, &rep, StageUpload, func() error {
			up, err := p.Upload(ctx, rep.File, req.From, req.To)
			rep.Upload = up
			return err
		})
	default:
		err = fmt.Errorf("%w: no destination configured", common.ErrInvalidConfig)
	}
	if err != nil {
		return rep, err
	}

	if !p.keepFiles {
		if rmErr := filex.RemoveIfExists(rep.File); rmErr != nil {
			log.Warn(ctx, "remove work file", "file", rep.File, "error", rmErr)
		}
	}

	log.Info(ctx, "run finished", "records", rep.Records, "merged", rep.Merge.Rows,
		"objects", len(rep.Upload.Keys), "duration", p.now().Sub(started))
	return rep, nil
}

func (p *Pipeline) validate(req Request) func() error {
	return func() error {
		return req.query().Validate()
	}
}

// Fetch writes the records of req to path and returns how many it wrote.
// A failed fetch leaves no file behind.
func (p *Pipeline) Fetch(ctx context.Context, req Request, path string) (int, error) {
	format := p.format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = stream.FormatJSON
	case ".jsonl", ".ndjson":
		format = stream.FormatJSONL
	}
	return stream.WriteFile(path, format, p.source.Fetch(ctx, req.query()))
}

func (p *Pipeline) deliverWarehouse(ctx context.Context, rep *Report) error {
	if err := p.timed(ctx, rep, StagePrepare, func() error {
		return p.warehouse.Prepare(ctx, p.table)
	}); err != nil {
		return err
	}

	var staging warehouse.Staging
	if err := p.timed(ctx, rep, StageStage, func() error {
		seq, closeFn, err := openRecords(rep.File)
		if err != nil {
			return err
		}
		defer closeFn()
		staging, err = p.warehouse.Stage(ctx, p.table, seq)
		return err
	}); err != nil {
		return err
	}
	rep.Staged = staging.Rows

	return p.timed(ctx, rep, StageMerge, func() error {
		stats, err := p.warehouse.Merge(ctx, staging, p.table)
		rep.Merge = stats
		if err == nil {
			metrics.RowsWritten(p.destination, "merged", stats.Rows)
		}
		return err
	})
}

// Load upserts the records of an interchange file into the warehouse.
func (p *Pipeline) Load(ctx context.Context, path string) (Report, error) {
	rep := Report{RunID: p.newID(), Destination: p.destination, File: path}
	if p.warehouse == nil {
		return rep, fmt.Errorf("%w: no warehouse configured", common.ErrInvalidConfig)
	}
	start := p.now()
	err := p.deliverWarehouse(ctx, &rep)
	rep.Duration = p.now().Sub(start)
	if err == nil {
		metrics.MarkSuccess(p.destination, p.now())
	}
	return rep, err
}

// Upload sends the records of an interchange file in [from, to] to object
// storage.
func (p *Pipeline) Upload(ctx context.Context, path string, from, to time.Time) (objectstore.Report, error) {
	if p.uploader == nil {
		return objectstore.Report{}, fmt.Errorf("%w: no uploader configured", common.ErrInvalidConfig)
	}
	recs, err := stream.ReadFile(path)
	if err != nil {
		return objectstore.Report{}, err
	}
	return p.uploader.Upload(ctx, recs, from, to)
}

func openRecords(path string) (iter.Seq2[models.TimeRecord, error], func() error, error) {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		recs, err := stream.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		return stream.Slice(recs), func() error { return nil }, nil
	}
	return stream.OpenFile(path)
}

func (p *Pipeline) startRun(ctx context.Context, run *models.Run) {
	if p.runLog == nil {
		return
	}
	if err := p.runLog.Start(ctx, run); err != nil {
		p.log.Warn(ctx, "run log start", "run_id", run.ID.String(), "error", err)
	}
}

// finishRun records the outcome everywhere it is reported. Reporting
// failures are logged and never change the run's result.
func (p *Pipeline) finishRun(ctx context.Context, run *models.Run, rep Report, runErr error) {
	ctx = context.WithoutCancel(ctx)

	run.FinishedAt = p.now().UTC()
	run.Records = int64(rep.Records)
	run.Merged = rep.Merge.Rows
	if p.uploader != nil {
		run.Merged = int64(rep.Upload.Records)
	}
	if runErr != nil {
		run.Status = models.RunFailed
		run.Stage = FailedStage(runErr)
		run.Error = runErr.Error()
		p.log.Error(ctx, "run failed", "run_id", run.ID.String(), "stage", run.Stage, "error", runErr)
	} else {
		run.Status = models.RunSucceeded
		metrics.MarkSuccess(p.destination, run.FinishedAt)
	}

	if p.runLog != nil {
		if err := p.runLog.Finish(ctx, run); err != nil {
			p.log.Warn(ctx, "run log finish", "run_id", run.ID.String(), "error", err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.RunCompleted(ctx, *run); err != nil {
			p.log.Warn(ctx, "run notification", "run_id", run.ID.String(), "error", err)
		}
	}
	if err := metrics.Push(ctx, p.pushURL, p.pushJob); err != nil {
		p.log.Warn(ctx, "push metrics", "error", err)
	}
}
