package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/config"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/notify"
	"github.com/dmitrijs2005/timecampetl/internal/objectstore"
	"github.com/dmitrijs2005/timecampetl/internal/pipeline"
	"github.com/dmitrijs2005/timecampetl/internal/stream"
	"github.com/dmitrijs2005/timecampetl/internal/timecamp"
	"github.com/dmitrijs2005/timecampetl/internal/warehouse"
	"github.com/dmitrijs2005/timecampetl/internal/warehouse/bigquery"
	"github.com/dmitrijs2005/timecampetl/internal/warehouse/postgres"
)

// Constructor seams for tests.
var (
	openPool    = postgres.Open
	newBigQuery = bigquery.New
	newUploader = objectstore.New
)

// App holds the resolved configuration of one invocation and builds the
// components its command needs.
type App struct {
	cfg    *config.Config
	log    logging.Logger
	stdout io.Writer
}

func (a *App) fetcher() (*timecamp.Fetcher, error) {
	if err := a.cfg.ValidateSource(); err != nil {
		return nil, err
	}
	c, err := timecamp.NewClient(timecamp.Options{
		Domain:            a.cfg.Domain,
		Token:             a.cfg.APIKey,
		BaseURL:           a.cfg.APIURL,
		Timeout:           a.cfg.RequestTimeout,
		RequestsPerSecond: a.cfg.RequestsPerSecond,
		Retry: timecamp.RetryPolicy{
			MaxAttempts:      a.cfg.MaxAttempts,
			BaseDelay:        a.cfg.RetryBaseDelay,
			MaxDelay:         a.cfg.RetryMaxDelay,
			MaxRateLimitWait: a.cfg.MaxRateLimitWait,
		},
	}, a.log)
	if err != nil {
		return nil, err
	}
	return timecamp.NewFetcher(c), nil
}

func (a *App) request(from, to string) (pipeline.Request, error) {
	f, t, err := parseRange(from, to)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		From:           f,
		To:             t,
		UserIDs:        a.cfg.Users(),
		IncludeProject: a.cfg.IncludeProject,
		IncludeRates:   a.cfg.IncludeRates,
		PageSize:       a.cfg.PageSize,
	}, nil
}

// baseOptions are shared by every pipeline regardless of destination.
func (a *App) baseOptions() ([]pipeline.Option, error) {
	format, err := stream.ParseFormat(a.cfg.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return []pipeline.Option{
		pipeline.WithWorkDir(a.cfg.WorkDir, a.cfg.KeepFiles),
		pipeline.WithFormat(format),
		pipeline.WithMetricsPush(a.cfg.PushgatewayURL, a.cfg.MetricsJob),
	}, nil
}

// destination builds the options for the configured destination. The
// returned cleanup releases connections and must always be called.
func (a *App) destination(ctx context.Context) ([]pipeline.Option, func(), error) {
	if err := a.cfg.ValidateDestination(); err != nil {
		return nil, func() {}, err
	}

	var (
		opts    []pipeline.Option
		closers []func() error
	)
	cleanup := func() {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		if err := errors.Join(errs...); err != nil {
			a.log.Warn(ctx, "release resources", "error", err)
		}
	}

	evolve := warehouse.WithSchemaEvolution(a.cfg.SchemaEvolution)

	switch a.cfg.Destination {
	case config.DestPostgres:
		pool, err := openPool(ctx, a.cfg.DatabaseDSN, a.cfg.RunLog)
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %w", common.ErrStagingFailed, err)
		}
		closers = append(closers, func() error { pool.Close(); return nil })

		up := warehouse.NewUpserter(postgres.NewBackend(pool), a.log, evolve)
		opts = append(opts, pipeline.WithWarehouse(config.DestPostgres, up, a.cfg.PGTable))
		if a.cfg.RunLog {
			opts = append(opts, pipeline.WithRunLog(postgres.NewRunLog(pool)))
		}

	case config.DestBigQuery:
		b, err := newBigQuery(ctx, bigquery.Options{
			Project:         a.cfg.GCPProject,
			Dataset:         a.cfg.BQDataset,
			CredentialsFile: a.cfg.GCPCredentials,
			Location:        a.cfg.BQLocation,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %w", common.ErrStagingFailed, err)
		}
		closers = append(closers, b.Close)

		up := warehouse.NewUpserter(b, a.log, evolve)
		opts = append(opts, pipeline.WithWarehouse(config.DestBigQuery, up, a.cfg.BQTable))

	case config.DestS3:
		format, err := objectstore.ParseFormat(a.cfg.S3Format)
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
		}
		u, err := newUploader(ctx, objectstore.Options{
			Bucket:       a.cfg.S3Bucket,
			Prefix:       a.cfg.S3Prefix,
			Region:       a.cfg.S3Region,
			AccessKey:    a.cfg.S3AccessKey,
			SecretKey:    a.cfg.S3SecretKey,
			Endpoint:     a.cfg.S3Endpoint,
			UsePathStyle: a.cfg.S3UsePathStyle,
			Encrypt:      a.cfg.S3Encrypt,
			Format:       format,
		}, a.log)
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w: %w", common.ErrUploadFailed, err)
		}
		opts = append(opts, pipeline.WithUploader(u))
	}

	if n := notify.New(a.cfg.Brokers(), a.cfg.KafkaTopic, a.log); n != nil {
		closers = append(closers, n.Close)
		opts = append(opts, pipeline.WithNotifier(n))
	}

	return opts, cleanup, nil
}
