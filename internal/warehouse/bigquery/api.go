package bigquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// api is the slice of the BigQuery client the backend uses, bound to one
// dataset.
type api interface {
	project() string
	dataset() string
	metadata(ctx context.Context, table string) (*bq.TableMetadata, error)
	create(ctx context.Context, table string, md *bq.TableMetadata) error
	update(ctx context.Context, table string, upd bq.TableMetadataToUpdate, etag string) error
	load(ctx context.Context, table string, r io.Reader, s bq.Schema) (int64, error)
	query(ctx context.Context, sql string) (*bq.QueryStatistics, error)
	delete(ctx context.Context, table string) error
}

type clientAPI struct {
	c  *bq.Client
	ds string
}

func (a *clientAPI) project() string { return a.c.Project() }
func (a *clientAPI) dataset() string { return a.ds }

func (a *clientAPI) table(name string) *bq.Table {
	return a.c.Dataset(a.ds).Table(name)
}

func (a *clientAPI) metadata(ctx context.Context, table string) (*bq.TableMetadata, error) {
	return a.table(table).Metadata(ctx)
}

func (a *clientAPI) create(ctx context.Context, table string, md *bq.TableMetadata) error {
	return a.table(table).Create(ctx, md)
}

func (a *clientAPI) update(ctx context.Context, table string, upd bq.TableMetadataToUpdate, etag string) error {
	_, err := a.table(table).Update(ctx, upd, etag)
	return err
}

func (a *clientAPI) load(ctx context.Context, table string, r io.Reader, s bq.Schema) (int64, error) {
	src := bq.NewReaderSource(r)
	src.SourceFormat = bq.JSON
	src.Schema = s

	loader := a.table(table).LoaderFrom(src)
	loader.WriteDisposition = bq.WriteTruncate
	loader.CreateDisposition = bq.CreateNever

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("start load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait load job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("load job %s: %w", job.ID(), err)
	}
	if st, ok := status.Statistics.Details.(*bq.LoadStatistics); ok {
		return st.OutputRows, nil
	}
	return 0, nil
}

func (a *clientAPI) query(ctx context.Context, sql string) (*bq.QueryStatistics, error) {
	job, err := a.c.Query(sql).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("start query job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait query job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("query job %s: %w", job.ID(), err)
	}
	st, _ := status.Statistics.Details.(*bq.QueryStatistics)
	return st, nil
}

func (a *clientAPI) delete(ctx context.Context, table string) error {
	return a.table(table).Delete(ctx)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
