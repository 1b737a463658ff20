// Package bigquery implements the warehouse backend on Google BigQuery:
// NDJSON load jobs for staging and a MERGE query job for the upsert.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/warehouse"
	"google.golang.org/api/option"
)

// StagingTTL is how long an orphaned staging table survives.
const StagingTTL = 24 * time.Hour

// Options configures the client.
type Options struct {
	Project         string
	Dataset         string
	CredentialsFile string
	Location        string
}

// Backend is a warehouse.Backend over one BigQuery dataset.
type Backend struct {
	api api
	now func() time.Time
	bq  *bq.Client
}

var _ warehouse.Backend = (*Backend)(nil)

// newClient is a seam for tests.
var newClient = bq.NewClient

// New connects to BigQuery. Without a credentials file the default
// application credentials are used.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Project == "" || opts.Dataset == "" {
		return nil, fmt.Errorf("%w: bigquery project and dataset are required", common.ErrInvalidConfig)
	}

	var copts []option.ClientOption
	if opts.CredentialsFile != "" {
		copts = append(copts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	c, err := newClient(ctx, opts.Project, copts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if opts.Location != "" {
		c.Location = opts.Location
	}

	return &Backend{api: &clientAPI{c: c, ds: opts.Dataset}, now: time.Now, bq: c}, nil
}

// Close releases the client.
func (b *Backend) Close() error {
	if b.bq == nil {
		return nil
	}
	return b.bq.Close()
}

func (b *Backend) Name() string { return "bigquery" }

func (b *Backend) ref(table string) string {
	return tableRef(b.api.project(), b.api.dataset(), table)
}

func (b *Backend) EnsureTable(ctx context.Context, table string, cols []models.Column) error {
	_, err := b.api.metadata(ctx, table)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	return b.api.create(ctx, table, &bq.TableMetadata{Schema: schema(cols, true)})
}

func (b *Backend) Columns(ctx context.Context, table string) ([]string, error) {
	md, err := b.api.metadata(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(md.Schema))
	for _, f := range md.Schema {
		names = append(names, f.Name)
	}
	return names, nil
}

func (b *Backend) AddColumns(ctx context.Context, table string, cols []models.Column) error {
	if len(cols) == 0 {
		return nil
	}
	md, err := b.api.metadata(ctx, table)
	if err != nil {
		return err
	}
	s := append(bq.Schema{}, md.Schema...)
	s = append(s, schema(cols, false)...)
	return b.api.update(ctx, table, bq.TableMetadataToUpdate{Schema: s}, md.ETag)
}

// LoadStaging creates staging with a TTL and truncate-loads rows into it.
func (b *Backend) LoadStaging(ctx context.Context, staging string, cols []models.Column, rows iter.Seq2[models.TimeRecord, error]) (int64, error) {
	var buf bytes.Buffer
	n, err := writeNDJSON(&buf, rows)
	if err != nil {
		return 0, err
	}

	s := stagingSchema(cols)
	md := &bq.TableMetadata{Schema: s, ExpirationTime: b.now().Add(StagingTTL)}
	if err := b.api.create(ctx, staging, md); err != nil {
		return 0, fmt.Errorf("create staging: %w", err)
	}

	loaded, err := b.api.load(ctx, staging, &buf, s)
	if err != nil {
		return 0, err
	}
	if loaded != 0 && loaded != n {
		return 0, fmt.Errorf("staging loaded %d of %d rows", loaded, n)
	}
	return n, nil
}

func (b *Backend) Merge(ctx context.Context, staging, table string, cols []models.Column) (warehouse.MergeStats, error) {
	st, err := b.api.query(ctx, mergeSQL(b.ref(staging), b.ref(table), cols))
	if err != nil {
		return warehouse.MergeStats{}, err
	}
	var out warehouse.MergeStats
	if st != nil {
		out.Rows = st.NumDMLAffectedRows
		if st.DMLStats != nil {
			out.Inserted = st.DMLStats.InsertedRowCount
			out.Updated = st.DMLStats.UpdatedRowCount
		}
	}
	return out, nil
}

func (b *Backend) DropTable(ctx context.Context, table string) error {
	if err := b.api.delete(ctx, table); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// writeNDJSON encodes rows one per line with the ordinal appended.
func writeNDJSON(w io.Writer, rows iter.Seq2[models.TimeRecord, error]) (int64, error) {
	var seq int64
	for r, err := range rows {
		if err != nil {
			return 0, err
		}
		seq++
		r.Normalize()
		b, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("encode record %d: %w", r.ID, err)
		}
		// Records always encode as a non-empty object.
		b = append(b[:len(b)-1], `,"`+common.SeqColumn+`":`+strconv.FormatInt(seq, 10)+"}\n"...)
		if _, err := w.Write(b); err != nil {
			return 0, err
		}
	}
	return seq, nil
}
