package warehouse

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend keeps tables in memory. Merge applies last-write-wins by
// ordinal and keeps stored optionals when staging omits them.
type memBackend struct {
	tables   map[string]map[int64]models.TimeRecord
	staged   map[string][]models.TimeRecord
	columns  map[string][]string
	dropped  []string
	loadErr  error
	mergeErr error
	added    []string
}

func newMem() *memBackend {
	return &memBackend{
		tables:  map[string]map[int64]models.TimeRecord{},
		staged:  map[string][]models.TimeRecord{},
		columns: map[string][]string{},
	}
}

func (m *memBackend) Name() string { return "mem" }

func (m *memBackend) EnsureTable(ctx context.Context, table string, cols []models.Column) error {
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = map[int64]models.TimeRecord{}
		m.columns[table] = models.ColumnNames(cols)
	}
	return nil
}

func (m *memBackend) Columns(ctx context.Context, table string) ([]string, error) {
	return m.columns[table], nil
}

func (m *memBackend) AddColumns(ctx context.Context, table string, cols []models.Column) error {
	for _, c := range cols {
		m.columns[table] = append(m.columns[table], c.Name)
		m.added = append(m.added, c.Name)
	}
	return nil
}

func (m *memBackend) LoadStaging(ctx context.Context, staging string, cols []models.Column, rows iter.Seq2[models.TimeRecord, error]) (int64, error) {
	m.staged[staging] = nil
	for r, err := range rows {
		if err != nil {
			return 0, err
		}
		m.staged[staging] = append(m.staged[staging], r)
	}
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	return int64(len(m.staged[staging])), nil
}

func (m *memBackend) Merge(ctx context.Context, staging, table string, cols []models.Column) (MergeStats, error) {
	if m.mergeErr != nil {
		return MergeStats{}, m.mergeErr
	}
	last := map[int64]models.TimeRecord{}
	var order []int64
	for _, r := range m.staged[staging] {
		if _, ok := last[r.ID]; !ok {
			order = append(order, r.ID)
		}
		last[r.ID] = r
	}
	var st MergeStats
	for _, id := range order {
		r := last[id]
		if old, ok := m.tables[table][id]; ok {
			if r.TaskNote == nil {
				r.TaskNote = old.TaskNote
			}
			st.Updated++
		} else {
			st.Inserted++
		}
		m.tables[table][id] = r
		st.Rows++
	}
	return st, nil
}

func (m *memBackend) DropTable(ctx context.Context, table string) error {
	delete(m.staged, table)
	m.dropped = append(m.dropped, table)
	return nil
}

func strp(s string) *string { return &s }

func rec(id int64, user string) models.TimeRecord {
	return models.TimeRecord{ID: id, UserID: user, Date: "2024-05-02", Tags: []models.Tag{}}
}

func fixedName(string) string { return "t_staging_000000000000" }

func TestUpsert_InsertsThenIsIdempotent(t *testing.T) {
	b := newMem()
	u := NewUpserter(b, logging.Discard())
	ctx := context.Background()

	recs := []models.TimeRecord{rec(1, "a"), rec(2, "b")}

	res, err := u.Upsert(ctx, "t", stream.Slice(recs))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Staged)
	assert.Equal(t, int64(2), res.Merge.Inserted)

	res, err = u.Upsert(ctx, "t", stream.Slice(recs))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Merge.Updated)

	assert.Len(t, b.tables["t"], 2)
	assert.Empty(t, b.staged, "staging tables are dropped")
	require.Len(t, b.dropped, 2)
	for _, d := range b.dropped {
		assert.True(t, strings.HasPrefix(d, "t_staging_"))
		assert.Len(t, d, len("t_staging_")+12)
	}
}

func TestUpsert_DuplicateIDsLastWins(t *testing.T) {
	b := newMem()
	u := NewUpserter(b, logging.Discard())

	_, err := u.Upsert(context.Background(), "t", stream.Slice([]models.TimeRecord{rec(1, "first"), rec(1, "second")}))
	require.NoError(t, err)
	assert.Equal(t, "second", b.tables["t"][1].UserID)
}

func TestLoad_EmptyStreamStagesNothing(t *testing.T) {
	b := newMem()
	require.NoError(t, b.EnsureTable(context.Background(), "t", models.Columns))
	l := NewLoader(b, logging.Discard())

	s, err := l.Load(context.Background(), "t", stream.Slice(nil))
	require.NoError(t, err)
	assert.True(t, s.Empty)
	assert.Empty(t, b.staged)

	st, err := NewMerger(b, logging.Discard()).Merge(context.Background(), s, "t")
	require.NoError(t, err)
	assert.Equal(t, MergeStats{}, st)
	assert.Empty(t, b.dropped)
}

func TestLoad_MissingColumnsIsSchemaMismatch(t *testing.T) {
	b := newMem()
	b.tables["t"] = map[int64]models.TimeRecord{}
	b.columns["t"] = []string{"id", "user_id"}
	l := NewLoader(b, logging.Discard())

	_, err := l.Load(context.Background(), "t", stream.Slice([]models.TimeRecord{rec(1, "a")}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrSchemaMismatch))
	assert.Empty(t, b.staged, "nothing staged on mismatch")
}

func TestLoad_EvolveSchemaAddsColumns(t *testing.T) {
	b := newMem()
	b.tables["t"] = map[int64]models.TimeRecord{}
	b.columns["t"] = models.ColumnNames(models.Columns[:len(models.Columns)-2])
	l := NewLoader(b, logging.Discard(), WithSchemaEvolution(true), WithStagingNames(fixedName))

	s, err := l.Load(context.Background(), "t", stream.Slice([]models.TimeRecord{rec(1, "a")}))
	require.NoError(t, err)
	assert.Equal(t, "t_staging_000000000000", s.Table)
	assert.Equal(t, []string{"last_modify", "locked"}, b.added)
}

func TestLoad_InvalidRecordDropsStaging(t *testing.T) {
	b := newMem()
	require.NoError(t, b.EnsureTable(context.Background(), "t", models.Columns))
	l := NewLoader(b, logging.Discard(), WithStagingNames(fixedName))

	bad := rec(2, "b")
	bad.Date = "yesterday"

	_, err := l.Load(context.Background(), "t", stream.Slice([]models.TimeRecord{rec(1, "a"), bad}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrSchemaMismatch))
	assert.Equal(t, []string{"t_staging_000000000000"}, b.dropped)
}

func TestLoad_BackendFailureIsStagingFailed(t *testing.T) {
	b := newMem()
	require.NoError(t, b.EnsureTable(context.Background(), "t", models.Columns))
	b.loadErr = errors.New("disk full")
	l := NewLoader(b, logging.Discard(), WithStagingNames(fixedName))

	_, err := l.Load(context.Background(), "t", stream.Slice([]models.TimeRecord{rec(1, "a")}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrStagingFailed))
	assert.Equal(t, []string{"t_staging_000000000000"}, b.dropped)
}

func TestLoad_StreamErrorIsStagingFailed(t *testing.T) {
	b := newMem()
	require.NoError(t, b.EnsureTable(context.Background(), "t", models.Columns))
	l := NewLoader(b, logging.Discard())

	seq := func(yield func(models.TimeRecord, error) bool) {
		yield(models.TimeRecord{}, errors.New("truncated file"))
	}
	_, err := l.Load(context.Background(), "t", seq)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrStagingFailed))
}

func TestMerge_FailureStillDropsStaging(t *testing.T) {
	b := newMem()
	require.NoError(t, b.EnsureTable(context.Background(), "t", models.Columns))
	b.tables["t"][1] = rec(1, "old")
	u := NewUpserter(b, logging.Discard(), WithStagingNames(fixedName))

	s, err := u.Stage(context.Background(), "t", stream.Slice([]models.TimeRecord{rec(1, "new")}))
	require.NoError(t, err)

	b.mergeErr = errors.New("deadlock")
	_, err = u.Merge(context.Background(), s, "t")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrMergeFailed))
	assert.Equal(t, []string{"t_staging_000000000000"}, b.dropped)
	assert.Equal(t, "old", b.tables["t"][1].UserID, "destination untouched")
}

func TestMerge_AbsentOptionalKeepsStoredValue(t *testing.T) {
	b := newMem()
	u := NewUpserter(b, logging.Discard())
	ctx := context.Background()

	r := rec(1, "a")
	r.TaskNote = strp("kept")
	_, err := u.Upsert(ctx, "t", stream.Slice([]models.TimeRecord{r}))
	require.NoError(t, err)

	_, err = u.Upsert(ctx, "t", stream.Slice([]models.TimeRecord{rec(1, "a")}))
	require.NoError(t, err)
	require.NotNil(t, b.tables["t"][1].TaskNote)
	assert.Equal(t, "kept", *b.tables["t"][1].TaskNote)

	r.TaskNote = strp("")
	_, err = u.Upsert(ctx, "t", stream.Slice([]models.TimeRecord{r}))
	require.NoError(t, err)
	assert.Equal(t, "", *b.tables["t"][1].TaskNote)
}

func TestStagingName_Unique(t *testing.T) {
	a, b := StagingName("t"), StagingName("t")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "t_staging_"))
}
