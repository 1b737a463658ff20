package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func validRecord() TimeRecord {
	return TimeRecord{
		ID:        42,
		UserID:    "7",
		UserName:  "Ann",
		Date:      "2024-05-02",
		StartTime: "09:00:00",
		EndTime:   "10:00:00",
		Duration:  3600,
	}
}

func TestRecordKeys_MatchColumns(t *testing.T) {
	assert.Equal(t, ColumnNames(Columns), RecordKeys())
}

func TestValues_AlignWithColumns(t *testing.T) {
	r := validRecord()
	vals := r.Values()
	require.Len(t, vals, len(Columns))
	assert.Equal(t, int64(42), vals[0])
	assert.Equal(t, []Tag{}, vals[22])
}

func TestJSON_OmitsAbsentOptionals(t *testing.T) {
	r := validRecord()
	r.Normalize()
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.NotContains(t, m, "task_note")
	assert.NotContains(t, m, "billable")
	assert.Equal(t, []any{}, m["tags"])

	r.TaskNote = strp("")
	b, err = json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"task_note":""`)
}

func TestBreadcrumbs_RoundTrip(t *testing.T) {
	var r TimeRecord
	r.SetBreadcrumbs([4]string{"Org", "Eng", "", ""})
	assert.Equal(t, [4]string{"Org", "Eng", "", ""}, r.Breadcrumbs())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *TimeRecord)
		wantErr bool
	}{
		{"ok", func(r *TimeRecord) {}, false},
		{"full hierarchy", func(r *TimeRecord) { r.SetBreadcrumbs([4]string{"a", "b", "c", "d"}) }, false},
		{"missing id", func(r *TimeRecord) { r.ID = 0 }, true},
		{"bad date", func(r *TimeRecord) { r.Date = "02/05/2024" }, true},
		{"gap in hierarchy", func(r *TimeRecord) { r.SetBreadcrumbs([4]string{"a", "", "c", ""}) }, true},
		{"no root", func(r *TimeRecord) { r.SetBreadcrumbs([4]string{"", "b", "", ""}) }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mutate(&r)
			err := r.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, common.ErrSchemaMismatch))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCategoryName(t *testing.T) {
	assert.Equal(t, "Developer Tools", CategoryName("2"))
	assert.Equal(t, "Hobby", CategoryName("18"))
	assert.Equal(t, NoCategory, CategoryName("0"))
	assert.Equal(t, NoCategory, CategoryName("99"))
	assert.Equal(t, NoCategory, CategoryName(""))
}

func TestActivityStart(t *testing.T) {
	assert.Equal(t, "2024-05-01 23:59:00", ActivityStart("2024-05-02 00:01:00", 120))
	assert.Equal(t, "2024-05-02 00:01:00", ActivityStart("2024-05-02 00:01:00", 0))
	assert.Equal(t, "", ActivityStart("2024-05-02T00:01:00Z", 10))
	assert.Equal(t, "", ActivityStart("", 10))
}
