package models

import (
	"reflect"
	"strings"
)

// LogicalType is a backend-neutral column type.
type LogicalType string

const (
	TypeInt64   LogicalType = "INT64"
	TypeString  LogicalType = "STRING"
	TypeDate    LogicalType = "DATE"
	TypeBool    LogicalType = "BOOL"
	TypeFloat64 LogicalType = "FLOAT64"
	TypeJSON    LogicalType = "JSON"
)

// Column describes one destination column.
type Column struct {
	Name     string
	Type     LogicalType
	Nullable bool
}

// IDColumn is the upsert key.
const IDColumn = "id"

// Columns is the destination schema, in stream key order.
var Columns = []Column{
	{Name: "id", Type: TypeInt64},
	{Name: "user_id", Type: TypeString},
	{Name: "user_name", Type: TypeString},
	{Name: "email", Type: TypeString},
	{Name: "group_name", Type: TypeString},
	{Name: "group_breadcrumb_level_1", Type: TypeString},
	{Name: "group_breadcrumb_level_2", Type: TypeString},
	{Name: "group_breadcrumb_level_3", Type: TypeString},
	{Name: "group_breadcrumb_level_4", Type: TypeString},
	{Name: "date", Type: TypeDate},
	{Name: "start_time", Type: TypeString},
	{Name: "end_time", Type: TypeString},
	{Name: "duration", Type: TypeInt64},
	{Name: "task_id", Type: TypeString, Nullable: true},
	{Name: "task_note", Type: TypeString, Nullable: true},
	{Name: "name", Type: TypeString, Nullable: true},
	{Name: "project_id", Type: TypeInt64, Nullable: true},
	{Name: "project_name", Type: TypeString, Nullable: true},
	{Name: "billable", Type: TypeBool, Nullable: true},
	{Name: "total_cost", Type: TypeFloat64, Nullable: true},
	{Name: "total_income", Type: TypeFloat64, Nullable: true},
	{Name: "rate_income", Type: TypeFloat64, Nullable: true},
	{Name: "tags", Type: TypeJSON},
	{Name: "last_modify", Type: TypeString},
	{Name: "locked", Type: TypeString},
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// RecordKeys lists the JSON keys a TimeRecord can produce, derived from
// its struct tags.
func RecordKeys() []string {
	t := reflect.TypeOf(TimeRecord{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		keys = append(keys, name)
	}
	return keys
}

// Values returns the record's column values in Columns order. Absent
// optionals are nil pointers.
func (r *TimeRecord) Values() []any {
	r.Normalize()
	return []any{
		r.ID, r.UserID, r.UserName, r.Email,
		r.GroupName, r.GroupBreadcrumbLvl1, r.GroupBreadcrumbLvl2, r.GroupBreadcrumbLvl3, r.GroupBreadcrumbLvl4,
		r.Date, r.StartTime, r.EndTime, r.Duration,
		r.TaskID, r.TaskNote, r.Name, r.ProjectID, r.ProjectName,
		r.Billable, r.TotalCost, r.TotalIncome, r.RateIncome,
		r.Tags, r.LastModify, r.Locked,
	}
}
