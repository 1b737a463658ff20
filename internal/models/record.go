// Package models defines the time record as it flows from the source API
// through the interchange stream into the destinations.
package models

// TimeRecord is one tracked time interval, enriched with user and group
// hierarchy metadata. JSON keys double as destination column names.
type TimeRecord struct {
	ID       int64  `json:"id" parquet:"id"`
	UserID   string `json:"user_id" parquet:"user_id"`
	UserName string `json:"user_name" parquet:"user_name"`
	Email    string `json:"email" parquet:"email"`

	GroupName           string `json:"group_name" parquet:"group_name"`
	GroupBreadcrumbLvl1 string `json:"group_breadcrumb_level_1" parquet:"group_breadcrumb_level_1"`
	GroupBreadcrumbLvl2 string `json:"group_breadcrumb_level_2" parquet:"group_breadcrumb_level_2"`
	GroupBreadcrumbLvl3 string `json:"group_breadcrumb_level_3" parquet:"group_breadcrumb_level_3"`
	GroupBreadcrumbLvl4 string `json:"group_breadcrumb_level_4" parquet:"group_breadcrumb_level_4"`

	Date      string `json:"date" parquet:"date"`
	StartTime string `json:"start_time" parquet:"start_time"`
	EndTime   string `json:"end_time" parquet:"end_time"`
	Duration  int64  `json:"duration" parquet:"duration"`

	TaskID      *string `json:"task_id,omitempty" parquet:"task_id"`
	TaskNote    *string `json:"task_note,omitempty" parquet:"task_note"`
	Name        *string `json:"name,omitempty" parquet:"name"`
	ProjectID   *int64  `json:"project_id,omitempty" parquet:"project_id"`
	ProjectName *string `json:"project_name,omitempty" parquet:"project_name"`

	Billable    *bool    `json:"billable,omitempty" parquet:"billable"`
	TotalCost   *float64 `json:"total_cost,omitempty" parquet:"total_cost"`
	TotalIncome *float64 `json:"total_income,omitempty" parquet:"total_income"`
	RateIncome  *float64 `json:"rate_income,omitempty" parquet:"rate_income"`

	Tags []Tag `json:"tags" parquet:"tags,list"`

	LastModify string `json:"last_modify" parquet:"last_modify"`
	Locked     string `json:"locked" parquet:"locked"`
}

// Tag is a label attached to a record. Tags belong to tag lists.
type Tag struct {
	TagID       int64  `json:"tag_id" parquet:"tag_id"`
	Name        string `json:"name" parquet:"name"`
	TagListID   int64  `json:"tag_list_id" parquet:"tag_list_id"`
	TagListName string `json:"tag_list_name" parquet:"tag_list_name"`
}

// Breadcrumbs returns the four hierarchy levels root first.
func (r *TimeRecord) Breadcrumbs() [4]string {
	return [4]string{r.GroupBreadcrumbLvl1, r.GroupBreadcrumbLvl2, r.GroupBreadcrumbLvl3, r.GroupBreadcrumbLvl4}
}

// SetBreadcrumbs stores levels root first.
func (r *TimeRecord) SetBreadcrumbs(levels [4]string) {
	r.GroupBreadcrumbLvl1 = levels[0]
	r.GroupBreadcrumbLvl2 = levels[1]
	r.GroupBreadcrumbLvl3 = levels[2]
	r.GroupBreadcrumbLvl4 = levels[3]
}

// Normalize replaces a nil tag slice with an empty one so the stream
// always carries an array.
func (r *TimeRecord) Normalize() {
	if r.Tags == nil {
		r.Tags = []Tag{}
	}
}
