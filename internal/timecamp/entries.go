package timecamp

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/metrics"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/timex"
)

// DefaultPageSize is used when Query.PageSize is unset.
const DefaultPageSize = 500

// Query selects the records to fetch. From and To are inclusive calendar dates.
type Query struct {
	From           time.Time
	To             time.Time
	UserIDs        []string
	IncludeProject bool
	IncludeRates   bool
	PageSize       int
}

// Validate rejects inverted ranges.
func (q Query) Validate() error {
	from, to := timex.Truncate(q.From), timex.Truncate(q.To)
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: both from and to are required", common.ErrInvalidRange)
	}
	if from.After(to) {
		return fmt.Errorf("%w: from %s is after to %s", common.ErrInvalidRange, timex.FormatDate(from), timex.FormatDate(to))
	}
	return nil
}

func (q Query) params(page, limit int) url.Values {
	v := url.Values{}
	v.Set("from", timex.FormatDate(q.From))
	v.Set("to", timex.FormatDate(q.To))
	v.Set("format", "json")
	v.Set("include_project", boolParam(q.IncludeProject))
	v.Set("include_rates", boolParam(q.IncludeRates))
	v.Set("opt_fields", common.OptFields)
	if len(q.UserIDs) > 0 {
		v.Set("user_ids", strings.Join(q.UserIDs, ","))
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	return v
}

// apiTag accepts both the snake_case and camelCase spellings the API uses.
type apiTag struct {
	TagID          FlexInt `json:"tag_id"`
	TagIDAlt       FlexInt `json:"tagId"`
	Name           string  `json:"name"`
	TagListID      FlexInt `json:"tag_list_id"`
	TagListIDAlt   FlexInt `json:"tagListId"`
	TagListName    string  `json:"tag_list_name"`
	TagListNameAlt string  `json:"tagListName"`
}

func (t apiTag) tag() models.Tag {
	out := models.Tag{
		TagID:       int64(t.TagID),
		Name:        t.Name,
		TagListID:   int64(t.TagListID),
		TagListName: t.TagListName,
	}
	if out.TagID == 0 {
		out.TagID = int64(t.TagIDAlt)
	}
	if out.TagListID == 0 {
		out.TagListID = int64(t.TagListIDAlt)
	}
	if out.TagListName == "" {
		out.TagListName = t.TagListNameAlt
	}
	return out
}

// apiEntry is an entry as the source sends it.
type apiEntry struct {
	ID          FlexInt     `json:"id"`
	Duration    FlexInt     `json:"duration"`
	UserID      FlexString  `json:"user_id"`
	UserName    string      `json:"user_name"`
	TaskID      *FlexString `json:"task_id"`
	LastModify  string      `json:"last_modify"`
	Date        string      `json:"date"`
	StartTime   string      `json:"start_time"`
	EndTime     string      `json:"end_time"`
	Locked      FlexString  `json:"locked"`
	Name        *string     `json:"name"`
	Description *string     `json:"description"`
	Billable    *FlexBool   `json:"billable"`
	ProjectID   *FlexInt    `json:"project_id"`
	ProjectName *string     `json:"project_name"`
	TotalCost   *FlexFloat  `json:"total_cost"`
	TotalIncome *FlexFloat  `json:"total_income"`
	RateIncome  *FlexFloat  `json:"rate_income"`
	Tags        []apiTag    `json:"tags"`
}

func (e apiEntry) record(h UserHierarchy) models.TimeRecord {
	r := models.TimeRecord{
		ID:         int64(e.ID),
		UserID:     string(e.UserID),
		UserName:   e.UserName,
		Email:      h.Email,
		GroupName:  h.GroupName,
		Date:       e.Date,
		StartTime:  e.StartTime,
		EndTime:    e.EndTime,
		Duration:   int64(e.Duration),
		TaskNote:   e.Description,
		Name:       e.Name,
		LastModify: e.LastModify,
		Locked:     string(e.Locked),
		Tags:       make([]models.Tag, 0, len(e.Tags)),
	}
	r.SetBreadcrumbs(h.Breadcrumb)

	// "0" is how the source says "no task".
	if e.TaskID != nil && *e.TaskID != "" && *e.TaskID != "0" {
		s := string(*e.TaskID)
		r.TaskID = &s
	}
	if e.ProjectID != nil && *e.ProjectID != 0 {
		v := int64(*e.ProjectID)
		r.ProjectID = &v
	}
	r.ProjectName = e.ProjectName
	if e.Billable != nil {
		v := bool(*e.Billable)
		r.Billable = &v
	}
	r.TotalCost = floatPtr(e.TotalCost)
	r.TotalIncome = floatPtr(e.TotalIncome)
	r.RateIncome = floatPtr(e.RateIncome)

	for _, t := range e.Tags {
		r.Tags = append(r.Tags, t.tag())
	}
	return r
}

func floatPtr(f *FlexFloat) *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

// Fetcher yields enriched time records.
type Fetcher struct {
	client *Client
}

// NewFetcher wraps c.
func NewFetcher(c *Client) *Fetcher {
	return &Fetcher{client: c}
}

// Fetch streams every record in q's range in source pagination order.
// Iteration stops at the first error, which is yielded once. The hierarchy
// cache is private to this call.
func (f *Fetcher) Fetch(ctx context.Context, q Query) iter.Seq2[models.TimeRecord, error] {
	return func(yield func(models.TimeRecord, error) bool) {
		if err := q.Validate(); err != nil {
			yield(models.TimeRecord{}, err)
			return
		}

		limit := q.PageSize
		if limit <= 0 {
			limit = DefaultPageSize
		}

		log := f.client.log.With("from", timex.FormatDate(q.From), "to", timex.FormatDate(q.To))
		cache := NewHierarchyCache(f.client)
		total := 0
		var firstPage []FlexInt

		for page := 1; ; page++ {
			var entries []apiEntry
			resp, err := f.client.getJSON(ctx, "entries", q.params(page, limit), &entries)
			if err != nil {
				yield(models.TimeRecord{}, err)
				return
			}

			log.Debug(ctx, "fetched page", "page", page, "records", len(entries))

			// A source that ignores paging returns the first page again.
			if page > 1 && samePage(entries, firstPage) {
				log.Warn(ctx, "source repeated the first page, stopping pagination", "page", page)
				break
			}
			if page == 1 {
				firstPage = pageIDs(entries)
			}

			for _, e := range entries {
				h, err := cache.Resolve(ctx, string(e.UserID))
				if err != nil {
					yield(models.TimeRecord{}, err)
					return
				}
				total++
				metrics.RecordFetched(1)
				if !yield(e.record(h), nil) {
					return
				}
			}

			if lastPage(resp, len(entries), limit) {
				break
			}
		}

		log.Info(ctx, "fetch complete", "records", total, "users", cache.Len())
	}
}

func pageIDs(entries []apiEntry) []FlexInt {
	ids := make([]FlexInt, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// samePage reports whether entries carry exactly the ids of first, in order.
func samePage(entries []apiEntry, first []FlexInt) bool {
	if len(entries) == 0 || len(entries) != len(first) {
		return false
	}
	for i, e := range entries {
		if e.ID != first[i] {
			return false
		}
	}
	return true
}

func lastPage(resp *response, n, limit int) bool {
	if resp.status == http.StatusNoContent || n < limit {
		return true
	}
	if v := resp.header.Get("X-Has-More"); v != "" {
		more, err := strconv.ParseBool(v)
		return err == nil && !more
	}
	return false
}
