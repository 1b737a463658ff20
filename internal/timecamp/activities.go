package timecamp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/timex"
)

const (
	// userBatch bounds the user ids sent with one activity request.
	userBatch = 50
	// applicationBatch bounds the ids sent with one application request.
	applicationBatch = 200
)

// DefaultActivityInclude is what activity requests embed unless told otherwise.
var DefaultActivityInclude = []string{"application", "window_title"}

// ActivityQuery selects computer activities. From and To are inclusive
// calendar dates; each day is requested separately.
type ActivityQuery struct {
	From    time.Time
	To      time.Time
	UserIDs []string
	Include []string
	// SkipApplications leaves application names empty and the category
	// at models.NoCategory instead of looking applications up.
	SkipApplications bool
}

// Validate rejects inverted ranges.
func (q ActivityQuery) Validate() error {
	return Query{From: q.From, To: q.To}.Validate()
}

type apiActivity struct {
	UserID        FlexString  `json:"user_id"`
	ApplicationID FlexString  `json:"application_id"`
	EndTime       string      `json:"end_time"`
	TimeSpan      FlexInt     `json:"time_span"`
	WindowTitleID FlexString  `json:"window_title_id"`
	WindowTitle   windowTitle `json:"window_title"`
}

// windowTitle is a plain string, or an object when the request includes
// window_title.
type windowTitle string

func (w *windowTitle) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		var s FlexString
		if err := s.UnmarshalJSON(b); err != nil {
			return err
		}
		*w = windowTitle(s)
		return nil
	}
	var obj struct {
		Title       string `json:"title"`
		WindowTitle string `json:"window_title"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*w = windowTitle(firstNonEmpty(obj.WindowTitle, obj.Title))
	return nil
}

type apiApplication struct {
	ApplicationID  FlexString `json:"application_id"`
	AppName        string     `json:"app_name"`
	FullName       string     `json:"full_name"`
	AdditionalInfo string     `json:"aditional_info"`
	CategoryID     FlexString `json:"category_id"`
}

// name prefers the full name, then the additional info, then the raw name.
func (a apiApplication) name() string {
	return firstNonEmpty(a.FullName, a.AdditionalInfo, a.AppName)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// FetchActivities streams computer activities day by day, enriched with
// user hierarchy and application details. Without UserIDs every user of
// the account is included. Iteration stops at the first error.
func (f *Fetcher) FetchActivities(ctx context.Context, q ActivityQuery) iter.Seq2[models.Activity, error] {
	return func(yield func(models.Activity, error) bool) {
		if err := q.Validate(); err != nil {
			yield(models.Activity{}, err)
			return
		}

		log := f.client.log.With("from", timex.FormatDate(q.From), "to", timex.FormatDate(q.To))

		users := q.UserIDs
		if len(users) == 0 {
			all, err := f.listUsers(ctx)
			if err != nil {
				yield(models.Activity{}, err)
				return
			}
			users = all
			log.Info(ctx, "no user filter, fetching activities for all users", "users", len(users))
		}
		if len(users) == 0 {
			return
		}

		include := q.Include
		if len(include) == 0 {
			include = DefaultActivityInclude
		}

		cache := NewHierarchyCache(f.client)
		apps := make(map[string]apiApplication)
		total := 0

		for day := timex.Truncate(q.From); !day.After(timex.Truncate(q.To)); day = day.AddDate(0, 0, 1) {
			for _, batch := range chunk(users, userBatch) {
				var acts []apiActivity
				params := url.Values{}
				params.Set("dates[]", timex.FormatDate(day))
				params.Set("user_ids", strings.Join(batch, ","))
				params.Set("include", strings.Join(include, ","))
				if _, err := f.client.getJSON(ctx, "activity", params, &acts); err != nil {
					yield(models.Activity{}, err)
					return
				}
				log.Debug(ctx, "fetched activities", "date", timex.FormatDate(day), "users", len(batch), "activities", len(acts))

				if !q.SkipApplications {
					if err := f.loadApplications(ctx, acts, apps); err != nil {
						yield(models.Activity{}, err)
						return
					}
				}

				for _, a := range acts {
					h, err := cache.Resolve(ctx, string(a.UserID))
					if err != nil {
						yield(models.Activity{}, err)
						return
					}
					total++
					if !yield(activity(a, h, apps), nil) {
						return
					}
				}
			}
		}

		log.Info(ctx, "activity fetch complete", "activities", total, "applications", len(apps))
	}
}

func activity(a apiActivity, h UserHierarchy, apps map[string]apiApplication) models.Activity {
	out := models.Activity{
		UserID:        string(a.UserID),
		ApplicationID: string(a.ApplicationID),
		StartTime:     models.ActivityStart(a.EndTime, int64(a.TimeSpan)),
		EndTime:       a.EndTime,
		TimeSpan:      int64(a.TimeSpan),
		WindowTitleID: string(a.WindowTitleID),
		WindowTitle:   string(a.WindowTitle),
		UserGroupName: h.GroupName,
		UserEmail:     h.Email,
		UserName:      h.DisplayName,
		CategoryName:  models.NoCategory,
	}
	if app, ok := apps[out.ApplicationID]; ok {
		out.ApplicationName = app.name()
		out.CategoryName = models.CategoryName(string(app.CategoryID))
	}
	return out
}

// listUsers returns the ids of every user visible to the token.
func (f *Fetcher) listUsers(ctx context.Context) ([]string, error) {
	var list []apiUser
	if _, err := f.client.getJSON(ctx, "users", nil, &list); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids := make([]string, 0, len(list))
	for _, u := range list {
		id := strings.TrimPrefix(strings.TrimSpace(string(u.UserID)), "u")
		if id == "" || id == "0" {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// loadApplications looks up the applications of acts not yet in apps.
func (f *Fetcher) loadApplications(ctx context.Context, acts []apiActivity, apps map[string]apiApplication) error {
	seen := make(map[string]bool)
	var missing []string
	for _, a := range acts {
		id := string(a.ApplicationID)
		if id == "" || id == "0" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := apps[id]; !ok {
			missing = append(missing, id)
		}
	}

	for _, batch := range chunk(missing, applicationBatch) {
		params := url.Values{}
		params.Set("application_ids", strings.Join(batch, ","))

		var raw json.RawMessage
		if _, err := f.client.getJSON(ctx, "application", params, &raw); err != nil {
			return fmt.Errorf("load applications: %w", err)
		}
		found, err := decodeApplications(raw)
		if err != nil {
			return err
		}
		for id, app := range found {
			apps[id] = app
		}
		// Unknown ids are remembered so they are not asked for again.
		for _, id := range batch {
			if _, ok := apps[id]; !ok {
				apps[id] = apiApplication{ApplicationID: FlexString(id)}
			}
		}
	}
	return nil
}

// decodeApplications accepts either an object keyed by application id or
// a list of applications.
func decodeApplications(raw json.RawMessage) (map[string]apiApplication, error) {
	out := make(map[string]apiApplication)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}

	if raw[0] == '[' {
		var list []apiApplication
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: decode applications: %w", common.ErrSchemaMismatch, err)
		}
		for _, a := range list {
			out[string(a.ApplicationID)] = a
		}
		return out, nil
	}

	var byID map[string]apiApplication
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("%w: decode applications: %w", common.ErrSchemaMismatch, err)
	}
	for id, a := range byID {
		if a.ApplicationID == "" {
			a.ApplicationID = FlexString(id)
		}
		out[string(a.ApplicationID)] = a
	}
	return out, nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
