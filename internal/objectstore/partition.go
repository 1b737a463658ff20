package objectstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/models"
	"github.com/dmitrijs2005/timecampetl/internal/timex"
)

// Week is the set of records sharing one ISO week.
type Week struct {
	Year    int
	Week    int
	Records []models.TimeRecord
}

// Key is the week label used in object names, e.g. 2024_W07.
func (w Week) Key() string {
	return fmt.Sprintf("%d_W%02d", w.Year, w.Week)
}

// ObjectKey builds the deterministic object name for w.
func ObjectKey(prefix string, w Week, ext string) string {
	name := "timecamp_data_" + w.Key() + "." + ext
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Partition keeps records whose date falls in [from, to] and groups them by
// ISO week in chronological order. Records with unparseable dates are
// returned as skipped.
func Partition(recs []models.TimeRecord, from, to time.Time) (weeks []Week, skipped int) {
	from, to = timex.Truncate(from), timex.Truncate(to)
	byKey := map[[2]int]*Week{}

	for _, r := range recs {
		d, err := time.Parse(common.DateLayout, r.Date)
		if err != nil {
			skipped++
			continue
		}
		if d.Before(from) || d.After(to) {
			continue
		}
		y, wk := d.ISOWeek()
		k := [2]int{y, wk}
		w, ok := byKey[k]
		if !ok {
			w = &Week{Year: y, Week: wk}
			byKey[k] = w
		}
		w.Records = append(w.Records, r)
	}

	weeks = make([]Week, 0, len(byKey))
	for _, w := range byKey {
		weeks = append(weeks, *w)
	}
	sort.Slice(weeks, func(i, j int) bool {
		if weeks[i].Year != weeks[j].Year {
			return weeks[i].Year < weeks[j].Year
		}
		return weeks[i].Week < weeks[j].Week
	})
	return weeks, skipped
}
