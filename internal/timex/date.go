package timex

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
)

// inputLayouts are tried in order. Day-first wins over month-first when
// both would parse.
var inputLayouts = []string{
	common.DateLayout,
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"01-02-2006",
}

// ParseDate turns user input into a calendar date at midnight UTC.
// "today" and "yesterday" are resolved against now.
func ParseDate(s string, now time.Time) (time.Time, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	today := Truncate(now)

	switch v {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}

	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unrecognized date %q", common.ErrInvalidRange, s)
}

// Truncate drops the clock part of t, keeping its calendar date in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(common.DateLayout)
}

// ISOWeekKey returns the ISO year and week of a YYYY-MM-DD date.
func ISOWeekKey(date string) (year, week int, err error) {
	t, err := time.Parse(common.DateLayout, date)
	if err != nil {
		return 0, 0, err
	}
	year, week = t.ISOWeek()
	return year, week, nil
}
