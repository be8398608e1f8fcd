package shared

import (
	"strings"
	"time"
)

// DayLayout is the calendar-day form accepted next to RFC3339.
const DayLayout = "2006-01-02"

// ParseDate reads an RFC3339 instant or a calendar day. Empty input is the
// zero time.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return time.Time{}, nil
	case len(value) == len(DayLayout):
		return time.Parse(DayLayout, value)
	default:
		return time.Parse(time.RFC3339, value)
	}
}

// ParseRangeEnd reads the inclusive end of a range. A bare day runs through
// its last nanosecond; an instant is taken as is.
func ParseRangeEnd(value string) (time.Time, error) {
	end, err := ParseDate(value)
	if err != nil || end.IsZero() || len(strings.TrimSpace(value)) != len(DayLayout) {
		return end, err
	}
	return end.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}
