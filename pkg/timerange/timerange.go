package timerange

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HourLayout is the display format of an hour. It names both the archive
// in the API path and the file it is stored in.
const HourLayout = "2006-01-02-15"

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// Range is a half-open [Start, End) interval at hour granularity.
type Range struct {
	Start time.Time
	End   time.Time
}

// New returns the range between start and end with both bounds
// truncated to the hour.
func New(start, end time.Time) Range {
	return Range{Start: TruncateHour(start), End: TruncateHour(end)}
}

// Empty reports whether the range covers no hour at all.
func (r Range) Empty() bool {
	return !r.Start.Before(r.End)
}

// Count returns the number of hours in the range, or zero when the
// range is empty or inverted.
func (r Range) Count() int {
	if r.Empty() {
		return 0
	}
	return int(r.End.Sub(r.Start) / time.Hour)
}

// Hours expands the range into its ordered hour instants.
func (r Range) Hours() []time.Time {
	hours := make([]time.Time, 0, r.Count())
	for h := r.Start; h.Before(r.End); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	return hours
}

func (r Range) String() string {
	return Format(r.Start) + " -> " + Format(r.End)
}

// TruncateHour drops minutes and below using the calendar of t's own
// location.
func TruncateHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Format renders an hour as YYYY-MM-DD-HH.
func Format(hour time.Time) string {
	return hour.Format(HourLayout)
}

// ParseDate parses a calendar date (expanded to midnight) or a date with a
// time of day (truncated to the hour). Values are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return TruncateHour(t), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid date %q: expected YYYY-MM-DD", s)
}
