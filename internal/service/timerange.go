package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"thermowatch/internal/models"
)

// ErrInvalidDate is returned when a non-empty range boundary cannot be parsed.
var ErrInvalidDate = errors.New("invalid date")

var boundaryLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseBoundary parses a picker value. Values without an offset are read in
// loc. An empty value yields the zero time and ok=false.
func ParseBoundary(s string, loc *time.Location) (t time.Time, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}
	if loc == nil {
		loc = time.Local
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true, nil
	}
	for _, layout := range boundaryLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// DayBounds widens start and end to whole days in loc: start becomes
// 00:00:00.000 of its day and end becomes 23:59:59.999 of its day.
func DayBounds(start, end time.Time, loc *time.Location) (from, to time.Time) {
	if loc == nil {
		loc = time.Local
	}
	s := start.In(loc)
	e := end.In(loc)
	from = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	to = time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	return from, to
}

// FilterByDay keeps readings with from <= CreatedAt <= to, preserving order.
func FilterByDay(readings []models.Reading, from, to time.Time) []models.Reading {
	out := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if r.CreatedAt.Before(from) || r.CreatedAt.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseRange converts a stored range into query instants. ok is false when
// either side is empty.
func parseRange(r models.TimeRange, loc *time.Location) (from, to time.Time, ok bool, err error) {
	from, fromSet, err := ParseBoundary(r.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	to, toSet, err := ParseBoundary(r.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !fromSet || !toSet {
		return time.Time{}, time.Time{}, false, nil
	}
	return from, to, true, nil
}
