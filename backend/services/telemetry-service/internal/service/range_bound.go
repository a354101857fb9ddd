package service

import (
	"errors"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// ErrMissingBound is returned for an empty range start.
var ErrMissingBound = errors.New("missing range bound")

// ParseRangeBound reads one end of a time range. It accepts RFC 3339 timestamps and plain
// dates. A plain end date covers the whole day and an empty end means now.
func ParseRangeBound(raw string, end bool, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if end {
			return now.UTC(), nil
		}
		return time.Time{}, ErrMissingBound
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.ParseInLocation(dayLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		return day.Add(24*time.Hour - time.Second), nil
	}
	return day, nil
}
