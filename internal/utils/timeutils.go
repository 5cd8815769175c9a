package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// Window returns [end-lookback, end]; a non-positive lookback defaults to five minutes.
func Window(end time.Time, lookback time.Duration) (time.Time, time.Time) {
	if lookback <= 0 {
		lookback = 5 * time.Minute
	}
	return end.Add(-lookback), end
}
