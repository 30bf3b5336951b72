package schema

import (
	"fmt"
	"time"
)

const stampLayout = "20060102150405"

// ParseStamp parses the yyyymmdd + hhmmss pair embedded in artifact filenames.
// A nil loc means time.Local.
func ParseStamp(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(date) != 8 || len(clock) != 6 {
		return time.Time{}, fmt.Errorf("malformed timestamp %s_%s", date, clock)
	}
	t, err := time.ParseInLocation(stampLayout, date+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %s_%s: %w", date, clock, err)
	}
	return t, nil
}

// StampMs is ParseStamp returning epoch milliseconds.
func StampMs(date, clock string, loc *time.Location) (int64, error) {
	t, err := ParseStamp(date, clock, loc)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
