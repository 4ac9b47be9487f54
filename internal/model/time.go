package model

import (
	"fmt"
	"strconv"
	"time"
)

// timeLayout renders ISO-8601 UTC with millisecond precision. The Z07:00
// suffix collapses to "Z" for UTC values, which is the only zone persisted.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Time is a wall-clock timestamp persisted as ISO-8601 UTC with millisecond
// precision. The zero value is omitted from JSON via the omitzero tag.
type Time struct {
	time.Time
}

// NewTime converts t to the persisted representation (UTC).
func NewTime(t time.Time) Time {
	return Time{t.UTC()}
}

// Now returns the current wall clock as a persisted timestamp.
func Now() Time {
	return NewTime(time.Now())
}

// MarshalJSON renders the timestamp with millisecond precision.
func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.UTC().Format(timeLayout))), nil
}

// UnmarshalJSON accepts any RFC3339 timestamp, preserving sub-millisecond
// precision written by older tools.
func (t *Time) UnmarshalJSON(data []byte) error {
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp not a JSON string: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw, err)
	}

	t.Time = parsed.UTC()

	return nil
}
