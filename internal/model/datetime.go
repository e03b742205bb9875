package model

import (
	"fmt"
	"time"
)

// localDateTimeLayout matches ISO-8601 local date-time without an offset.
// Fractional seconds are written only when non-zero.
const localDateTimeLayout = "2006-01-02T15:04:05.999999999"

// FormatLocalDateTime encodes t as an ISO-8601 local date-time in t's own
// location. The zero time encodes as "".
func FormatLocalDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(localDateTimeLayout)
}

// ParseLocalDateTime decodes a value written by [FormatLocalDateTime] in the
// local time zone. Values with or without fractional seconds are accepted,
// as are minute-precision values ("2024-03-01T08:15").
func ParseLocalDateTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(localDateTimeLayout, s, time.Local)
	if err == nil {
		return t, nil
	}
	if t2, err2 := time.ParseInLocation("2006-01-02T15:04", s, time.Local); err2 == nil {
		return t2, nil
	}
	return time.Time{}, fmt.Errorf("parsing local date-time %q: %w", s, err)
}
