package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseRFC3339 returns a UTC time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t.UTC(), nil
}

// OptionalRFC3339 is ParseRFC3339 that treats an empty value as the zero time.
func OptionalRFC3339(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	return ParseRFC3339(value)
}

// FormatRFC3339 renders t in UTC, or "" for the zero time.
func FormatRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
