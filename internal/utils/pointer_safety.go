package utils

import "time"

func Ptr[T any](v T) *T {
	return &v
}

// NonEmpty returns nil for "" so optional string fields stay absent.
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NonZeroTime returns nil for the zero time, otherwise a UTC copy.
func NonZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
