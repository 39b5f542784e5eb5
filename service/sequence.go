package service

import (
	"fmt"
	"time"
)

// SequenceDay formats a date as the per-day counter key.
func SequenceDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// FormatNumber builds a document number such as PROP-20260131-0001 from an
// allocated sequence value. Numbers are zero-padded and immutable once
// assigned.
func FormatNumber(prefix string, day time.Time, value int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), value)
}
