// Package dateutil converts between calendar dates and the YYYY-MM-DD
// partition key used for artifact directories and analysis records.
package dateutil

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the partition key format.
const Layout = "2006-01-02"

// Key formats t as a partition key in t's own location.
func Key(t time.Time) string {
	return t.Format(Layout)
}

// Parse validates a partition key and returns midnight UTC of that date.
func Parse(key string) (time.Time, error) {
	key = strings.TrimSpace(key)
	t, err := time.Parse(Layout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", key)
	}
	return t, nil
}

// IsKey reports whether s is a well-formed partition key.
func IsKey(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Today returns the partition key for now in loc.
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return Key(now.In(loc))
}

// Midnight truncates t to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// OlderThan reports whether the partition key is strictly more than days
// calendar days before the day containing now.
func OlderThan(key string, days int, now time.Time, loc *time.Location) (bool, error) {
	d, err := Parse(key)
	if err != nil {
		return false, err
	}
	if loc == nil {
		loc = time.UTC
	}
	today := Midnight(now, loc)
	partition := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	cutoff := today.AddDate(0, 0, -days)
	return partition.Before(cutoff), nil
}
