// Package match implements the fuzzy title matching and date window policy
// used to decide when a watched event's booking has opened.
package match

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DateFormat is the external-facing calendar date layout (dd-mm-yyyy), the
// format subscribers type and the booking service displays.
const DateFormat = "02-01-2006"

// Threshold is the minimum similarity score at which a listed title is
// treated as the same show as a watched movie name. Tunable constant, not
// derived.
const Threshold = 0.75

// HorizonDays is the booking horizon: enrollment is only accepted for dates
// at most this many days out.
const HorizonDays = 14

// Similarity returns a case-insensitive normalized edit-distance score in
// [0,1]: 1 - levenshtein(lower(a), lower(b)) / max(len(a), len(b)). Two empty
// strings score 1. The booking service's title strings rarely match the
// resolved name byte for byte (subtitles, language tags, punctuation), so
// this is the sole title comparison mechanism.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}

	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// SameShow reports whether a title returned by the booking service is close
// enough to the watched movie name to count as the same show.
func SameShow(watched, listed string) bool {
	return Similarity(watched, listed) >= Threshold
}

// ParseDate strictly parses a dd-mm-yyyy date string. No lenient or partial
// parsing; "2024-13-01" and "1-2-2024" both fail.
func ParseDate(s string) (time.Time, error) {
	date, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return date, nil
}

// DateCode converts a parsed date to the yyyymmdd code the showtimes
// endpoint expects.
func DateCode(date time.Time) string {
	return date.Format("20060102")
}

// WithinHorizon reports whether date falls on or after now's calendar day
// and no more than HorizonDays days after it.
func WithinHorizon(date, now time.Time) bool {
	today := day(now)
	if date.Before(today) {
		return false
	}
	return !date.After(today.AddDate(0, 0, HorizonDays))
}

// IsPast reports whether date is strictly before now's calendar day.
func IsPast(date, now time.Time) bool {
	return date.Before(day(now))
}

// day truncates a timestamp to its calendar day in UTC, matching the zone
// ParseDate produces so date comparisons stay consistent.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
