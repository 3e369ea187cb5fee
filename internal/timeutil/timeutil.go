package timeutil

import (
	"fmt"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

// Window is a half-open [From, To) interval.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies in the window. A zero bound is open.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

func StartOfDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, value.Location())
}

func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// Windows splits [from, to) into consecutive windows of at most size.
func Windows(from, to time.Time, size time.Duration) []Window {
	if size <= 0 || !to.After(from) {
		return nil
	}
	out := make([]Window, 0, int(to.Sub(from)/size)+1)
	for cursor := from; cursor.Before(to); cursor = cursor.Add(size) {
		end := cursor.Add(size)
		if end.After(to) {
			end = to
		}
		out = append(out, Window{From: cursor, To: end})
	}
	return out
}

// ParseDayRange parses inclusive YYYY-MM-DD bounds into a half-open range.
// Empty values fall back to daysBack days before now and to the end of today.
func ParseDayRange(fromValue, toValue string, daysBack int, now time.Time) (Window, error) {
	to := StartOfDay(now).AddDate(0, 0, 1)
	if strings.TrimSpace(toValue) != "" {
		day, err := time.ParseInLocation(DayLayout, strings.TrimSpace(toValue), now.Location())
		if err != nil {
			return Window{}, fmt.Errorf("invalid --to value %q (expected YYYY-MM-DD)", toValue)
		}
		to = StartOfDay(day).AddDate(0, 0, 1)
	}

	if daysBack <= 0 {
		daysBack = 30
	}
	from := StartOfDay(to.AddDate(0, 0, -daysBack))
	if strings.TrimSpace(fromValue) != "" {
		day, err := time.ParseInLocation(DayLayout, strings.TrimSpace(fromValue), now.Location())
		if err != nil {
			return Window{}, fmt.Errorf("invalid --from value %q (expected YYYY-MM-DD)", fromValue)
		}
		from = StartOfDay(day)
	}

	if !from.Before(to) {
		return Window{}, fmt.Errorf("invalid range: --from must be <= --to")
	}
	return Window{From: from, To: to}, nil
}
