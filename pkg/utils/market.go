package utils

import "time"

// Crypto markets trade around the clock, so every calendar helper here works
// in UTC and never skips weekends.

// TimeRange is a half-open [From, To) window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// SplitRange cuts [from, to) into consecutive windows of at most chunk.
func SplitRange(from, to time.Time, chunk time.Duration) []TimeRange {
	if !from.Before(to) {
		return nil
	}
	if chunk <= 0 {
		return []TimeRange{{From: from, To: to}}
	}
	var out []TimeRange
	for start := from; start.Before(to); start = start.Add(chunk) {
		end := start.Add(chunk)
		if end.After(to) {
			end = to
		}
		out = append(out, TimeRange{From: start, To: end})
	}
	return out
}
