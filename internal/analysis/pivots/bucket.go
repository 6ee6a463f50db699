package pivots

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
)

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WeekdayIndex returns the UTC weekday of t with Monday=0 .. Sunday=6.
func WeekdayIndex(t time.Time) int {
	return (int(t.UTC().Weekday()) + 6) % 7
}

// WeekdayName returns the English name of a Monday=0 weekday index.
func WeekdayName(idx int) string {
	if idx < 0 || idx > 6 {
		return ""
	}
	return weekdayNames[idx]
}

// WeekdaySet is a set of Monday=0 weekday indexes.
type WeekdaySet uint8

// AllWeekdays contains every day of the week.
const AllWeekdays WeekdaySet = 0x7f

// NewWeekdaySet builds a set from weekday indexes.
func NewWeekdaySet(days ...int) (WeekdaySet, error) {
	var s WeekdaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			return 0, errors.Wrapf(errors.ErrInvalidWeekday, "%d", d)
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

// ParseWeekdays parses a comma separated list of weekday names, prefixes or
// indexes ("mon,tue", "0,1", "weekdays", "all"). An empty string means all.
func ParseWeekdays(s string) (WeekdaySet, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "all", "*":
		return AllWeekdays, nil
	case "weekdays":
		return NewWeekdaySet(0, 1, 2, 3, 4)
	case "weekend", "weekends":
		return NewWeekdaySet(5, 6)
	}

	var set WeekdaySet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx, err := parseWeekday(part)
		if err != nil {
			return 0, err
		}
		set |= 1 << uint(idx)
	}
	if set == 0 {
		return 0, errors.Wrapf(errors.ErrInvalidWeekday, "%q selects no days", s)
	}
	return set, nil
}

func parseWeekday(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, errors.Wrapf(errors.ErrInvalidWeekday, "%d", n)
		}
		return n, nil
	}
	if len(s) >= 2 {
		for i, name := range weekdayNames {
			if strings.HasPrefix(strings.ToLower(name), s) {
				return i, nil
			}
		}
	}
	return 0, errors.Wrapf(errors.ErrInvalidWeekday, "%q", s)
}

// Has reports whether the weekday index is in the set.
func (s WeekdaySet) Has(idx int) bool {
	if idx < 0 || idx > 6 {
		return false
	}
	return s&(1<<uint(idx)) != 0
}

// Contains reports whether t falls on a weekday in the set.
func (s WeekdaySet) Contains(t time.Time) bool {
	return s.Has(WeekdayIndex(t))
}

// Days returns the member indexes in ascending order.
func (s WeekdaySet) Days() []int {
	var out []int
	for i := 0; i < 7; i++ {
		if s.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// IsAll reports whether every weekday is selected. The zero set is treated
// as all.
func (s WeekdaySet) IsAll() bool {
	return s&AllWeekdays == AllWeekdays || s == 0
}

// String returns the canonical form used in cache keys, e.g. "0,1,2".
func (s WeekdaySet) String() string {
	if s == 0 {
		s = AllWeekdays
	}
	days := s.Days()
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// Names returns short names for display, e.g. "Mon, Tue".
func (s WeekdaySet) Names() string {
	if s.IsAll() {
		return "All days"
	}
	days := s.Days()
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = weekdayNames[d][:3]
	}
	return strings.Join(parts, ", ")
}

// Bucket is one calendar period's candles.
type Bucket struct {
	Key     BucketKey
	Candles []models.Candle
}

// Bucketize groups the series into buckets of g. Candles whose weekday is not
// in weekdays are dropped before grouping, so they never contribute to any
// bucket's high or low. Buckets are returned in ascending key order.
func Bucketize(series Series, g BucketGranularity, weekdays WeekdaySet) []Bucket {
	if weekdays == 0 {
		weekdays = AllWeekdays
	}

	index := make(map[BucketKey]int)
	var buckets []Bucket
	for _, c := range series.candles {
		if !weekdays.Contains(c.Timestamp) {
			continue
		}
		key := KeyOf(g, c.Timestamp)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Key: key})
		}
		buckets[i].Candles = append(buckets[i].Candles, c)
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Key < buckets[j].Key
	})
	return buckets
}
