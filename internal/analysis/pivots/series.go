// Package pivots implements the pivot-frequency engine: it splits a candle
// series into calendar buckets, locates the chronologically first (P1) and
// second (P2) extreme of each bucket, and tallies where in the period they
// form.
//
// Every function here is pure. The evaluation instant is always passed in,
// and inputs are never mutated.
package pivots

import (
	"sort"
	"time"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
)

// Series is an immutable, strictly time-ascending sequence of candles with
// unique timestamps.
type Series struct {
	candles []models.Candle
}

// NewSeries copies, sorts and deduplicates candles. When two candles share a
// timestamp the later one in the input wins.
func NewSeries(candles []models.Candle) Series {
	if len(candles) == 0 {
		return Series{}
	}

	cp := make([]models.Candle, len(candles))
	copy(cp, candles)
	for i := range cp {
		cp[i].Timestamp = cp[i].Timestamp.UTC()
	}
	sort.SliceStable(cp, func(i, j int) bool {
		return cp[i].Timestamp.Before(cp[j].Timestamp)
	})

	out := cp[:0]
	for _, c := range cp {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(c.Timestamp) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return Series{candles: out}
}

// SeriesFrom wraps candles that are already ordered. It fails with
// ErrUnsortedSeries when timestamps are not strictly increasing.
func SeriesFrom(candles []models.Candle) (Series, error) {
	cp := make([]models.Candle, len(candles))
	copy(cp, candles)
	for i := range cp {
		cp[i].Timestamp = cp[i].Timestamp.UTC()
		if i > 0 && !cp[i].Timestamp.After(cp[i-1].Timestamp) {
			return Series{}, errors.Wrapf(errors.ErrUnsortedSeries, "index %d at %s", i, cp[i].Timestamp.Format(time.RFC3339))
		}
	}
	return Series{candles: cp}, nil
}

// Len returns the number of candles.
func (s Series) Len() int { return len(s.candles) }

// Empty reports whether the series has no candles.
func (s Series) Empty() bool { return len(s.candles) == 0 }

// At returns the i-th candle.
func (s Series) At(i int) models.Candle { return s.candles[i] }

// First returns the earliest candle, or false when empty.
func (s Series) First() (models.Candle, bool) {
	if s.Empty() {
		return models.Candle{}, false
	}
	return s.candles[0], true
}

// Last returns the latest candle, or false when empty.
func (s Series) Last() (models.Candle, bool) {
	if s.Empty() {
		return models.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Candles returns a copy of the underlying candles.
func (s Series) Candles() []models.Candle {
	cp := make([]models.Candle, len(s.candles))
	copy(cp, s.candles)
	return cp
}

// Between returns the candles with from <= timestamp < to.
func (s Series) Between(from, to time.Time) Series {
	lo := sort.Search(len(s.candles), func(i int) bool {
		return !s.candles[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(s.candles), func(i int) bool {
		return !s.candles[i].Timestamp.Before(to)
	})
	if lo >= hi {
		return Series{}
	}
	return Series{candles: s.candles[lo:hi:hi]}
}
