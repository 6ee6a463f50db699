package pivots

import (
	"time"

	"pivotscope/internal/models"
)

// LiveState is the tracker's state for the current bucket.
type LiveState string

const (
	// StateNoData means the current bucket has no candles yet.
	StateNoData LiveState = "NO_DATA"
	// StateBothFormed means a provisional P1 and P2 exist. Any non-empty
	// bucket has both a high and a low, so there is no single-extreme state.
	StateBothFormed LiveState = "BOTH_FORMED"
)

// LivePivots is the provisional P1/P2 of the in-progress bucket. Slot and
// time fields are nil in StateNoData.
type LivePivots struct {
	State   LiveState  `json:"state"`
	Bucket  BucketKey  `json:"bucket"`
	Candles int        `json:"candles"`
	P1Slot  *int       `json:"p1_slot"`
	P2Slot  *int       `json:"p2_slot"`
	P1Time  *time.Time `json:"p1_time"`
	P2Time  *time.Time `json:"p2_time"`
	P1Kind  Kind       `json:"p1_kind,omitempty"`
	P2Kind  Kind       `json:"p2_kind,omitempty"`
	P1Price float64    `json:"p1_price,omitempty"`
	P2Price float64    `json:"p2_price,omitempty"`
}

// Formed reports whether both provisional pivots exist.
func (l LivePivots) Formed() bool {
	return l.State == StateBothFormed && l.P1Slot != nil && l.P2Slot != nil
}

// Track locates the provisional pivots of the bucket containing now, using
// only candles opened at or before now. It is recomputed from scratch on
// every call: a later extreme may replace P2 or swap which side is P1.
//
// For week and month buckets the weekday filter applies exactly as it does
// to the table, so excluded days never set the bucket's high or low. Day and
// shorter buckets always show the bucket in progress.
func Track(series Series, tf Timeframe, weekdays WeekdaySet, now time.Time) LivePivots {
	start := tf.Bucket.Truncate(now)
	partial := series.Between(start, now.Add(time.Nanosecond)).candles
	if spansDays(tf.Bucket) && weekdays != 0 && weekdays != AllWeekdays {
		kept := make([]models.Candle, 0, len(partial))
		for _, c := range partial {
			if weekdays.Contains(c.Timestamp) {
				kept = append(kept, c)
			}
		}
		partial = kept
	}
	live := LivePivots{State: StateNoData, Bucket: BucketKey(start.Unix())}
	if len(partial) == 0 {
		return live
	}

	pair, ok := Locate(partial, tf.Slot)
	if !ok {
		return live
	}

	p1Slot, p2Slot := pair.P1Slot, pair.P2Slot
	p1Time, p2Time := pair.P1Time, pair.P2Time
	live.State = StateBothFormed
	live.Candles = len(partial)
	live.P1Slot, live.P2Slot = &p1Slot, &p2Slot
	live.P1Time, live.P2Time = &p1Time, &p2Time
	live.P1Kind, live.P2Kind = pair.P1Kind, pair.P2Kind
	live.P1Price, live.P2Price = pair.P1Price, pair.P2Price
	return live
}

// IsP1 reports whether slot is the live P1 slot.
func (l LivePivots) IsP1(slot int) bool {
	return l.P1Slot != nil && *l.P1Slot == slot
}

// IsP2 reports whether slot is the live P2 slot.
func (l LivePivots) IsP2(slot int) bool {
	return l.P2Slot != nil && *l.P2Slot == slot
}

// SameSlots reports whether two snapshots mark the same P1/P2 slots.
func (l LivePivots) SameSlots(o LivePivots) bool {
	eq := func(a, b *int) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return *a == *b
	}
	return l.Bucket == o.Bucket && eq(l.P1Slot, o.P1Slot) && eq(l.P2Slot, o.P2Slot)
}

// spansDays reports whether buckets of g cover more than one weekday.
func spansDays(g BucketGranularity) bool {
	return g == BucketWeek || g == BucketMonth
}
