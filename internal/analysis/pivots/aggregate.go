package pivots

import (
	"math"
	"time"
)

// Row is one slot of a frequency table.
type Row struct {
	Slot       int     `json:"slot"`
	Label      string  `json:"label"`
	P1Count    int     `json:"p1_count"`
	P1Pct      float64 `json:"p1_pct"`
	P1LastSeen *int    `json:"p1_last_seen_days_ago"`
	P2Count    int     `json:"p2_count"`
	P2Pct      float64 `json:"p2_pct"`
	P2LastSeen *int    `json:"p2_last_seen_days_ago"`
}

// Table is the P1/P2 distribution over every slot of a timeframe.
//
// CompletedBuckets counts buckets other than the one containing EvaluatedAt.
// Denominator is the bucket count the percentages are taken over: it equals
// CompletedBuckets unless no bucket has completed, in which case every bucket
// is counted and UsedFallback is set.
type Table struct {
	Timeframe        string    `json:"timeframe"`
	Rows             []Row     `json:"rows"`
	CompletedBuckets int       `json:"completed_buckets"`
	TotalBuckets     int       `json:"total_buckets"`
	Denominator      int       `json:"denominator"`
	UsedFallback     bool      `json:"used_fallback"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// EmptyTable returns a zero table covering the full slot domain of tf.
func EmptyTable(tf Timeframe, now time.Time) Table {
	domain := tf.Slot.Domain()
	rows := make([]Row, len(domain))
	for i, slot := range domain {
		rows[i] = Row{Slot: slot, Label: tf.Slot.Label(slot)}
	}
	return Table{
		Timeframe:   tf.Name,
		Rows:        rows,
		EvaluatedAt: now.UTC(),
	}
}

// Aggregate tallies pivot pairs into a frequency table.
//
// Counts and percentages cover completed buckets only, falling back to all
// buckets when none has completed. Recency covers every bucket including the
// current one and is measured in whole UTC days from now to the pivot's date.
func Aggregate(pairs []PivotPair, tf Timeframe, now time.Time) Table {
	table := EmptyTable(tf, now)
	if len(pairs) == 0 {
		return table
	}

	current := KeyOf(tf.Bucket, now)
	eligible := make([]PivotPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Bucket != current {
			eligible = append(eligible, p)
		}
	}
	table.TotalBuckets = len(pairs)
	table.CompletedBuckets = len(eligible)
	if len(eligible) == 0 {
		eligible = pairs
		table.UsedFallback = true
	}
	table.Denominator = len(eligible)

	pos := make(map[int]int, len(table.Rows))
	for i, r := range table.Rows {
		pos[r.Slot] = i
	}

	for _, p := range eligible {
		if i, ok := pos[p.P1Slot]; ok {
			table.Rows[i].P1Count++
		}
		if i, ok := pos[p.P2Slot]; ok {
			table.Rows[i].P2Count++
		}
	}

	for i := range table.Rows {
		table.Rows[i].P1Pct = Percent(table.Rows[i].P1Count, table.Denominator)
		table.Rows[i].P2Pct = Percent(table.Rows[i].P2Count, table.Denominator)
	}

	today := BucketDay.Truncate(now)
	p1Last := make(map[int]time.Time)
	p2Last := make(map[int]time.Time)
	for _, p := range pairs {
		if t, ok := p1Last[p.P1Slot]; !ok || p.P1Time.After(t) {
			p1Last[p.P1Slot] = p.P1Time
		}
		if t, ok := p2Last[p.P2Slot]; !ok || p.P2Time.After(t) {
			p2Last[p.P2Slot] = p.P2Time
		}
	}
	for i := range table.Rows {
		slot := table.Rows[i].Slot
		if t, ok := p1Last[slot]; ok {
			table.Rows[i].P1LastSeen = daysBetween(today, t)
		}
		if t, ok := p2Last[slot]; ok {
			table.Rows[i].P2LastSeen = daysBetween(today, t)
		}
	}

	return table
}

// Percent returns 100*count/denom rounded to one decimal, or 0 when denom is 0.
func Percent(count, denom int) float64 {
	if denom <= 0 {
		return 0
	}
	return Round1(100 * float64(count) / float64(denom))
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func daysBetween(today, t time.Time) *int {
	d := int(today.Sub(BucketDay.Truncate(t)).Hours() / 24)
	return &d
}

// Row returns the row for slot, or false when slot is outside the domain.
func (t Table) Row(slot int) (Row, bool) {
	for _, r := range t.Rows {
		if r.Slot == slot {
			return r, true
		}
	}
	return Row{}, false
}

// Counts returns the summed P1 and P2 counts.
func (t Table) Counts() (p1, p2 int) {
	for _, r := range t.Rows {
		p1 += r.P1Count
		p2 += r.P2Count
	}
	return p1, p2
}

// MaxP1Pct returns the largest P1 percentage of the table.
func (t Table) MaxP1Pct() float64 {
	var m float64
	for _, r := range t.Rows {
		m = math.Max(m, r.P1Pct)
	}
	return m
}

// MaxP2Pct returns the largest P2 percentage of the table.
func (t Table) MaxP2Pct() float64 {
	var m float64
	for _, r := range t.Rows {
		m = math.Max(m, r.P2Pct)
	}
	return m
}

// Intensity maps a percentage to a 0..1 heatmap weight relative to peak. A
// non-positive peak is treated as 1.
func Intensity(pct, peak float64) float64 {
	if peak <= 0 {
		peak = 1
	}
	v := pct / peak
	if v < 0 {
		return 0
	}
	return v
}
