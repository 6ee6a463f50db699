package pivots

import "time"

// Params selects what to evaluate.
type Params struct {
	Timeframe Timeframe
	Weekdays  WeekdaySet
}

// Result is one evaluation of a series.
type Result struct {
	Table      Table       `json:"table"`
	Live       LivePivots  `json:"live"`
	Assessment Assessment  `json:"assessment"`
	Pairs      []PivotPair `json:"-"`
}

// BuildTable runs bucketing, extremum location and aggregation.
func BuildTable(series Series, p Params, now time.Time) (Table, []PivotPair) {
	buckets := Bucketize(series, p.Timeframe.Bucket, p.Weekdays)
	pairs := LocateAll(buckets, p.Timeframe.Slot)
	return Aggregate(pairs, p.Timeframe, now), pairs
}

// Evaluate is the entry point a host calls on each refresh tick. now is the
// evaluation instant; nothing here reads the wall clock.
func Evaluate(series Series, p Params, now time.Time) Result {
	now = now.UTC()
	table, pairs := BuildTable(series, p, now)
	live := Track(series, p.Timeframe, p.Weekdays, now)
	return Result{
		Table:      table,
		Live:       live,
		Assessment: Assess(table, live, p.Timeframe, now),
		Pairs:      pairs,
	}
}
