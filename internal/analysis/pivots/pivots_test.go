package pivots

import (
	"errors"
	"reflect"
	"testing"
	"time"

	perrors "pivotscope/internal/errors"
	"pivotscope/internal/models"
)

func at(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}

func bar(ts time.Time, high, low float64) models.Candle {
	mid := (high + low) / 2
	return models.Candle{Timestamp: ts, Open: mid, High: high, Low: low, Close: mid, Volume: 1}
}

// flatDay builds 15-minute candles for one day up to (not including) the hour
// `until`, with the day's high placed at highHour and low at lowHour.
func flatDay(day time.Time, until, highHour, lowHour int) []models.Candle {
	var out []models.Candle
	for m := 0; m < until*60; m += 15 {
		ts := day.Add(time.Duration(m) * time.Minute)
		c := bar(ts, 100.5, 99.5)
		if ts.Hour() == highHour && ts.Minute() == 0 {
			c.High = 110
		}
		if ts.Hour() == lowHour && ts.Minute() == 0 {
			c.Low = 90
		}
		out = append(out, c)
	}
	return out
}

func TestNewSeries_SortsAndDeduplicates(t *testing.T) {
	in := []models.Candle{
		bar(at(2024, 3, 1, 2, 0), 10, 9),
		bar(at(2024, 3, 1, 0, 0), 10, 9),
		bar(at(2024, 3, 1, 1, 0), 10, 9),
		bar(at(2024, 3, 1, 0, 0), 12, 8),
	}
	s := NewSeries(in)

	if s.Len() != 3 {
		t.Fatalf("expected 3 candles, got %d", s.Len())
	}
	if s.At(0).High != 12 {
		t.Errorf("duplicate timestamp should keep the later candle, got high %v", s.At(0).High)
	}
	for i := 1; i < s.Len(); i++ {
		if !s.At(i).Timestamp.After(s.At(i - 1).Timestamp) {
			t.Fatalf("series not strictly ascending at %d", i)
		}
	}
	if !in[0].Timestamp.Equal(at(2024, 3, 1, 2, 0)) {
		t.Error("input slice was mutated")
	}
}

func TestSeriesFrom_RejectsUnsorted(t *testing.T) {
	_, err := SeriesFrom([]models.Candle{
		bar(at(2024, 3, 1, 1, 0), 10, 9),
		bar(at(2024, 3, 1, 0, 0), 10, 9),
	})
	if !errors.Is(err, perrors.ErrUnsortedSeries) {
		t.Fatalf("expected ErrUnsortedSeries, got %v", err)
	}
}

func TestSeries_Between(t *testing.T) {
	s := NewSeries(flatDay(at(2024, 3, 1, 0, 0), 24, 5, 6))
	sub := s.Between(at(2024, 3, 1, 4, 0), at(2024, 3, 1, 5, 0))
	if sub.Len() != 4 {
		t.Fatalf("expected 4 candles in one hour, got %d", sub.Len())
	}
	if first, _ := sub.First(); !first.Timestamp.Equal(at(2024, 3, 1, 4, 0)) {
		t.Errorf("unexpected first candle %v", first.Timestamp)
	}
}

func TestLocate_TieOnSameCandleIsLowFirst(t *testing.T) {
	candles := []models.Candle{
		bar(at(2024, 3, 1, 0, 0), 101, 99),
		bar(at(2024, 3, 1, 7, 0), 120, 80),
		bar(at(2024, 3, 1, 9, 0), 101, 99),
	}
	pair, ok := Locate(candles, SlotHourOfDay)
	if !ok {
		t.Fatal("expected a pair")
	}
	if pair.P1Kind != KindLow || pair.P2Kind != KindHigh {
		t.Errorf("expected low first on a tie, got %s then %s", pair.P1Kind, pair.P2Kind)
	}
	if pair.P1Slot != 7 || pair.P2Slot != 7 {
		t.Errorf("expected both slots at hour 7, got %d/%d", pair.P1Slot, pair.P2Slot)
	}
}

func TestLocate_FirstOccurrenceWinsTies(t *testing.T) {
	candles := []models.Candle{
		bar(at(2024, 3, 1, 2, 0), 110, 99),
		bar(at(2024, 3, 1, 5, 0), 110, 99),
		bar(at(2024, 3, 1, 8, 0), 101, 90),
		bar(at(2024, 3, 1, 11, 0), 101, 90),
	}
	pair, _ := Locate(candles, SlotHourOfDay)
	if pair.P1Slot != 2 || pair.P2Slot != 8 {
		t.Errorf("expected P1=2 P2=8, got P1=%d P2=%d", pair.P1Slot, pair.P2Slot)
	}
}

func TestLocate_Empty(t *testing.T) {
	if _, ok := Locate(nil, SlotHourOfDay); ok {
		t.Error("empty bucket should be skipped")
	}
}

func TestAggregate_SingleCompletedBucket(t *testing.T) {
	day := at(2024, 3, 4, 0, 0)
	series := NewSeries(flatDay(day, 24, 8, 14))
	now := at(2024, 3, 10, 12, 0)

	table, _ := BuildTable(series, Params{Timeframe: Daily, Weekdays: AllWeekdays}, now)

	if table.CompletedBuckets != 1 || table.Denominator != 1 {
		t.Fatalf("expected 1 completed bucket, got completed=%d denom=%d", table.CompletedBuckets, table.Denominator)
	}
	for _, r := range table.Rows {
		wantP1, wantP2 := 0, 0
		if r.Slot == 8 {
			wantP1 = 1
		}
		if r.Slot == 14 {
			wantP2 = 1
		}
		if r.P1Count != wantP1 || r.P2Count != wantP2 {
			t.Errorf("hour %d: got p1=%d p2=%d, want p1=%d p2=%d", r.Slot, r.P1Count, r.P2Count, wantP1, wantP2)
		}
	}
	row, _ := table.Row(8)
	if row.P1Pct != 100.0 {
		t.Errorf("expected 100%% at hour 8, got %v", row.P1Pct)
	}
	if row.P1LastSeen == nil || *row.P1LastSeen != 6 {
		t.Errorf("expected P1 last seen 6 days ago, got %v", row.P1LastSeen)
	}
	if r3, _ := table.Row(3); r3.P1LastSeen != nil {
		t.Errorf("expected nil recency for a slot that never occurred")
	}
}

func TestEvaluate_CurrentDayOnlyUsesFallback(t *testing.T) {
	day := at(2024, 3, 4, 0, 0)
	series := NewSeries(flatDay(day, 10, 3, 9))
	now := at(2024, 3, 4, 10, 0)

	res := Evaluate(series, Params{Timeframe: Daily, Weekdays: AllWeekdays}, now)

	if !res.Table.UsedFallback {
		t.Fatal("expected denominator fallback")
	}
	if res.Table.CompletedBuckets != 0 || res.Table.Denominator != 1 {
		t.Errorf("expected completed=0 denom=1, got %d/%d", res.Table.CompletedBuckets, res.Table.Denominator)
	}
	if !res.Live.Formed() {
		t.Fatal("expected live pivots")
	}
	if *res.Live.P1Slot != 3 || *res.Live.P2Slot != 9 {
		t.Errorf("expected live P1=3 P2=9, got %d/%d", *res.Live.P1Slot, *res.Live.P2Slot)
	}
	row, _ := res.Table.Row(3)
	if row.P1Count != 1 {
		t.Errorf("expected p1_count=1 at hour 3, got %d", row.P1Count)
	}
	if row.P1LastSeen == nil || *row.P1LastSeen != 0 {
		t.Errorf("current bucket should count for recency, got %v", row.P1LastSeen)
	}
}

func TestAggregate_TwoDaysSameP1Hour(t *testing.T) {
	var candles []models.Candle
	candles = append(candles, flatDay(at(2024, 3, 4, 0, 0), 24, 10, 20)...)
	candles = append(candles, flatDay(at(2024, 3, 5, 0, 0), 24, 22, 10)...)
	now := at(2024, 3, 9, 0, 0)

	table, _ := BuildTable(NewSeries(candles), Params{Timeframe: Daily}, now)

	for _, r := range table.Rows {
		if r.Slot == 10 {
			if r.P1Count != 2 || r.P1Pct != 100.0 {
				t.Errorf("hour 10: got count=%d pct=%v", r.P1Count, r.P1Pct)
			}
			continue
		}
		if r.P1Pct != 0 {
			t.Errorf("hour %d: expected 0%%, got %v", r.Slot, r.P1Pct)
		}
	}
}

func TestAggregate_CurrentBucketExcludedFromCounts(t *testing.T) {
	var candles []models.Candle
	candles = append(candles, flatDay(at(2024, 3, 4, 0, 0), 24, 1, 2)...)
	candles = append(candles, flatDay(at(2024, 3, 5, 0, 0), 12, 5, 6)...)
	now := at(2024, 3, 5, 12, 0)

	table, _ := BuildTable(NewSeries(candles), Params{Timeframe: Daily}, now)

	if table.CompletedBuckets != 1 || table.TotalBuckets != 2 || table.UsedFallback {
		t.Fatalf("unexpected bucket counts %+v", table)
	}
	if r, _ := table.Row(5); r.P1Count != 0 || r.P1LastSeen == nil || *r.P1LastSeen != 0 {
		t.Errorf("current bucket must not count but must set recency: %+v", r)
	}
	if r, _ := table.Row(1); r.P1Count != 1 || r.P1Pct != 100 {
		t.Errorf("completed bucket should count: %+v", r)
	}
}

func TestAggregate_WeekdayFilterLeavesNoBuckets(t *testing.T) {
	var candles []models.Candle
	// Tuesdays and Wednesdays of two weeks.
	for _, d := range []int{5, 6, 12, 13} {
		candles = append(candles, flatDay(at(2024, 3, d, 0, 0), 24, 4, 16)...)
	}
	monday, _ := ParseWeekdays("mon")
	now := at(2024, 3, 20, 0, 0)

	table, _ := BuildTable(NewSeries(candles), Params{Timeframe: Daily, Weekdays: monday}, now)

	if table.CompletedBuckets != 0 || table.Denominator != 0 || table.UsedFallback {
		t.Fatalf("expected an empty table without fallback, got %+v", table)
	}
	if len(table.Rows) != 24 {
		t.Fatalf("expected 24 rows, got %d", len(table.Rows))
	}
	for _, r := range table.Rows {
		if r.P1Count != 0 || r.P2Count != 0 || r.P1LastSeen != nil || r.P2LastSeen != nil {
			t.Errorf("hour %d should be empty: %+v", r.Slot, r)
		}
	}
}

func TestAggregate_FilterAppliesBeforeBucketing(t *testing.T) {
	// Weekly buckets: the week's high is on Tuesday but only Mon/Thu count.
	candles := []models.Candle{
		bar(at(2024, 3, 4, 0, 0), 105, 95), // Mon
		bar(at(2024, 3, 5, 0, 0), 200, 95), // Tue
		bar(at(2024, 3, 7, 0, 0), 106, 80), // Thu
	}
	set, _ := ParseWeekdays("mon,thu")
	table, pairs := BuildTable(NewSeries(candles), Params{Timeframe: Weekly, Weekdays: set}, at(2024, 3, 20, 0, 0))

	if len(pairs) != 1 {
		t.Fatalf("expected one weekly bucket, got %d", len(pairs))
	}
	if pairs[0].P1Slot != 3 || pairs[0].P1Kind != KindLow {
		t.Errorf("expected Thursday low first, got %+v", pairs[0])
	}
	if len(table.Rows) != 7 {
		t.Errorf("expected 7 weekday rows, got %d", len(table.Rows))
	}
}

func TestAggregate_EmptySeries(t *testing.T) {
	for _, tf := range Timeframes() {
		table, _ := BuildTable(Series{}, Params{Timeframe: tf}, at(2024, 3, 1, 0, 0))
		if len(table.Rows) != len(tf.Slot.Domain()) {
			t.Errorf("%s: expected %d rows, got %d", tf.Name, len(tf.Slot.Domain()), len(table.Rows))
		}
		if table.Denominator != 0 {
			t.Errorf("%s: expected zero denominator", tf.Name)
		}
	}
}

func TestTailSum_NoClamping(t *testing.T) {
	table := EmptyTable(Daily, at(2024, 3, 1, 0, 0))
	for i := range table.Rows {
		table.Rows[i].P1Pct = 10
	}
	if got := TailSum(table, ColumnP1, 12); got != 110 {
		t.Errorf("expected 110, got %v", got)
	}
	if got := TailSumFrom(table, ColumnP1, 12); got != 120 {
		t.Errorf("expected 120 at-or-after, got %v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		pct  float64
		want Band
	}{
		{0, BandLow},
		{19.9, BandLow},
		{20, BandModerate},
		{49.9, BandModerate},
		{50, BandHigh},
		{130, BandHigh},
	}
	for _, tt := range tests {
		if got := Classify(tt.pct); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.pct, got, tt.want)
		}
	}
	if BandLow.FormationLabel() != "Likely" || BandHigh.RiskLabel() != "High" {
		t.Error("unexpected band wording")
	}
}

func TestAssess_DailyUsesAtOrAfterP2(t *testing.T) {
	table := EmptyTable(Daily, at(2024, 3, 1, 0, 0))
	for i := range table.Rows {
		table.Rows[i].P1Pct = 5
		table.Rows[i].P2Pct = 2
	}
	p1, p2 := 3, 9
	live := LivePivots{State: StateBothFormed, P1Slot: &p1, P2Slot: &p2}
	now := at(2024, 3, 1, 10, 30)

	a := Assess(table, live, Daily, now)

	if *a.P1AtOrAfterP2 != 75 { // hours 9..23
		t.Errorf("P1AtOrAfterP2 = %v", *a.P1AtOrAfterP2)
	}
	if a.FlipRisk == nil || a.FlipRisk.Band != BandHigh {
		t.Errorf("unexpected flip risk %+v", a.FlipRisk)
	}
	if a.P2AfterNow != 26 { // hours 11..23
		t.Errorf("P2AfterNow = %v", a.P2AfterNow)
	}
	if a.P2Formation.Band != BandModerate {
		t.Errorf("unexpected P2 formation %+v", a.P2Formation)
	}
}

func TestAssess_NoLiveData(t *testing.T) {
	table := EmptyTable(Daily, at(2024, 3, 1, 0, 0))
	a := Assess(table, LivePivots{State: StateNoData}, Daily, at(2024, 3, 1, 10, 0))
	if a.FlipRisk != nil || a.P1AfterP1 != nil {
		t.Error("pivot-referenced metrics must be absent without live data")
	}

	w := Assess(EmptyTable(Weekly, at(2024, 3, 1, 0, 0)), LivePivots{State: StateNoData}, Weekly, at(2024, 3, 1, 10, 0))
	if w.FlipRisk == nil {
		t.Error("weekly flip risk is referenced to now and always present")
	}
}

func TestTrack_NoData(t *testing.T) {
	s := NewSeries(flatDay(at(2024, 3, 4, 0, 0), 24, 1, 2))
	live := Track(s, Daily, AllWeekdays, at(2024, 3, 6, 3, 0))
	if live.State != StateNoData || live.P1Slot != nil || live.P1Time != nil {
		t.Errorf("expected NO_DATA, got %+v", live)
	}
}

func TestTrack_IgnoresCandlesAfterNow(t *testing.T) {
	candles := flatDay(at(2024, 3, 4, 0, 0), 24, 2, 4)
	candles = append(candles, bar(at(2024, 3, 4, 12, 0), 200, 100))
	s := NewSeries(candles)
	live := Track(s, Daily, AllWeekdays, at(2024, 3, 4, 6, 0))
	if !live.Formed() {
		t.Fatal("expected live pivots")
	}
	if *live.P1Slot != 2 || live.P1Kind != KindHigh || *live.P2Slot != 4 {
		t.Errorf("expected high P1 at 2 and low P2 at 4, got %d %s / %d", *live.P1Slot, live.P1Kind, *live.P2Slot)
	}
	if live.Candles != 25 {
		t.Errorf("expected 25 candles up to 06:00 inclusive, got %d", live.Candles)
	}
}

func TestTrack_RecomputesAsDataArrives(t *testing.T) {
	day := at(2024, 3, 4, 0, 0)
	candles := []models.Candle{
		bar(day.Add(1*time.Hour), 110, 100),
		bar(day.Add(2*time.Hour), 105, 95),
	}
	first := Track(NewSeries(candles), Daily, AllWeekdays, day.Add(3*time.Hour))

	candles = append(candles, bar(day.Add(4*time.Hour), 120, 101))
	second := Track(NewSeries(candles), Daily, AllWeekdays, day.Add(5*time.Hour))

	if *first.P1Slot != 1 || first.P1Kind != KindHigh {
		t.Fatalf("unexpected first snapshot %+v", first)
	}
	if *second.P1Slot != 2 || second.P1Kind != KindLow || *second.P2Slot != 4 {
		t.Errorf("a later high should flip P1 to the low: %+v", second)
	}
	if first.SameSlots(second) {
		t.Error("snapshots should differ")
	}
}

func TestWeekly_ISOBuckets(t *testing.T) {
	// 2024-12-30 is Monday of ISO week 2025-W01.
	start := at(2024, 12, 30, 0, 0)
	if got := BucketWeek.Format(BucketWeek.Truncate(at(2025, 1, 2, 15, 0))); got != "2025-W01" {
		t.Errorf("unexpected ISO week %s", got)
	}
	if !BucketWeek.Truncate(at(2025, 1, 5, 23, 0)).Equal(start) {
		t.Error("Sunday should truncate to the preceding Monday")
	}
}

func TestTrack_WeeklyHonoursWeekdayFilter(t *testing.T) {
	// 2024-03-04 is a Monday. Only Mondays count, so Wednesday's lower low
	// must not become this week's pivot.
	s := NewSeries([]models.Candle{
		bar(at(2024, 3, 4, 10, 0), 110, 100),
		bar(at(2024, 3, 6, 10, 0), 105, 90),
	})
	mondays := WeekdaySet(1)
	now := at(2024, 3, 6, 12, 0)

	res := Evaluate(s, Params{Timeframe: Weekly, Weekdays: mondays}, now)
	if !res.Table.UsedFallback {
		t.Fatal("the only week is in progress, table should use the fallback")
	}
	row, _ := res.Table.Row(0)
	if row.P1Count != 1 || row.P2Count != 1 {
		t.Fatalf("expected both pivots on Monday in the table, got %+v", row)
	}
	if !res.Live.Formed() || *res.Live.P1Slot != 0 || *res.Live.P2Slot != 0 {
		t.Errorf("live pivots should match the table's Monday, got %+v", res.Live)
	}
	if res.Live.Candles != 1 || res.Live.P2Price != 110 {
		t.Errorf("excluded Wednesday leaked into the live bucket: %+v", res.Live)
	}

	// Without the filter Wednesday's low is P2.
	all := Track(s, Weekly, AllWeekdays, now)
	if *all.P2Slot != 2 || all.P2Kind != KindLow {
		t.Errorf("unfiltered week should end on Wednesday's low, got %+v", all)
	}

	// A day bucket always shows the day in progress.
	daily := Track(s, Daily, mondays, now)
	if !daily.Formed() || *daily.P1Slot != 10 {
		t.Errorf("daily live pivots should ignore the filter, got %+v", daily)
	}
}

func TestMonthly_DomainIs31Days(t *testing.T) {
	table := EmptyTable(Monthly, at(2024, 2, 1, 0, 0))
	if len(table.Rows) != 31 || table.Rows[0].Slot != 1 || table.Rows[30].Slot != 31 {
		t.Errorf("unexpected monthly domain %d rows", len(table.Rows))
	}
}

func TestParseWeekdays(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0,1,2,3,4,5,6"},
		{"mon,tue", "0,1"},
		{"0, 6", "0,6"},
		{"Friday", "4"},
		{"weekdays", "0,1,2,3,4"},
	}
	for _, tt := range tests {
		got, err := ParseWeekdays(tt.in)
		if err != nil {
			t.Fatalf("ParseWeekdays(%q): %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseWeekdays(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseWeekdays("funday"); !errors.Is(err, perrors.ErrInvalidWeekday) {
		t.Errorf("expected ErrInvalidWeekday, got %v", err)
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1w")
	if err != nil || tf.Name != "weekly" {
		t.Fatalf("expected weekly, got %v %v", tf.Name, err)
	}
	if _, err := ParseTimeframe("yearly"); !errors.Is(err, perrors.ErrInvalidTimeframe) {
		t.Errorf("expected ErrInvalidTimeframe, got %v", err)
	}
	if !reflect.DeepEqual(TimeframeNames(), []string{"hourly", "4h", "daily", "weekly", "monthly"}) {
		t.Errorf("unexpected order %v", TimeframeNames())
	}
}

func TestIntensity(t *testing.T) {
	if Intensity(25, 50) != 0.5 {
		t.Error("expected half intensity")
	}
	if Intensity(0, 0) != 0 {
		t.Error("zero max should be treated as one")
	}
}
