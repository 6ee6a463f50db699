package pivots

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pivotscope/internal/models"
)

var propertyBase = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// seriesFromPrices turns a price walk into 15-minute candles starting at
// propertyBase. Each candle spans price±spread.
func seriesFromPrices(prices []float64, step time.Duration) []models.Candle {
	candles := make([]models.Candle, len(prices))
	for i, p := range prices {
		spread := 0.5 + math.Mod(p, 3)
		candles[i] = models.Candle{
			Timestamp: propertyBase.Add(time.Duration(i) * step),
			Open:      p,
			High:      p + spread,
			Low:       p - spread,
			Close:     p,
			Volume:    1,
		}
	}
	return candles
}

func pricesGen(maxLen int) gopter.Gen {
	return gen.SliceOf(gen.Float64Range(50, 150)).Map(func(p []float64) []float64 {
		if len(p) > maxLen {
			return p[:maxLen]
		}
		return p
	})
}

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return gopter.NewProperties(parameters)
}

// Property: for a non-empty single-day bucket, one pivot sits at the hour of
// the first max high and the other at the hour of the first min low.
func TestProperty_PivotsAreTheDayExtremes(t *testing.T) {
	properties := newProperties()

	properties.Property("P1/P2 are the day's high and low", prop.ForAll(
		func(prices []float64) bool {
			if len(prices) == 0 {
				return true
			}
			candles := seriesFromPrices(prices, 15*time.Minute)
			pair, ok := Locate(candles, SlotHourOfDay)
			if !ok {
				return false
			}

			hi, lo := 0, 0
			for i, c := range candles {
				if c.High > candles[hi].High {
					hi = i
				}
				if c.Low < candles[lo].Low {
					lo = i
				}
			}
			hiSlot := candles[hi].Timestamp.Hour()
			loSlot := candles[lo].Timestamp.Hour()

			if pair.P1Time.After(pair.P2Time) {
				return false
			}
			return (pair.P1Slot == hiSlot && pair.P2Slot == loSlot) ||
				(pair.P1Slot == loSlot && pair.P2Slot == hiSlot)
		},
		pricesGen(96),
	))

	properties.TestingRun(t)
}

// Property: counts sum to the denominator, and percentages sum to 100 within
// rounding error, for every timeframe.
func TestProperty_CountsMatchDenominator(t *testing.T) {
	properties := newProperties()

	properties.Property("sum of counts equals denominator", prop.ForAll(
		func(prices []float64, nowHours int, tfIdx int) bool {
			tf := Timeframes()[tfIdx]
			step := 15 * time.Minute
			if tf.Interval == models.Interval1d {
				step = 24 * time.Hour
			}
			series := NewSeries(seriesFromPrices(prices, step))
			now := propertyBase.Add(time.Duration(nowHours) * time.Hour)

			table, _ := BuildTable(series, Params{Timeframe: tf}, now)
			p1, p2 := table.Counts()
			if p1 != table.Denominator || p2 != table.Denominator {
				return false
			}
			if table.Denominator == 0 {
				return true
			}

			var p1Sum, p2Sum float64
			for _, r := range table.Rows {
				p1Sum += r.P1Pct
				p2Sum += r.P2Pct
			}
			tolerance := 0.1*float64(len(table.Rows)) + 1e-9
			return math.Abs(p1Sum-100) <= tolerance && math.Abs(p2Sum-100) <= tolerance
		},
		pricesGen(600),
		gen.IntRange(0, 24*40),
		gen.IntRange(0, len(Timeframes())-1),
	))

	properties.TestingRun(t)
}

// Property: every slot of the domain appears exactly once, in order.
func TestProperty_FullDomain(t *testing.T) {
	properties := newProperties()

	properties.Property("table covers the full slot domain", prop.ForAll(
		func(prices []float64, tfIdx int, mask uint8) bool {
			tf := Timeframes()[tfIdx]
			series := NewSeries(seriesFromPrices(prices, time.Hour))
			table, _ := BuildTable(series, Params{Timeframe: tf, Weekdays: WeekdaySet(mask & 0x7f)}, propertyBase.AddDate(0, 1, 0))

			domain := tf.Slot.Domain()
			if len(table.Rows) != len(domain) {
				return false
			}
			for i, slot := range domain {
				if table.Rows[i].Slot != slot {
					return false
				}
			}
			return true
		},
		pricesGen(400),
		gen.IntRange(0, len(Timeframes())-1),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

// Property: evaluating the same series at the same instant twice yields
// identical results.
func TestProperty_EvaluateIsIdempotent(t *testing.T) {
	properties := newProperties()

	properties.Property("evaluate is deterministic", prop.ForAll(
		func(prices []float64, nowHours int) bool {
			candles := seriesFromPrices(prices, 15*time.Minute)
			now := propertyBase.Add(time.Duration(nowHours) * time.Hour)
			p := Params{Timeframe: Daily, Weekdays: AllWeekdays}

			a := Evaluate(NewSeries(candles), p, now)
			b := Evaluate(NewSeries(candles), p, now)
			return reflect.DeepEqual(a, b)
		},
		pricesGen(500),
		gen.IntRange(0, 24*6),
	))

	properties.TestingRun(t)
}

// Property: the tail sum is the plain sum of the later slots, never clamped.
func TestProperty_TailSumIsUnclamped(t *testing.T) {
	properties := newProperties()

	properties.Property("tail sum equals manual sum", prop.ForAll(
		func(values []float64, ref int) bool {
			table := EmptyTable(Daily, propertyBase)
			var want float64
			for i := range table.Rows {
				v := 0.0
				if i < len(values) {
					v = Round1(values[i])
				}
				table.Rows[i].P1Pct = v
				if table.Rows[i].Slot > ref {
					want += v
				}
			}
			return math.Abs(TailSum(table, ColumnP1, ref)-Round1(want)) < 1e-9
		},
		gen.SliceOfN(24, gen.Float64Range(0, 100)),
		gen.IntRange(-1, 23),
	))

	properties.TestingRun(t)
}
