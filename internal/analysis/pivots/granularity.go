package pivots

import (
	"fmt"
	"strings"
	"time"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
)

// BucketKey identifies a calendar bucket by the Unix second of its UTC start.
// Keys of one granularity sort chronologically.
type BucketKey int64

// Start returns the bucket's UTC start instant.
func (k BucketKey) Start() time.Time {
	return time.Unix(int64(k), 0).UTC()
}

// BucketGranularity partitions time into calendar buckets.
type BucketGranularity interface {
	Name() string
	// Truncate returns the UTC start of the bucket containing t.
	Truncate(t time.Time) time.Time
	// Format renders a bucket start for display, e.g. "2024-W07".
	Format(start time.Time) string
}

// KeyOf returns the bucket key of t under g.
func KeyOf(g BucketGranularity, t time.Time) BucketKey {
	return BucketKey(g.Truncate(t).Unix())
}

type hourBucket struct{}

func (hourBucket) Name() string { return "hour" }
func (hourBucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}
func (hourBucket) Format(s time.Time) string { return s.UTC().Format("2006-01-02 15h") }

type fourHourBucket struct{}

func (fourHourBucket) Name() string { return "4h" }
func (fourHourBucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()/4*4, 0, 0, 0, time.UTC)
}
func (fourHourBucket) Format(s time.Time) string { return s.UTC().Format("2006-01-02 15h") }

type dayBucket struct{}

func (dayBucket) Name() string { return "day" }
func (dayBucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
func (dayBucket) Format(s time.Time) string { return s.UTC().Format("2006-01-02") }

// weekBucket groups by ISO (year, week). Weeks start on Monday 00:00 UTC so
// the start instant and the ISO pair identify each other.
type weekBucket struct{}

func (weekBucket) Name() string { return "week" }
func (weekBucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -WeekdayIndex(day))
}
func (weekBucket) Format(s time.Time) string {
	y, w := s.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

type monthBucket struct{}

func (monthBucket) Name() string { return "month" }
func (monthBucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
func (monthBucket) Format(s time.Time) string { return s.UTC().Format("2006-01") }

// Bucket granularities.
var (
	BucketHour     BucketGranularity = hourBucket{}
	BucketFourHour BucketGranularity = fourHourBucket{}
	BucketDay      BucketGranularity = dayBucket{}
	BucketWeek     BucketGranularity = weekBucket{}
	BucketMonth    BucketGranularity = monthBucket{}
)

// SlotGranularity classifies an instant into a slot of a fixed domain.
type SlotGranularity interface {
	Name() string
	Slot(t time.Time) int
	// Domain lists every slot value in natural order.
	Domain() []int
	Label(slot int) string
}

type quarterSlot struct{}

func (quarterSlot) Name() string { return "quarter" }
func (quarterSlot) Slot(t time.Time) int { return t.UTC().Minute() / 15 }
func (quarterSlot) Domain() []int { return seq(0, 3) }
func (quarterSlot) Label(slot int) string { return fmt.Sprintf(":%02d", slot*15) }

type blockHourSlot struct{}

func (blockHourSlot) Name() string { return "block-hour" }
func (blockHourSlot) Slot(t time.Time) int { return t.UTC().Hour() % 4 }
func (blockHourSlot) Domain() []int { return seq(0, 3) }
func (blockHourSlot) Label(slot int) string { return fmt.Sprintf("+%dh", slot) }

type hourSlot struct{}

func (hourSlot) Name() string { return "hour" }
func (hourSlot) Slot(t time.Time) int { return t.UTC().Hour() }
func (hourSlot) Domain() []int { return seq(0, 23) }
func (hourSlot) Label(slot int) string { return fmt.Sprintf("%02d:00", slot) }

type weekdaySlot struct{}

func (weekdaySlot) Name() string { return "weekday" }
func (weekdaySlot) Slot(t time.Time) int { return WeekdayIndex(t) }
func (weekdaySlot) Domain() []int { return seq(0, 6) }
func (weekdaySlot) Label(slot int) string {
	if slot < 0 || slot > 6 {
		return "?"
	}
	return weekdayNames[slot]
}

type dayOfMonthSlot struct{}

func (dayOfMonthSlot) Name() string { return "day-of-month" }
func (dayOfMonthSlot) Slot(t time.Time) int { return t.UTC().Day() }
func (dayOfMonthSlot) Domain() []int { return seq(1, 31) }
func (dayOfMonthSlot) Label(slot int) string { return fmt.Sprintf("%02d", slot) }

// Slot granularities.
var (
	SlotQuarterOfHour SlotGranularity = quarterSlot{}
	SlotHourOfBlock   SlotGranularity = blockHourSlot{}
	SlotHourOfDay     SlotGranularity = hourSlot{}
	SlotWeekday       SlotGranularity = weekdaySlot{}
	SlotDayOfMonth    SlotGranularity = dayOfMonthSlot{}
)

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// FlipPolicy selects which tail sum drives the P1 flip risk band.
type FlipPolicy string

const (
	// FlipAtOrAfterP2 bands the P1 mass at or after the live P2 slot.
	FlipAtOrAfterP2 FlipPolicy = "at_or_after_p2"
	// FlipAfterNow bands the P1 mass after the evaluation slot.
	FlipAfterNow FlipPolicy = "after_now"
)

// Timeframe pairs a bucket granularity with a slot granularity and the
// candle interval that feeds it.
type Timeframe struct {
	Name        string
	Bucket      BucketGranularity
	Slot        SlotGranularity
	Interval    models.Interval
	DefaultDays int
	Flip        FlipPolicy
}

// String returns the preset name.
func (tf Timeframe) String() string { return tf.Name }

// IsCurrent reports whether key is the bucket that contains now.
func (tf Timeframe) IsCurrent(key BucketKey, now time.Time) bool {
	return key == KeyOf(tf.Bucket, now)
}

// Timeframe presets.
var (
	Hourly = Timeframe{
		Name: "hourly", Bucket: BucketHour, Slot: SlotQuarterOfHour,
		Interval: models.Interval15m, DefaultDays: 30, Flip: FlipAtOrAfterP2,
	}
	FourHour = Timeframe{
		Name: "4h", Bucket: BucketFourHour, Slot: SlotHourOfBlock,
		Interval: models.Interval15m, DefaultDays: 90, Flip: FlipAtOrAfterP2,
	}
	Daily = Timeframe{
		Name: "daily", Bucket: BucketDay, Slot: SlotHourOfDay,
		Interval: models.Interval15m, DefaultDays: 365, Flip: FlipAtOrAfterP2,
	}
	Weekly = Timeframe{
		Name: "weekly", Bucket: BucketWeek, Slot: SlotWeekday,
		Interval: models.Interval1d, DefaultDays: 365, Flip: FlipAfterNow,
	}
	Monthly = Timeframe{
		Name: "monthly", Bucket: BucketMonth, Slot: SlotDayOfMonth,
		Interval: models.Interval1d, DefaultDays: 730, Flip: FlipAfterNow,
	}
)

var presetOrder = []Timeframe{Hourly, FourHour, Daily, Weekly, Monthly}

var timeframes = map[string]Timeframe{
	Hourly.Name:   Hourly,
	FourHour.Name: FourHour,
	Daily.Name:    Daily,
	Weekly.Name:   Weekly,
	Monthly.Name:  Monthly,
}

var timeframeAliases = map[string]string{
	"1h": "hourly", "h": "hourly",
	"4hour": "4h", "4-hour": "4h",
	"1d": "daily", "d": "daily", "day": "daily",
	"1w": "weekly", "w": "weekly", "week": "weekly",
	"1m": "monthly", "m": "monthly", "month": "monthly",
}

// ParseTimeframe resolves a preset by name or alias.
func ParseTimeframe(name string) (Timeframe, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := timeframeAliases[n]; ok {
		n = alias
	}
	tf, ok := timeframes[n]
	if !ok {
		return Timeframe{}, errors.Wrapf(errors.ErrInvalidTimeframe, "%q (want one of %s)", name, strings.Join(TimeframeNames(), ", "))
	}
	return tf, nil
}

// TimeframeNames lists the preset names from the finest bucket to the
// coarsest.
func TimeframeNames() []string {
	names := make([]string, 0, len(presetOrder))
	for _, tf := range presetOrder {
		names = append(names, tf.Name)
	}
	return names
}

// Timeframes returns every preset from the finest bucket to the coarsest.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(presetOrder))
	copy(out, presetOrder)
	return out
}
