package pivots

import "time"

// Column selects the P1 or P2 percentages of a table.
type Column string

const (
	ColumnP1 Column = "p1"
	ColumnP2 Column = "p2"
)

// Band thresholds in percent.
const (
	LowThreshold  = 20.0
	HighThreshold = 50.0
)

// Band classifies a tail sum.
type Band string

const (
	BandLow      Band = "LOW"
	BandModerate Band = "MODERATE"
	BandHigh     Band = "HIGH"
)

// Classify bands a percentage: below 20 is low, below 50 moderate, else high.
func Classify(pct float64) Band {
	switch {
	case pct < LowThreshold:
		return BandLow
	case pct < HighThreshold:
		return BandModerate
	default:
		return BandHigh
	}
}

// RiskLabel words a band as a P1 flip risk.
func (b Band) RiskLabel() string {
	switch b {
	case BandLow:
		return "Low"
	case BandModerate:
		return "Moderate"
	default:
		return "High"
	}
}

// FormationLabel words a band as a P2 formation likelihood. A low share of
// history still ahead means P2 is likely already in.
func (b Band) FormationLabel() string {
	switch b {
	case BandLow:
		return "Likely"
	case BandModerate:
		return "Moderate"
	default:
		return "Unlikely"
	}
}

func pct(r Row, col Column) float64 {
	if col == ColumnP2 {
		return r.P2Pct
	}
	return r.P1Pct
}

// TailSum sums the column over slots strictly after ref. The result is not
// clamped.
func TailSum(t Table, col Column, ref int) float64 {
	var sum float64
	for _, r := range t.Rows {
		if r.Slot > ref {
			sum += pct(r, col)
		}
	}
	return Round1(sum)
}

// TailSumFrom sums the column over slots at or after ref.
func TailSumFrom(t Table, col Column, ref int) float64 {
	var sum float64
	for _, r := range t.Rows {
		if r.Slot >= ref {
			sum += pct(r, col)
		}
	}
	return Round1(sum)
}

// Metric is a banded tail sum.
type Metric struct {
	Pct  float64 `json:"pct"`
	Band Band    `json:"band"`
}

func newMetric(v float64) *Metric {
	return &Metric{Pct: v, Band: Classify(v)}
}

// Assessment holds the tail sums shown next to a table. Fields that depend on
// the live pivots are nil while the current bucket has no data.
type Assessment struct {
	NowSlot       int      `json:"now_slot"`
	P1AfterP1     *float64 `json:"p1_after_p1,omitempty"`
	P1AtOrAfterP2 *float64 `json:"p1_at_or_after_p2,omitempty"`
	P2AfterP2     *float64 `json:"p2_after_p2,omitempty"`
	P1AfterNow    float64  `json:"p1_after_now"`
	P2AfterNow    float64  `json:"p2_after_now"`
	FlipRisk      *Metric  `json:"flip_risk,omitempty"`
	P2Formation   *Metric  `json:"p2_formation"`
}

// Assess computes the tail sums of t against the live pivots and now.
func Assess(t Table, live LivePivots, tf Timeframe, now time.Time) Assessment {
	nowSlot := tf.Slot.Slot(now)
	a := Assessment{
		NowSlot:    nowSlot,
		P1AfterNow: TailSum(t, ColumnP1, nowSlot),
		P2AfterNow: TailSum(t, ColumnP2, nowSlot),
	}
	a.P2Formation = newMetric(a.P2AfterNow)

	if live.Formed() {
		p1AfterP1 := TailSum(t, ColumnP1, *live.P1Slot)
		p1FromP2 := TailSumFrom(t, ColumnP1, *live.P2Slot)
		p2AfterP2 := TailSum(t, ColumnP2, *live.P2Slot)
		a.P1AfterP1 = &p1AfterP1
		a.P1AtOrAfterP2 = &p1FromP2
		a.P2AfterP2 = &p2AfterP2
	}

	switch tf.Flip {
	case FlipAfterNow:
		a.FlipRisk = newMetric(a.P1AfterNow)
	default:
		if a.P1AtOrAfterP2 != nil {
			a.FlipRisk = newMetric(*a.P1AtOrAfterP2)
		}
	}
	return a
}
