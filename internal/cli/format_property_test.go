package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"pivotscope/internal/analysis/pivots"
)

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	return gopter.NewProperties(parameters)
}

// Shades stay in range and never get lighter as intensity grows.
func TestProperty_ShadeIndexIsBoundedAndMonotone(t *testing.T) {
	properties := newProperties()

	properties.Property("shade index is within the palette", prop.ForAll(
		func(intensity float64, levels int) bool {
			idx := ShadeIndex(intensity, levels)
			return idx >= 0 && (levels <= 1 || idx < levels)
		},
		gen.Float64Range(-1, 3),
		gen.IntRange(0, 10),
	))

	properties.Property("shade index is monotone in intensity", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			return ShadeIndex(a, 5) <= ShadeIndex(b, 5)
		},
		gen.Float64Range(0, 1.2),
		gen.Float64Range(0, 1.2),
	))

	properties.TestingRun(t)
}

// The rendered table has one line per slot and marks the live pivots on
// their own rows.
func TestProperty_RenderMarksLivePivots(t *testing.T) {
	now := time.Date(2024, 4, 10, 13, 20, 0, 0, time.UTC)
	properties := newProperties()

	properties.Property("render has one line per slot with markers on P1 and P2", prop.ForAll(
		func(p1, p2 int, pcts []float64) bool {
			table := pivots.EmptyTable(pivots.Daily, now)
			for i := range table.Rows {
				if i < len(pcts) {
					table.Rows[i].P1Pct = pcts[i]
					table.Rows[i].P2Pct = 100 - pcts[i]
				}
			}
			live := pivots.LivePivots{State: pivots.StateBothFormed, P1Slot: &p1, P2Slot: &p2}
			res := pivots.Result{
				Table:      table,
				Live:       live,
				Assessment: pivots.Assess(table, live, pivots.Daily, now),
			}

			out := TableRenderer{}.Render(res)
			lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
			if len(lines) != len(table.Rows)+2 {
				t.Logf("got %d lines", len(lines))
				return false
			}
			for _, row := range table.Rows {
				line := lines[row.Slot+2]
				if !strings.HasPrefix(line, row.Label) {
					return false
				}
				marked := strings.Contains(line, "◀")
				wantMarked := row.Slot == p1 || row.Slot == p2 || row.Slot == 13
				if marked != wantMarked {
					t.Logf("slot %d marked=%v: %q", row.Slot, marked, line)
					return false
				}
				if row.Slot == p1 && !strings.Contains(line, "P1") {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 23),
		gen.IntRange(0, 23),
		gen.SliceOfN(24, gen.Float64Range(0, 100)),
	))

	properties.TestingRun(t)
}

func TestProperty_FormatPercentSign(t *testing.T) {
	properties := newProperties()

	properties.Property("sign follows the value", prop.ForAll(
		func(v float64) bool {
			s := FormatPercent(v)
			if !strings.HasSuffix(s, "%") {
				return false
			}
			switch {
			case v > 0:
				return strings.HasPrefix(s, "+")
			case v < 0:
				return strings.HasPrefix(s, "-")
			}
			return s == "0.00%"
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("truncation respects the limit", prop.ForAll(
		func(s string, n int) bool {
			return len(TruncateString(s, n)) <= n || len(s) <= n
		},
		gen.AlphaString(),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

func TestStatusLines(t *testing.T) {
	now := time.Date(2024, 4, 10, 13, 20, 0, 0, time.UTC)
	table := pivots.EmptyTable(pivots.Daily, now)
	table.Rows[3].P1Pct, table.Rows[15].P1Pct = 60, 40
	table.Rows[11].P2Pct, table.Rows[18].P2Pct = 70, 30

	p1s, p2s := 3, 11
	live := pivots.LivePivots{State: pivots.StateBothFormed, P1Slot: &p1s, P2Slot: &p2s}
	res := pivots.Result{Table: table, Live: live, Assessment: pivots.Assess(table, live, pivots.Daily, now)}

	p1, p2 := StatusLines(res)
	if p1 != "P1 03:00: 40.0% of P1s fall after it, 40.0% at or after the live P2 (11:00). Flip risk: Moderate" {
		t.Errorf("p1 line = %q", p1)
	}
	if p2 != "P2 11:00: 30.0% of P2s fall after it, 30.0% after now (13:00). P2 formation: Moderate" {
		t.Errorf("p2 line = %q", p2)
	}

	empty := pivots.Result{Table: table, Assessment: pivots.Assess(table, pivots.LivePivots{}, pivots.Daily, now)}
	p1, _ = StatusLines(empty)
	if !strings.HasPrefix(p1, "P1 not formed: 40.0% of P1s fall after now (13:00)") {
		t.Errorf("unformed p1 line = %q", p1)
	}
}
