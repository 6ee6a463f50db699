// Package cli provides the pivotscope command-line interface.
package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"pivotscope/internal/analysis/pivots"
)

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPct formats an unsigned share with one decimal.
func FormatPct(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}

// FormatPrice formats a price with appropriate decimal places.
func FormatPrice(price float64) string {
	abs := math.Abs(price)
	switch {
	case abs >= 10:
		return fmt.Sprintf("%.2f", price)
	case abs >= 0.01:
		return fmt.Sprintf("%.4f", price)
	}
	return fmt.Sprintf("%.8f", price)
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume float64) string {
	switch {
	case volume >= 1e9:
		return fmt.Sprintf("%.2fB", volume/1e9)
	case volume >= 1e6:
		return fmt.Sprintf("%.2fM", volume/1e6)
	case volume >= 1e3:
		return fmt.Sprintf("%.2fK", volume/1e3)
	}
	return fmt.Sprintf("%.2f", volume)
}

// FormatDateTime formats a time in UTC.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatDaysAgo renders a last-seen recency.
func FormatDaysAgo(days *int) string {
	switch {
	case days == nil:
		return "-"
	case *days == 0:
		return "today"
	}
	return fmt.Sprintf("%dd ago", *days)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// Heatmap palettes, dark to bright. P1 cells are shaded orange, P2 cells blue.
var (
	p1Palette = []lipgloss.Color{"#2b1d0e", "#5c3612", "#8f4f14", "#c46a14", "#f08a12"}
	p2Palette = []lipgloss.Color{"#0e1b2b", "#12355c", "#144f8f", "#146ac4", "#128af0"}
)

// ShadeIndex maps a 0..1 intensity onto one of levels shades. Out of range
// intensities are clamped.
func ShadeIndex(intensity float64, levels int) int {
	if levels <= 1 || math.IsNaN(intensity) || intensity <= 0 {
		return 0
	}
	if intensity >= 1 {
		return levels - 1
	}
	return int(math.Round(intensity * float64(levels-1)))
}

// TableRenderer draws a pivot table as a heatmap.
type TableRenderer struct {
	// Color enables cell shading; without it the layout is plain text.
	Color bool
}

var (
	cellStyle   = lipgloss.NewStyle().Width(8).Align(lipgloss.Right)
	recentStyle = lipgloss.NewStyle().Width(9).Align(lipgloss.Right)
	labelStyle  = lipgloss.NewStyle().Width(7)
	headerStyle = lipgloss.NewStyle().Bold(true)
	liveStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f5d90a"))
)

// Render returns the table with one line per slot. Rows holding the live P1
// or P2 are marked, and the slot containing now is flagged.
func (r TableRenderer) Render(res pivots.Result) string {
	t := res.Table
	peak1, peak2 := t.MaxP1Pct(), t.MaxP2Pct()

	var b strings.Builder
	header := strings.Join([]string{
		labelStyle.Render("Slot"),
		cellStyle.Render("P1 %"), cellStyle.Render("P1 n"), recentStyle.Render("P1 last"),
		cellStyle.Render("P2 %"), cellStyle.Render("P2 n"), recentStyle.Render("P2 last"),
	}, " ")
	if r.Color {
		header = headerStyle.Render(header)
	}
	b.WriteString(header)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("─", lipgloss.Width(header)))
	b.WriteByte('\n')

	for _, row := range t.Rows {
		label := labelStyle.Render(row.Label)
		marker := r.marker(res, row.Slot)
		if marker != "" && r.Color {
			label = liveStyle.Inherit(labelStyle).Render(row.Label)
		}
		cells := []string{
			label,
			r.shade(cellStyle, FormatPct(row.P1Pct), p1Palette, pivots.Intensity(row.P1Pct, peak1)),
			cellStyle.Render(fmt.Sprint(row.P1Count)),
			recentStyle.Render(FormatDaysAgo(row.P1LastSeen)),
			r.shade(cellStyle, FormatPct(row.P2Pct), p2Palette, pivots.Intensity(row.P2Pct, peak2)),
			cellStyle.Render(fmt.Sprint(row.P2Count)),
			recentStyle.Render(FormatDaysAgo(row.P2LastSeen)),
		}
		line := strings.Join(cells, " ")
		if marker != "" {
			line += "  " + marker
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func (r TableRenderer) marker(res pivots.Result, slot int) string {
	var tags []string
	if res.Live.IsP1(slot) {
		tags = append(tags, "P1")
	}
	if res.Live.IsP2(slot) {
		tags = append(tags, "P2")
	}
	if res.Assessment.NowSlot == slot && len(res.Table.Rows) > 0 {
		tags = append(tags, "now")
	}
	if len(tags) == 0 {
		return ""
	}
	return "◀ " + strings.Join(tags, " ")
}

func (r TableRenderer) shade(style lipgloss.Style, text string, palette []lipgloss.Color, intensity float64) string {
	if !r.Color {
		return style.Render(text)
	}
	bg := palette[ShadeIndex(intensity, len(palette))]
	return style.Background(bg).Foreground(lipgloss.Color("#ffffff")).Render(text)
}

// StatusLines words the assessment: the P1 line with its flip risk and the P2
// line with its formation likelihood. Slot labels come from the table.
func StatusLines(res pivots.Result) (p1, p2 string) {
	label := func(slot int) string {
		if row, ok := res.Table.Row(slot); ok {
			return row.Label
		}
		return fmt.Sprint(slot)
	}
	a, live := res.Assessment, res.Live
	now := label(a.NowSlot)

	if live.Formed() && a.P1AfterP1 != nil && a.P1AtOrAfterP2 != nil {
		p1 = fmt.Sprintf("P1 %s: %s of P1s fall after it, %s at or after the live P2 (%s)",
			label(*live.P1Slot), FormatPct(*a.P1AfterP1), FormatPct(*a.P1AtOrAfterP2), label(*live.P2Slot))
	} else {
		p1 = fmt.Sprintf("P1 not formed: %s of P1s fall after now (%s)", FormatPct(a.P1AfterNow), now)
	}
	if a.FlipRisk != nil {
		p1 += fmt.Sprintf(". Flip risk: %s", a.FlipRisk.Band.RiskLabel())
	}

	if live.Formed() && a.P2AfterP2 != nil {
		p2 = fmt.Sprintf("P2 %s: %s of P2s fall after it, %s after now (%s)",
			label(*live.P2Slot), FormatPct(*a.P2AfterP2), FormatPct(a.P2AfterNow), now)
	} else {
		p2 = fmt.Sprintf("P2 not formed: %s of P2s fall after now (%s)", FormatPct(a.P2AfterNow), now)
	}
	if a.P2Formation != nil {
		p2 += fmt.Sprintf(". P2 formation: %s", a.P2Formation.Band.FormationLabel())
	}
	return p1, p2
}
