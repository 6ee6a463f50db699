package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"pivotscope/internal/analysis/pivots"
)

var (
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	cyanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	boldStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)

	sourceStyles = map[string]lipgloss.Style{
		SourceExchange: cyanStyle,
		SourceStore:    lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		SourceCache:    lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
	}
)

// Output writes command results as styled text or, with --json, as JSON.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates an Output for cmd.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(),
	}
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// IsJSON reports whether --json was given.
func (o *Output) IsJSON() bool { return o.jsonMode }

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	enc := json.NewEncoder(o.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (o *Output) Print(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success, Error, Warning, Info, Bold and Dim print one styled line.
func (o *Output) Success(format string, args ...interface{}) { o.line(greenStyle, format, args...) }
func (o *Output) Error(format string, args ...interface{})   { o.line(redStyle, format, args...) }
func (o *Output) Warning(format string, args ...interface{}) { o.line(yellowStyle, format, args...) }
func (o *Output) Info(format string, args ...interface{})    { o.line(cyanStyle, format, args...) }
func (o *Output) Bold(format string, args ...interface{})    { o.line(boldStyle, format, args...) }
func (o *Output) Dim(format string, args ...interface{})     { o.line(dimStyle, format, args...) }

func (o *Output) line(st lipgloss.Style, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.styled(st, fmt.Sprintf(format, args...)))
}

// styled renders text with st when color is on.
func (o *Output) styled(st lipgloss.Style, text string) string {
	if !o.colorEnabled {
		return text
	}
	return st.Render(text)
}

func (o *Output) Green(text string) string { return o.styled(greenStyle, text) }
func (o *Output) Red(text string) string   { return o.styled(redStyle, text) }

// Data source tags.
const (
	SourceExchange = "EXCHANGE"
	SourceStore    = "STORE"
	SourceCache    = "CACHE"
)

// SourceTag returns a bracketed tag naming where data came from.
func (o *Output) SourceTag(source string) string {
	st, ok := sourceStyles[source]
	if !ok {
		st = dimStyle
	}
	return "[" + o.styled(st, source) + "]"
}

// FormatChange formats a signed percentage in green or red.
func (o *Output) FormatChange(pct float64) string {
	formatted := FormatPercent(pct)
	switch {
	case pct > 0:
		return o.Green(formatted)
	case pct < 0:
		return o.Red(formatted)
	}
	return formatted
}

// BandColor colors text by band: low green, moderate yellow, high red.
func (o *Output) BandColor(text string, band pivots.Band) string {
	switch band {
	case pivots.BandLow:
		return o.Green(text)
	case pivots.BandHigh:
		return o.Red(text)
	}
	return o.styled(yellowStyle, text)
}

// Table collects rows and prints them as aligned columns.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render prints the header, a rule and every row. Widths ignore ANSI styling.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	o := t.output
	o.Println(o.styled(boldStyle, t.join(t.headers, widths)))
	rules := make([]string, len(widths))
	for i, w := range widths {
		rules[i] = strings.Repeat("─", w)
	}
	o.Println(o.styled(dimStyle, strings.Join(rules, "──")))
	for _, row := range t.rows {
		o.Println(t.join(row, widths))
	}
}

func (t *Table) join(cells []string, widths []int) string {
	parts := make([]string, 0, len(widths))
	for i := 0; i < len(cells) && i < len(widths); i++ {
		pad := widths[i] - lipgloss.Width(cells[i])
		if pad < 0 {
			pad = 0
		}
		parts = append(parts, cells[i]+strings.Repeat(" ", pad))
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// Box prints content inside a titled border.
func (o *Output) Box(title string, content []string) {
	body := o.styled(boldStyle, title)
	if len(content) > 0 {
		body += "\n" + strings.Join(content, "\n")
	}
	st := lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	if o.colorEnabled {
		st = st.BorderForeground(lipgloss.Color("8"))
	}
	o.Println(st.Render(body))
}
