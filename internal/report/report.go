// Package report renders run summaries and progress lines for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"KlineAnalyzer/internal/calculator"
	"KlineAnalyzer/internal/collector"
	"KlineAnalyzer/internal/model"
	"KlineAnalyzer/internal/pipeline"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	barFull    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

const timeLayout = "2006-01-02 15:04"

// FormatRun formats a finished run into a boxed terminal summary.
func FormatRun(job pipeline.Job, res *pipeline.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("KlineAnalyzer | %s %s", job.Symbol, job.Interval)))
	b.WriteString("\n\n")

	line := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	full := res.Full
	line("Requested", fmt.Sprintf("%s → %s",
		time.UnixMilli(job.StartMS).UTC().Format(timeLayout),
		time.UnixMilli(job.EndMS).UTC().Format(timeLayout)))
	line("Candles", fmt.Sprintf("%s in %s pages (%s)",
		humanize.Comma(int64(full.Len())), humanize.Comma(int64(res.Pages)), res.Stop))

	if full.Len() == 0 {
		b.WriteString(warnStyle.Render("No data returned for this range."))
		return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
	}

	first, last := full.Rows[0], full.Rows[full.Len()-1]
	line("Covered", fmt.Sprintf("%s → %s",
		first.Time().Format(timeLayout), last.Time().Format(timeLayout)))

	if high, low, err := calculator.PriceRange(full); err == nil {
		line("High / Low", fmt.Sprintf("%s / %s", high.StringFixed(2), low.StringFixed(2)))
		if last.Close.Valid {
			if pos, err := calculator.RangePosition(last.Close.Decimal, high, low); err == nil {
				line("Last close", fmt.Sprintf("%s (%.0f%% of range)", last.Close.Decimal.StringFixed(2), pos*100))
			}
		}
	}

	for _, col := range full.Columns {
		if model.KindOf(col) != model.KindIndicator {
			continue
		}
		v := full.Value(full.Len()-1, col)
		if v.Valid {
			line(col, humanize.CommafWithDigits(v.Float64, 2))
		} else {
			line(col, "n/a")
		}
	}

	line("Display", fmt.Sprintf("%s points (max %d)", humanize.Comma(int64(res.Display.Len())), job.MaxPoints))
	exported := fmt.Sprintf("%s rows", humanize.Comma(int64(res.Export.Len())))
	if res.Exported {
		exported += " → " + job.ExportPath
	}
	line("Export", exported)
	line("Took", res.Duration.Round(time.Millisecond).String())

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// FormatProgress renders a one-line progress bar of the given width.
func FormatProgress(p collector.Progress, width int) string {
	if width <= 0 {
		width = 30
	}
	pct := min(max(p.Percent, 0), 100)
	filled := width * pct / 100
	bar := barFull.Render(strings.Repeat("█", filled)) + strings.Repeat("░", width-filled)
	return fmt.Sprintf("%s %3d%% %s candles", bar, pct, humanize.Comma(int64(p.Candles)))
}

// FormatError formats a failed run.
func FormatError(job pipeline.Job, err error) string {
	return boxStyle.Render(
		titleStyle.Render(fmt.Sprintf("KlineAnalyzer | %s %s", job.Symbol, job.Interval)) + "\n\n" +
			warnStyle.Render("Run failed: "+err.Error()))
}
