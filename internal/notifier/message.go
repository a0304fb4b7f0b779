package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"KlineAnalyzer/internal/model"
	"KlineAnalyzer/internal/pipeline"

	"github.com/dustin/go-humanize"
)

const msgTimeLayout = "2006-01-02 15:04"

// FormatRunMessage formats a finished run as a Telegram HTML message.
func FormatRunMessage(res *pipeline.Result) string {
	job := res.Job
	var b strings.Builder

	fmt.Fprintf(&b, "📊 <b>%s %s</b> | %s\n\n",
		html.EscapeString(job.Symbol), html.EscapeString(job.Interval),
		time.UnixMilli(job.EndMS).UTC().Format(msgTimeLayout))
	fmt.Fprintf(&b, "Candles: %s in %d pages (%s)\n",
		humanize.Comma(int64(res.Full.Len())), res.Pages, res.Stop)

	if res.Full.Len() == 0 {
		b.WriteString("No data returned for this range.")
		return b.String()
	}

	last := res.Full.Len() - 1
	row := res.Full.Rows[last]
	if row.Close.Valid {
		fmt.Fprintf(&b, "Last close: %s\n", row.Close.Decimal.StringFixed(2))
	}
	for _, col := range res.Full.Columns {
		if model.KindOf(col) != model.KindIndicator {
			continue
		}
		if v := res.Full.Value(last, col); v.Valid {
			fmt.Fprintf(&b, "%s: %.2f\n", col, v.Float64)
		}
	}
	if res.Exported {
		fmt.Fprintf(&b, "\nExported %s rows to <code>%s</code>",
			humanize.Comma(int64(res.Export.Len())), html.EscapeString(job.ExportPath))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFailureMessage formats a failed scheduled run.
func FormatFailureMessage(job pipeline.Job, err error) string {
	return fmt.Sprintf("⚠️ <b>%s %s</b> run failed: %s",
		html.EscapeString(job.Symbol), html.EscapeString(job.Interval), html.EscapeString(err.Error()))
}
