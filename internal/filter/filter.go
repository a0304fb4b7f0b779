// Package filter removes warm-up rows whose requested indicators are not yet defined.
package filter

import (
	"KlineAnalyzer/internal/model"
)

var bbColumns = []string{model.ColBBMiddle, model.ColBBUpper, model.ColBBLower}

// ImplicatedColumns returns the indicator columns present on series that the
// requested groups depend on. Bollinger Bands count only when all three band
// columns exist.
func ImplicatedColumns(series *model.Series, flags model.IndicatorFlags) []string {
	var cols []string
	if flags.MA {
		for _, c := range []string{model.ColSMA20, model.ColEMA20} {
			if series.HasColumn(c) {
				cols = append(cols, c)
			}
		}
	}
	if flags.BB && hasAll(series, bbColumns) {
		cols = append(cols, bbColumns...)
	}
	if flags.RSI && series.HasColumn(model.ColRSI14) {
		cols = append(cols, model.ColRSI14)
	}
	return cols
}

func hasAll(series *model.Series, cols []string) bool {
	for _, c := range cols {
		if !series.HasColumn(c) {
			return false
		}
	}
	return true
}

// DropIncomplete returns a series without the rows where any implicated
// column is null. When nothing is implicated the input is returned as is.
func DropIncomplete(series *model.Series, flags model.IndicatorFlags) *model.Series {
	if series.Len() == 0 {
		return series
	}
	cols := ImplicatedColumns(series, flags)
	if len(cols) == 0 {
		return series
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = series.ColumnIndex(c)
	}

	out := series.CloneEmpty(series.Len())
rows:
	for _, r := range series.Rows {
		for _, j := range idx {
			if !r.Values[j].Valid {
				continue rows
			}
		}
		out.Rows = append(out.Rows, r.Clone())
	}
	return out
}
