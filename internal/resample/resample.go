// Package resample reduces a series to a bounded number of aggregate candles
// for display.
package resample

import (
	"KlineAnalyzer/internal/model"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Factor returns how many rows go into one aggregate row, or 1 when the series
// already fits in maxPoints.
func Factor(length, maxPoints int) int {
	if maxPoints <= 0 || length <= maxPoints {
		return 1
	}
	return (length + maxPoints - 1) / maxPoints
}

// Resample groups consecutive rows into chunks of ceil(len/maxPoints) and
// reduces each chunk to one row: first timestamp and open, max high, min low,
// last close, summed volume and turnover. Every derived column takes the
// value of the chunk's last row. A series that already fits, or a
// non-positive maxPoints, is returned as is.
func Resample(series *model.Series, maxPoints int) *model.Series {
	n := series.Len()
	f := Factor(n, maxPoints)
	if f == 1 {
		return series
	}

	out := series.CloneEmpty((n + f - 1) / f)
	for start := 0; start < n; start += f {
		end := min(start+f, n)
		out.Rows = append(out.Rows, reduce(series.Rows[start:end]))
	}
	return out
}

func reduce(group []model.Row) model.Row {
	first, last := group[0], group[len(group)-1]
	c := model.Candle{
		Timestamp: first.Timestamp,
		Open:      first.Open,
		Close:     last.Close,
	}
	for _, r := range group {
		c.High = pick(c.High, r.High, decimal.Decimal.GreaterThan)
		c.Low = pick(c.Low, r.Low, decimal.Decimal.LessThan)
		c.Volume = add(c.Volume, r.Volume)
		c.Turnover = add(c.Turnover, r.Turnover)
	}
	return model.Row{Candle: c, Values: append([]null.Float(nil), last.Values...)}
}

// pick keeps cur unless v is valid and better by cmp. Nulls are skipped.
func pick(cur, v decimal.NullDecimal, better func(a, b decimal.Decimal) bool) decimal.NullDecimal {
	if !v.Valid {
		return cur
	}
	if !cur.Valid || better(v.Decimal, cur.Decimal) {
		return v
	}
	return cur
}

// add sums valid values; the result is null only if every input is null.
func add(sum, v decimal.NullDecimal) decimal.NullDecimal {
	if !v.Valid {
		return sum
	}
	if !sum.Valid {
		return v
	}
	return decimal.NewNullDecimal(sum.Decimal.Add(v.Decimal))
}
