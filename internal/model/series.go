package model

import (
	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
)

// Row is a candle plus derived column values aligned with Series.Columns.
type Row struct {
	Candle
	Values []null.Float
}

// Series is an ascending, timestamp-unique sequence of rows.
// Transformations return new Series values and leave their input untouched.
type Series struct {
	Symbol    string
	Interval  string
	IndexName string // name of the time index; empty means unnamed
	Columns   []string
	Rows      []Row
}

// NewSeries wraps already-sorted candles into a series without derived columns.
func NewSeries(symbol, interval string, candles []Candle) *Series {
	rows := make([]Row, len(candles))
	for i, c := range candles {
		rows[i] = Row{Candle: c}
	}
	return &Series{
		Symbol:    symbol,
		Interval:  interval,
		IndexName: "timestamp",
		Rows:      rows,
	}
}

// Len returns the number of rows; a nil series has length zero.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// ColumnIndex returns the position of a derived column, or -1.
func (s *Series) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether a derived column is present.
func (s *Series) HasColumn(name string) bool { return s.ColumnIndex(name) >= 0 }

// Value returns row i's value for the named column; null if the column is absent.
func (s *Series) Value(i int, name string) null.Float {
	idx := s.ColumnIndex(name)
	if idx < 0 {
		return null.Float{}
	}
	return s.Rows[i].Values[idx]
}

// CloneEmpty returns a series with the same metadata and columns but no rows.
func (s *Series) CloneEmpty(capacity int) *Series {
	cols := make([]string, len(s.Columns))
	copy(cols, s.Columns)
	return &Series{
		Symbol:    s.Symbol,
		Interval:  s.Interval,
		IndexName: s.IndexName,
		Columns:   cols,
		Rows:      make([]Row, 0, capacity),
	}
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	out := s.CloneEmpty(len(s.Rows))
	for _, r := range s.Rows {
		out.Rows = append(out.Rows, r.Clone())
	}
	return out
}

// Clone returns a copy of the row that shares no values with r.
func (r Row) Clone() Row {
	vals := make([]null.Float, len(r.Values))
	copy(vals, r.Values)
	return Row{Candle: r.Candle, Values: vals}
}

// Validate checks the series invariants: strictly increasing timestamps and
// values aligned with the declared columns.
func (s *Series) Validate() error {
	if s == nil {
		return errors.New("nil series")
	}
	for i, r := range s.Rows {
		if len(r.Values) != len(s.Columns) {
			return errors.Errorf("row %d has %d values for %d columns", i, len(r.Values), len(s.Columns))
		}
		if i > 0 && r.Timestamp <= s.Rows[i-1].Timestamp {
			return errors.Errorf("row %d timestamp %d not after %d", i, r.Timestamp, s.Rows[i-1].Timestamp)
		}
	}
	return nil
}
