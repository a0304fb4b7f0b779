// Package export writes a series as a flat CSV table restricted to a
// selection of field groups.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"KlineAnalyzer/internal/model"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrNothingToExport is returned for an empty series or an empty column set.
var ErrNothingToExport = errors.New("nothing to export")

// TimeLayout formats the index column.
const TimeLayout = "2006-01-02 15:04:05"

// Group is a user-facing field group backed by one or more columns.
type Group struct {
	Key     string
	Label   string
	Columns []string
	// RequireAll makes the group available only when every column exists.
	RequireAll bool
	AlwaysOn   bool
}

// Groups lists the field groups in export order.
var Groups = []Group{
	{Key: "ohlc", Label: "OHLC", Columns: []string{"open", "high", "low", "close"}, AlwaysOn: true},
	{Key: "volume", Label: "Volume", Columns: []string{"volume"}},
	{Key: "turnover", Label: "Turnover", Columns: []string{"turnover"}},
	{Key: "sma_20", Label: "SMA (20)", Columns: []string{model.ColSMA20}},
	{Key: "ema_20", Label: "EMA (20)", Columns: []string{model.ColEMA20}},
	{Key: "bb_bands", Label: "Bollinger Bands", Columns: []string{model.ColBBMiddle, model.ColBBUpper, model.ColBBLower}, RequireAll: true},
	{Key: "rsi_14", Label: "RSI (14)", Columns: []string{model.ColRSI14}},
}

// Selection maps a group key to whether it is included.
type Selection map[string]bool

func lookupGroup(key string) (Group, bool) {
	for _, g := range Groups {
		if g.Key == key {
			return g, true
		}
	}
	return Group{}, false
}

// hasColumn reports whether series carries the column. Candle fields always exist.
func hasColumn(series *model.Series, name string) bool {
	if model.KindOf(name).IsFixed() {
		return true
	}
	return series.HasColumn(name)
}

// Available reports whether the group can be exported from series.
func (g Group) Available(series *model.Series) bool {
	for _, c := range g.Columns {
		has := hasColumn(series, c)
		if g.RequireAll && !has {
			return false
		}
		if !g.RequireAll && has {
			return true
		}
	}
	return g.RequireAll
}

// DefaultSelection enables every group available on series.
func DefaultSelection(series *model.Series) Selection {
	sel := Selection{}
	for _, g := range Groups {
		sel[g.Key] = g.AlwaysOn || g.Available(series)
	}
	return sel
}

// ParseSelection enables the named groups. OHLC is always on.
func ParseSelection(keys []string) (Selection, error) {
	sel := Selection{}
	for _, g := range Groups {
		sel[g.Key] = g.AlwaysOn
	}
	for _, k := range keys {
		if _, ok := lookupGroup(k); !ok {
			return nil, errors.Errorf("unknown export field %q", k)
		}
		sel[k] = true
	}
	return sel, nil
}

// Columns resolves the selection against series into a stable, deduplicated
// column list in group order.
func Columns(series *model.Series, sel Selection) []string {
	seen := map[string]bool{}
	var cols []string
	for _, g := range Groups {
		if !(g.AlwaysOn || sel[g.Key]) || !g.Available(series) {
			continue
		}
		for _, c := range g.Columns {
			if hasColumn(series, c) && !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// WriteCSV writes the selected columns of series to w. The time column comes
// first and only when the series index is named. Nulls are empty cells.
func WriteCSV(w io.Writer, series *model.Series, sel Selection) error {
	if series.Len() == 0 {
		return ErrNothingToExport
	}
	cols := Columns(series, sel)
	if len(cols) == 0 {
		return ErrNothingToExport
	}

	withIndex := series.IndexName != ""
	header := make([]string, 0, len(cols)+1)
	if withIndex {
		header = append(header, series.IndexName)
	}
	header = append(header, cols...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}
	record := make([]string, len(header))
	for i, r := range series.Rows {
		record = record[:0]
		if withIndex {
			record = append(record, r.Time().Format(TimeLayout))
		}
		for _, c := range cols {
			record = append(record, cell(series, i, c))
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "write row %d", i)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// SaveCSV writes the export to path, replacing any existing file.
func SaveCSV(path string, series *model.Series, sel Selection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create export dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create export file")
	}
	if err := WriteCSV(f, series, sel); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close export file")
}

func cell(series *model.Series, i int, col string) string {
	r := series.Rows[i]
	switch model.KindOf(col) {
	case model.KindOpen:
		return decimalCell(r.Open)
	case model.KindHigh:
		return decimalCell(r.High)
	case model.KindLow:
		return decimalCell(r.Low)
	case model.KindClose:
		return decimalCell(r.Close)
	case model.KindVolume:
		return decimalCell(r.Volume)
	case model.KindTurnover:
		return decimalCell(r.Turnover)
	}
	v := series.Value(i, col)
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func decimalCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
