package calculator

import (
	"KlineAnalyzer/internal/model"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// PriceRange scans the series and returns the highest high and the lowest low.
// Null highs and lows are skipped.
func PriceRange(series *model.Series) (high, low decimal.Decimal, err error) {
	var hasHigh, hasLow bool
	for _, r := range series.Rows {
		if r.High.Valid && (!hasHigh || r.High.Decimal.GreaterThan(high)) {
			high, hasHigh = r.High.Decimal, true
		}
		if r.Low.Valid && (!hasLow || r.Low.Decimal.LessThan(low)) {
			low, hasLow = r.Low.Decimal, true
		}
	}
	if !hasHigh || !hasLow {
		return decimal.Zero, decimal.Zero, errors.New("no high/low in series")
	}
	return high, low, nil
}

// RangePosition returns where price sits within [low, high] (0.0~1.0).
func RangePosition(price, high, low decimal.Decimal) (float64, error) {
	if high.Equal(low) {
		return 0.5, nil
	}
	if high.LessThan(low) {
		return 0, errors.New("high must be >= low")
	}
	pos := price.Sub(low).Div(high.Sub(low)).InexactFloat64()
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos, nil
}
