package resample

import (
	"testing"

	"KlineAnalyzer/internal/model"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

// buildSeries makes n rows with varied prices and an indicator plus a
// passthrough column.
func buildSeries(n int) *model.Series {
	candles := make([]model.Candle, n)
	for i := range candles {
		base := decimal.NewFromInt(int64(100 + (i*37)%23))
		candles[i] = model.Candle{
			Timestamp: int64(i) * 60_000,
			Open:      decimal.NewNullDecimal(base),
			High:      decimal.NewNullDecimal(base.Add(decimal.RequireFromString("1.5"))),
			Low:       decimal.NewNullDecimal(base.Sub(decimal.RequireFromString("0.75"))),
			Close:     decimal.NewNullDecimal(base.Add(decimal.NewFromInt(int64(i % 3)))),
			Volume:    dec("0.1"),
			Turnover:  decimal.NewNullDecimal(decimal.NewFromInt(int64(i))),
		}
	}
	s := model.NewSeries("BTCUSDT", "1", candles)
	s.Columns = []string{model.ColRSI14, "funding_rate"}
	for i := range s.Rows {
		s.Rows[i].Values = []null.Float{null.FloatFrom(float64(i)), null.FloatFrom(float64(-i))}
	}
	return s
}

func TestFactor(t *testing.T) {
	assert.Equal(t, 1, Factor(10, 10))
	assert.Equal(t, 2, Factor(11, 10))
	assert.Equal(t, 3, Factor(1000, 400))
	assert.Equal(t, 1, Factor(1000, 0))
}

func TestResample_Identity(t *testing.T) {
	s := buildSeries(200)
	assert.Same(t, s, Resample(s, 200))
	assert.Same(t, s, Resample(s, 500))
	assert.Same(t, s, Resample(s, 0))

	empty := model.NewSeries("X", "1", nil)
	assert.Same(t, empty, Resample(empty, 10))
}

func TestResample_Conservation(t *testing.T) {
	s := buildSeries(1003)
	out := Resample(s, 200)

	f := Factor(1003, 200)
	require.Equal(t, 6, f)
	require.Equal(t, 168, out.Len())
	require.NoError(t, out.Validate())
	assert.Equal(t, s.Columns, out.Columns)

	for g, agg := range out.Rows {
		start := g * f
		end := min(start+f, s.Len())
		group := s.Rows[start:end]

		assert.Equal(t, group[0].Timestamp, agg.Timestamp)
		assert.True(t, group[0].Open.Decimal.Equal(agg.Open.Decimal))
		assert.True(t, group[len(group)-1].Close.Decimal.Equal(agg.Close.Decimal))

		vol := decimal.Zero
		turn := decimal.Zero
		for _, r := range group {
			vol = vol.Add(r.Volume.Decimal)
			turn = turn.Add(r.Turnover.Decimal)
			assert.True(t, agg.High.Decimal.GreaterThanOrEqual(r.High.Decimal))
			assert.True(t, agg.Low.Decimal.LessThanOrEqual(r.Low.Decimal))
		}
		assert.True(t, vol.Equal(agg.Volume.Decimal), "group %d volume %s != %s", g, agg.Volume.Decimal, vol)
		assert.True(t, turn.Equal(agg.Turnover.Decimal))

		assert.Equal(t, group[len(group)-1].Values, agg.Values)
	}

	last := out.Rows[out.Len()-1]
	assert.Equal(t, int64(1002), int64(last.Values[0].Float64))
}

func TestResample_DoesNotMutateInput(t *testing.T) {
	s := buildSeries(50)
	out := Resample(s, 10)
	out.Rows[0].Values[0] = null.FloatFrom(999)
	assert.Equal(t, 4.0, s.Rows[4].Values[0].Float64)
	assert.Equal(t, 50, s.Len())
}

func TestResample_NullHandling(t *testing.T) {
	candles := []model.Candle{
		{Timestamp: 1, Open: dec("1"), High: dec("5"), Low: dec("1"), Close: dec("2")},
		{Timestamp: 2, Open: dec("2"), Low: dec("0.5"), Close: dec("3"), Volume: dec("4")},
		{Timestamp: 3, Open: dec("3"), High: dec("4"), Low: dec("2")},
		{Timestamp: 4, Open: dec("3"), High: dec("4"), Low: dec("2"), Close: dec("3")},
	}
	out := Resample(model.NewSeries("X", "1", candles), 2)
	require.Equal(t, 2, out.Len())

	first := out.Rows[0]
	assert.Equal(t, "5", first.High.Decimal.String())
	assert.Equal(t, "0.5", first.Low.Decimal.String())
	assert.Equal(t, "4", first.Volume.Decimal.String())
	assert.False(t, first.Turnover.Valid)

	second := out.Rows[1]
	assert.False(t, second.Volume.Valid)
	assert.Equal(t, "3", second.Close.Decimal.String())
}

func TestResample_LastRowCloseIsLiteral(t *testing.T) {
	candles := []model.Candle{
		{Timestamp: 1, Close: dec("1")},
		{Timestamp: 2},
	}
	out := Resample(model.NewSeries("X", "1", candles), 1)
	require.Equal(t, 1, out.Len())
	assert.False(t, out.Rows[0].Close.Valid)
}
