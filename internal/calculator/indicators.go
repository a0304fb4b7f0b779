package calculator

import (
	"math"

	"KlineAnalyzer/internal/model"

	"github.com/guregu/null/v6"
	"github.com/markcheno/go-talib"
	"github.com/pkg/errors"
)

// ErrComputation is returned when the input series is malformed.
var ErrComputation = errors.New("indicator computation failed")

// windows holds the indicator periods. Production code always uses
// standardWindows; the column names are tied to them.
type windows struct {
	sma     int
	emaSpan int
	bb      int
	bbDev   float64
	rsiSpan int
}

var standardWindows = windows{sma: 20, emaSpan: 20, bb: 20, bbDev: 2.0, rsiSpan: 14}

// Compute returns a copy of series with the indicator columns selected by
// flags appended (or overwritten if already present), in the order SMA_20,
// EMA_20, BBM, BBU, BBL, RSI_14. Values are null during each warm-up.
func Compute(series *model.Series, flags model.IndicatorFlags) (*model.Series, error) {
	return compute(series, flags, standardWindows)
}

func compute(series *model.Series, flags model.IndicatorFlags, w windows) (*model.Series, error) {
	if err := series.Validate(); err != nil {
		return nil, errors.Wrapf(ErrComputation, "%v", err)
	}
	out := series.Clone()
	if out.Len() == 0 {
		return out, nil
	}

	closes := make([]float64, out.Len())
	for i, r := range out.Rows {
		closes[i] = r.CloseFloat()
	}

	if flags.MA {
		setColumn(out, model.ColSMA20, sma(closes, w.sma))
		setColumn(out, model.ColEMA20, ema(closes, w.emaSpan))
	}
	if flags.BB {
		upper, middle, lower := bollinger(closes, w.bb, w.bbDev)
		setColumn(out, model.ColBBMiddle, middle)
		setColumn(out, model.ColBBUpper, upper)
		setColumn(out, model.ColBBLower, lower)
	}
	if flags.RSI {
		setColumn(out, model.ColRSI14, rsi(closes, w.rsiSpan))
	}
	return out, nil
}

// setColumn writes vals into the named column, appending it when missing.
func setColumn(s *model.Series, name string, vals []null.Float) {
	idx := s.ColumnIndex(name)
	if idx < 0 {
		s.Columns = append(s.Columns, name)
		for i := range s.Rows {
			s.Rows[i].Values = append(s.Rows[i].Values, vals[i])
		}
		return
	}
	for i := range s.Rows {
		s.Rows[i].Values[idx] = vals[i]
	}
}

// validRuns calls fn for each maximal run of non-NaN values at least minLen long.
func validRuns(xs []float64, minLen int, fn func(start int, run []float64)) {
	start := -1
	for i := 0; i <= len(xs); i++ {
		if i < len(xs) && !math.IsNaN(xs[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minLen {
			fn(start, xs[start:i])
		}
		start = -1
	}
}

func sma(closes []float64, period int) []null.Float {
	out := make([]null.Float, len(closes))
	validRuns(closes, period, func(start int, run []float64) {
		vals := talib.Sma(run, period)
		for k := period - 1; k < len(run); k++ {
			out[start+k] = finite(vals[k])
		}
	})
	return out
}

// bollinger uses a population standard deviation around the simple mean.
// The deviation is taken in two passes per window; talib's StdDev clamps
// variances below 1e-14 to zero, which flattens the bands for sub-cent prices.
func bollinger(closes []float64, period int, dev float64) (upper, middle, lower []null.Float) {
	upper = make([]null.Float, len(closes))
	middle = make([]null.Float, len(closes))
	lower = make([]null.Float, len(closes))
	validRuns(closes, period, func(start int, run []float64) {
		means := talib.Sma(run, period)
		for k := period - 1; k < len(run); k++ {
			mean := means[k]
			half := dev * stdDev(run[k-period+1:k+1])
			upper[start+k] = finite(mean + half)
			middle[start+k] = finite(mean)
			lower[start+k] = finite(mean - half)
		}
	})
	return upper, middle, lower
}

// stdDev returns the population standard deviation of window. Values are
// shifted by the first element so a flat window yields exactly zero.
func stdDev(window []float64) float64 {
	n := float64(len(window))
	base := window[0]
	var mean float64
	for _, x := range window {
		mean += x - base
	}
	mean /= n
	var sum float64
	for _, x := range window {
		d := x - base - mean
		sum += d * d
	}
	return math.Sqrt(sum / n)
}

// ema is seeded with the first non-null close; a null close repeats the
// previous value.
func ema(closes []float64, span int) []null.Float {
	alpha := 2.0 / float64(span+1)
	out := make([]null.Float, len(closes))
	seeded := false
	var prev float64
	for i, c := range closes {
		switch {
		case math.IsNaN(c):
		case !seeded:
			prev, seeded = c, true
		default:
			prev = alpha*c + (1-alpha)*prev
		}
		if seeded {
			out[i] = null.FloatFrom(prev)
		}
	}
	return out
}

// rsi smooths gains and losses exponentially with the given span. The first
// row has no delta and is null; a missing delta counts as no move. Rows with
// zero average loss are null.
func rsi(closes []float64, span int) []null.Float {
	alpha := 2.0 / float64(span+1)
	out := make([]null.Float, len(closes))
	var avgGain, avgLoss float64
	for i := range closes {
		var gain, loss float64
		if i > 0 {
			if d := closes[i] - closes[i-1]; !math.IsNaN(d) {
				gain = math.Max(d, 0)
				loss = math.Max(-d, 0)
			}
		}
		if i == 0 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}
		if i == 0 || avgLoss == 0 {
			continue
		}
		rs := avgGain / avgLoss
		out[i] = finite(100 - 100/(1+rs))
	}
	return out
}

func finite(v float64) null.Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}
