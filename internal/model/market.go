package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Candle represents a single OHLCV bar keyed by its opening instant.
// Numeric fields are null when the source sent NaN or an unparsable value.
type Candle struct {
	Timestamp int64 // milliseconds since epoch
	Open      decimal.NullDecimal
	High      decimal.NullDecimal
	Low       decimal.NullDecimal
	Close     decimal.NullDecimal
	Volume    decimal.NullDecimal
	Turnover  decimal.NullDecimal
}

// Time returns the candle timestamp as a UTC time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// CloseFloat returns the close as float64, or NaN when the close is null.
func (c Candle) CloseFloat() float64 {
	if !c.Close.Valid {
		return math.NaN()
	}
	return c.Close.Decimal.InexactFloat64()
}

// RawCandle is one kline record as returned by the exchange:
// [timestamp, open, high, low, close, volume, turnover].
// Elements are strings or JSON numbers.
type RawCandle []any

// rawFields is the fixed length of a kline tuple.
const rawFields = 7

// ParseRawCandle converts a raw tuple into a Candle. Only the timestamp is
// mandatory; numeric fields that cannot be parsed become null.
func ParseRawCandle(raw RawCandle) (Candle, error) {
	if len(raw) < 1 {
		return Candle{}, errors.New("empty kline record")
	}
	ts, err := parseTimestamp(raw[0])
	if err != nil {
		return Candle{}, errors.Wrap(err, "parse kline timestamp")
	}
	c := Candle{Timestamp: ts}
	fields := []*decimal.NullDecimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Turnover}
	for i, dst := range fields {
		if i+1 < len(raw) && i+1 < rawFields {
			*dst = parseDecimal(raw[i+1])
		}
	}
	return c, nil
}

func parseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case json.Number:
		return t.Int64()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, errors.Errorf("invalid timestamp %v", t)
		}
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	default:
		return 0, errors.Errorf("unsupported timestamp type %T", v)
	}
}

func parseDecimal(v any) decimal.NullDecimal {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(t))
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(t))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(t)))
	case nil:
		return decimal.NullDecimal{}
	default:
		s = fmt.Sprint(t)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
