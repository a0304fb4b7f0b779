package model

// Indicator column names.
const (
	ColSMA20    = "SMA_20"
	ColEMA20    = "EMA_20"
	ColBBMiddle = "BBM_20_2.0"
	ColBBUpper  = "BBU_20_2.0"
	ColBBLower  = "BBL_20_2.0"
	ColRSI14    = "RSI_14"
)

// IndicatorFlags selects which indicator groups are computed or required.
type IndicatorFlags struct {
	MA  bool `yaml:"ma" env:"MA"`
	BB  bool `yaml:"bb" env:"BB"`
	RSI bool `yaml:"rsi" env:"RSI"`
}

// Any reports whether at least one group is selected.
func (f IndicatorFlags) Any() bool { return f.MA || f.BB || f.RSI }

// ColumnKind classifies a series column.
type ColumnKind int

const (
	KindOpen ColumnKind = iota
	KindHigh
	KindLow
	KindClose
	KindVolume
	KindTurnover
	KindIndicator
	KindPassthrough
)

var fixedColumns = map[string]ColumnKind{
	"open":     KindOpen,
	"high":     KindHigh,
	"low":      KindLow,
	"close":    KindClose,
	"volume":   KindVolume,
	"turnover": KindTurnover,
}

var indicatorColumns = map[string]bool{
	ColSMA20:    true,
	ColEMA20:    true,
	ColBBMiddle: true,
	ColBBUpper:  true,
	ColBBLower:  true,
	ColRSI14:    true,
}

// KindOf returns the kind of a column name. Names outside the fixed candle set
// and the known indicators are passthrough columns.
func KindOf(name string) ColumnKind {
	if k, ok := fixedColumns[name]; ok {
		return k
	}
	if indicatorColumns[name] {
		return KindIndicator
	}
	return KindPassthrough
}

// IsFixed reports whether the kind is stored on Candle rather than in Row.Values.
func (k ColumnKind) IsFixed() bool { return k <= KindTurnover }
