package recorder

import (
	"time"

	"KlineAnalyzer/internal/model"

	"github.com/google/uuid"
)

// Run describes one pipeline execution.
type Run struct {
	ID         string
	Symbol     string
	Interval   string
	StartMS    int64
	EndMS      int64
	Flags      model.IndicatorFlags
	Pages      int
	StopReason string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun creates a run with a fresh id.
func NewRun(symbol, interval string, startMS, endMS int64, flags model.IndicatorFlags) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Interval:  interval,
		StartMS:   startMS,
		EndMS:     endMS,
		Flags:     flags,
		StartedAt: time.Now().UTC(),
	}
}

// Recorder persists the single export of a run.
type Recorder interface {
	RecordRun(run *Run, series *model.Series) error
	Close() error
}
