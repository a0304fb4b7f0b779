package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"KlineAnalyzer/internal/collector"
	"KlineAnalyzer/internal/metrics"
	"KlineAnalyzer/internal/model"
	"KlineAnalyzer/internal/recorder"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minute = int64(60_000)

func newPipeline(t *testing.T, f collector.PageFetcher, rec recorder.Recorder) *Pipeline {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	a := &collector.Assembler{Fetcher: f, Metrics: m}
	return New(a, rec, m, nil)
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	rec, err := recorder.NewSQLiteRecorder(filepath.Join(dir, "runs.db"), nil)
	require.NoError(t, err)
	defer rec.Close()

	src := &collector.MockFetcher{Price: 100, StepMS: minute}
	p := newPipeline(t, src, rec)

	job := Job{
		Symbol:         "BTCUSDT",
		Interval:       "1",
		StartMS:        minute * 1000,
		EndMS:          minute * 3499,
		PageSize:       1000,
		MaxPoints:      200,
		Indicators:     model.IndicatorFlags{MA: true, BB: true, RSI: true},
		DropIncomplete: true,
		ExportPath:     filepath.Join(dir, "out.csv"),
	}
	res, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	require.Equal(t, 2500, res.Full.Len())
	require.NoError(t, res.Full.Validate())
	require.NoError(t, res.Display.Validate())
	require.NoError(t, res.Export.Validate())

	assert.Equal(t, 193, res.Display.Len())
	assert.Equal(t, 2450, res.Export.Len(), "RSI stays null until the first falling close")
	assert.Len(t, res.Full.Columns, 6)
	assert.True(t, res.Exported)
	assert.Equal(t, collector.StopCrossedStart, res.Stop)

	data, err := os.ReadFile(job.ExportPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, res.Export.Len()+1)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,open,high,low,close,volume,turnover,SMA_20,EMA_20,BBM_20_2.0"))

	n, err := rec.CandleCount(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Export.Len(), n)
}

func TestRun_ExportFieldsRestrictColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	p := newPipeline(t, &collector.MockFetcher{Price: 50, StepMS: minute}, nil)

	_, err := p.Run(context.Background(), Job{
		Symbol:       "ETHUSDT",
		Interval:     "1",
		StartMS:      minute * 10,
		EndMS:        minute * 109,
		MaxPoints:    50,
		Indicators:   model.IndicatorFlags{RSI: true},
		ExportPath:   path,
		ExportFields: []string{"rsi_14"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "timestamp,open,high,low,close,RSI_14\n"))
}

func TestRun_EmptyDownloadIsNotAnError(t *testing.T) {
	p := newPipeline(t, &collector.MockFetcher{Pages: [][]model.RawCandle{{}}}, nil)
	res, err := p.Run(context.Background(), Job{Symbol: "X", Interval: "1", StartMS: 0, EndMS: 1000, MaxPoints: 50})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Full.Len())
	assert.Equal(t, collector.StopEmptyPage, res.Stop)
	assert.False(t, res.Exported)
}

func TestRun_FirstPageFailure(t *testing.T) {
	p := newPipeline(t, &collector.MockFetcher{Errors: []error{errors.New("down")}}, nil)
	_, err := p.Run(context.Background(), Job{Symbol: "X", Interval: "1", StartMS: 0, EndMS: 1000})
	require.Error(t, err)
	assert.ErrorIs(t, err, collector.ErrIngestionFailed)
}

func TestRun_BadExportField(t *testing.T) {
	src := &collector.MockFetcher{Price: 10, StepMS: minute}
	p := newPipeline(t, src, nil)
	_, err := p.Run(context.Background(), Job{
		Symbol: "X", Interval: "1", StartMS: minute, EndMS: minute * 30, MaxPoints: 50,
		ExportPath: filepath.Join(t.TempDir(), "x.csv"), ExportFields: []string{"macd"},
	})
	assert.Error(t, err)
}
