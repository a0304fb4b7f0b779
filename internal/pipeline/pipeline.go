// Package pipeline runs one kline job end to end: assemble, compute
// indicators, then derive the display and export series.
package pipeline

import (
	"context"
	"time"

	"KlineAnalyzer/internal/calculator"
	"KlineAnalyzer/internal/collector"
	"KlineAnalyzer/internal/export"
	"KlineAnalyzer/internal/filter"
	"KlineAnalyzer/internal/logger"
	"KlineAnalyzer/internal/metrics"
	"KlineAnalyzer/internal/model"
	"KlineAnalyzer/internal/recorder"
	"KlineAnalyzer/internal/resample"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Job is one request to download and process a range of klines.
type Job struct {
	Symbol         string
	Interval       string
	StartMS        int64
	EndMS          int64
	PageSize       int
	MaxPoints      int
	Indicators     model.IndicatorFlags
	DropIncomplete bool
	ExportPath     string
	ExportFields   []string // empty means every available group
	Progress       chan<- collector.Progress
}

// Result holds every series a run produced.
type Result struct {
	Job      Job
	RunID    string
	Full     *model.Series
	Display  *model.Series
	Export   *model.Series
	Pages    int
	Stop     collector.StopReason
	Exported bool
	Duration time.Duration
}

// Pipeline wires the stages together. Recorder may be nil.
type Pipeline struct {
	Assembler *collector.Assembler
	Recorder  recorder.Recorder
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func New(a *collector.Assembler, rec recorder.Recorder, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Pipeline{Assembler: a, Recorder: rec, Metrics: m, Logger: logger.OrNop(log)}
}

// Run executes the stages strictly in sequence. Only ingestion failure of the
// first page, a malformed series and export errors are returned; an empty
// download ends the run early without error.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	began := time.Now()
	log := logger.OrNop(p.Logger).With(zap.String("symbol", job.Symbol), zap.String("interval", job.Interval))

	run := recorder.NewRun(job.Symbol, job.Interval, job.StartMS, job.EndMS, job.Indicators)
	res := &Result{Job: job, RunID: run.ID}

	stageStart := time.Now()
	assembled, err := p.Assembler.Assemble(ctx, collector.Request{
		Symbol:   job.Symbol,
		Interval: job.Interval,
		StartMS:  job.StartMS,
		EndMS:    job.EndMS,
		PageSize: job.PageSize,
		Progress: job.Progress,
	})
	p.Metrics.ObserveStage("assemble", stageStart)
	if err != nil {
		return nil, errors.Wrap(err, "assemble")
	}
	res.Pages, res.Stop = assembled.Pages, assembled.Stop
	run.Pages, run.StopReason = assembled.Pages, string(assembled.Stop)

	if assembled.Series.Len() == 0 {
		log.Warn("no candles downloaded, skipping processing", zap.String("stop", string(assembled.Stop)))
		res.Full, res.Display, res.Export = assembled.Series, assembled.Series, assembled.Series
		res.Duration = time.Since(began)
		return res, nil
	}

	stageStart = time.Now()
	full, err := calculator.Compute(assembled.Series, job.Indicators)
	p.Metrics.ObserveStage("compute", stageStart)
	if err != nil {
		return nil, errors.Wrap(err, "compute indicators")
	}
	res.Full = full

	stageStart = time.Now()
	res.Display = resample.Resample(full, job.MaxPoints)
	p.Metrics.ObserveStage("resample", stageStart)

	res.Export = full
	if job.DropIncomplete {
		stageStart = time.Now()
		res.Export = filter.DropIncomplete(full, job.Indicators)
		p.Metrics.ObserveStage("filter", stageStart)
		log.Info("incomplete rows dropped", zap.Int("removed", full.Len()-res.Export.Len()))
	}

	if err := p.export(run, res, job); err != nil {
		return nil, err
	}

	res.Duration = time.Since(began)
	log.Info("run complete",
		zap.String("run_id", run.ID),
		zap.Int("candles", full.Len()),
		zap.Int("display", res.Display.Len()),
		zap.Int("export", res.Export.Len()),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}

func (p *Pipeline) export(run *recorder.Run, res *Result, job Job) error {
	stageStart := time.Now()
	defer p.Metrics.ObserveStage("export", stageStart)

	if job.ExportPath != "" {
		sel := export.DefaultSelection(res.Export)
		if len(job.ExportFields) > 0 {
			var err error
			if sel, err = export.ParseSelection(job.ExportFields); err != nil {
				return errors.Wrap(err, "export selection")
			}
		}
		err := export.SaveCSV(job.ExportPath, res.Export, sel)
		switch {
		case errors.Is(err, export.ErrNothingToExport):
			logger.OrNop(p.Logger).Warn("nothing to export", zap.String("path", job.ExportPath))
		case err != nil:
			return errors.Wrap(err, "export csv")
		default:
			res.Exported = true
		}
	}

	if p.Recorder == nil {
		return nil
	}
	run.FinishedAt = time.Now().UTC()
	if err := p.Recorder.RecordRun(run, res.Export); err != nil {
		return errors.Wrap(err, "record run")
	}
	return nil
}
