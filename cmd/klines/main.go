package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KlineAnalyzer/internal/collector"
	"KlineAnalyzer/internal/config"
	"KlineAnalyzer/internal/logger"
	"KlineAnalyzer/internal/metrics"
	"KlineAnalyzer/internal/notifier"
	"KlineAnalyzer/internal/pipeline"
	"KlineAnalyzer/internal/recorder"
	"KlineAnalyzer/internal/report"
	"KlineAnalyzer/internal/scheduler"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run wires and runs the application and returns the process exit code.
// Deferred cleanup finishes before main exits.
func run() int {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.Log.Level, zap.String("service", "klines"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Error("config validation", zap.Error(err))
		return 1
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, reg, log)
	}

	// Fetcher chain: bybit -> retry -> optional cache.
	var fetcher collector.PageFetcher = collector.NewBybitFetcher(cfg.Source.BaseURL, cfg.Source.Category, cfg.Source.Proxy)
	retry := collector.NewRetryFetcher(fetcher, m, log)
	retry.MaxAttempts = cfg.Retry.MaxAttempts
	retry.Delay = cfg.Retry.Delay
	fetcher = retry
	if cfg.Cache.Addr != "" {
		client, err := collector.DialRedis(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			log.Warn("redis page cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer client.Close()
			cache := collector.NewRedisPageCache(client, cfg.Cache.Prefix, cfg.Cache.TTL)
			fetcher = collector.NewCachingFetcher(fetcher, cache, m, log)
		}
	}
	log.Info("data source", zap.String("fetcher", fetcher.Name()))

	assembler := collector.NewAssembler(fetcher, m, log)
	assembler.PageDelay = cfg.Source.PageDelay

	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn("init sqlite recorder failed, using noop", zap.Error(err))
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	p := pipeline.New(assembler, rec, m, log)
	jobAt := func(now time.Time) pipeline.Job {
		start, end := cfg.Job.Range(now)
		return pipeline.Job{
			Symbol:         cfg.Job.Symbol,
			Interval:       cfg.Job.Interval,
			StartMS:        start,
			EndMS:          end,
			PageSize:       cfg.Source.PageSize,
			MaxPoints:      cfg.Job.MaxPoints,
			Indicators:     cfg.Job.Indicators,
			DropIncomplete: cfg.Job.DropIncomplete,
			ExportPath:     cfg.Job.ExportPath,
			ExportFields:   cfg.Job.ExportFields,
		}
	}

	if cfg.Schedule.Cron == "" {
		if err := runOnce(ctx, p, jobAt(time.Now())); err != nil {
			log.Error("run failed", zap.Error(err))
			return 1
		}
		return 0
	}

	sched := scheduler.NewScheduler(ctx, p, jobAt, log)
	var notify notifier.Notifier
	if cfg.Notify.Enabled() {
		notify = notifier.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Source.Proxy, log)
	}
	sched.OnResult = func(job pipeline.Job, res *pipeline.Result, err error) {
		var msg string
		if err != nil {
			fmt.Println(report.FormatError(job, err))
			msg = notifier.FormatFailureMessage(job, err)
		} else {
			fmt.Println(report.FormatRun(job, res))
			msg = notifier.FormatRunMessage(res)
		}
		if notify != nil {
			if err := notify.Notify(ctx, msg); err != nil {
				log.Warn("send run notification", zap.Error(err))
			}
		}
	}
	if err := sched.Register(cfg.Schedule.Cron); err != nil {
		log.Error("register cron job", zap.Error(err))
		return 1
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Schedule.RunOnStart || os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, executing job now")
		go sched.RunNow()
	}

	log.Info("klines is running, press Ctrl+C to stop", zap.String("cron", cfg.Schedule.Cron))
	<-ctx.Done()
	log.Info("shutdown signal received, stopping")
	return 0
}

// runOnce executes the job on a worker goroutine while rendering progress here.
func runOnce(ctx context.Context, p *pipeline.Pipeline, job pipeline.Job) error {
	progress := make(chan collector.Progress, 16)
	job.Progress = progress

	type outcome struct {
		res *pipeline.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Run(ctx, job)
		done <- outcome{res, err}
	}()

	for {
		select {
		case pr := <-progress:
			fmt.Fprintf(os.Stderr, "\r%s", report.FormatProgress(pr, 30))
		case out := <-done:
			fmt.Fprintln(os.Stderr)
			if out.err != nil {
				fmt.Println(report.FormatError(job, out.err))
				return out.err
			}
			fmt.Println(report.FormatRun(job, out.res))
			return nil
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", zap.Error(err))
	}
}
