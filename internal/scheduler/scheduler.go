package scheduler

import (
	"context"
	"sync"
	"time"

	"KlineAnalyzer/internal/logger"
	"KlineAnalyzer/internal/pipeline"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner executes one pipeline job.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

// JobFunc builds the job for a trigger at the given time.
type JobFunc func(now time.Time) pipeline.Job

// Scheduler triggers pipeline runs on a cron spec. A new trigger cancels the
// run still in progress and waits for it before starting.
type Scheduler struct {
	Cron     *cron.Cron
	Runner   Runner
	Job      JobFunc
	OnResult func(pipeline.Job, *pipeline.Result, error) // receives the job that ran
	Logger   *zap.Logger

	ctx    context.Context
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new Scheduler whose runs derive from ctx.
func NewScheduler(ctx context.Context, runner Runner, job JobFunc, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Cron:   cron.New(cron.WithSeconds()),
		Runner: runner,
		Job:    job,
		Logger: logger.OrNop(log),
		ctx:    ctx,
	}
}

// Register adds the pipeline job on spec (six fields, with seconds).
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.trigger); err != nil {
		return errors.Wrapf(err, "register pipeline job %q", spec)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started")
}

// Stop cancels any running job and stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.Cron.Stop().Done()
	s.Logger.Info("scheduler stopped")
}

// RunNow executes the job immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.trigger()
}

func (s *Scheduler) trigger() {
	s.mu.Lock()
	if s.cancel != nil {
		s.Logger.Info("superseding running job")
		s.cancel()
		<-s.done
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	defer func() {
		cancel()
		close(done)
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
	}()

	job := s.Job(time.Now())
	s.Logger.Info("running pipeline job", zap.String("symbol", job.Symbol), zap.String("interval", job.Interval))
	res, err := s.Runner.Run(ctx, job)
	if err != nil {
		s.Logger.Error("pipeline job failed", zap.Error(err))
	}
	if s.OnResult != nil {
		s.OnResult(job, res, err)
	}
}
