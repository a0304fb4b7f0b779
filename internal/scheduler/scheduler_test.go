package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"KlineAnalyzer/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner blocks each run until its context is cancelled or release is closed.
type blockingRunner struct {
	started   chan struct{}
	release   chan struct{}
	cancelled atomic.Int32
	runs      atomic.Int32
}

func (b *blockingRunner) Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error) {
	b.runs.Add(1)
	b.started <- struct{}{}
	select {
	case <-ctx.Done():
		b.cancelled.Add(1)
		return nil, ctx.Err()
	case <-b.release:
		return &pipeline.Result{}, nil
	}
}

func fixedJob(time.Time) pipeline.Job { return pipeline.Job{Symbol: "BTCUSDT", Interval: "60"} }

func TestScheduler_RunNow(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	close(r.release)

	s := NewScheduler(context.Background(), r, fixedJob, nil)
	var got *pipeline.Result
	s.OnResult = func(_ pipeline.Job, res *pipeline.Result, err error) {
		assert.NoError(t, err)
		got = res
	}
	s.RunNow()
	assert.NotNil(t, got)
	assert.Equal(t, int32(1), r.runs.Load())
}

func TestScheduler_FailureReportsTheJobThatRan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}

	var built atomic.Int64
	jobAt := func(time.Time) pipeline.Job {
		return pipeline.Job{Symbol: "ETHUSDT", Interval: "D", EndMS: built.Add(1)}
	}
	s := NewScheduler(ctx, r, jobAt, nil)

	var got pipeline.Job
	var gotErr error
	s.OnResult = func(job pipeline.Job, _ *pipeline.Result, err error) {
		got, gotErr = job, err
	}
	s.RunNow()

	require.ErrorIs(t, gotErr, context.Canceled)
	assert.Equal(t, "ETHUSDT", got.Symbol)
	assert.Equal(t, int64(1), got.EndMS)
	assert.Equal(t, int64(1), built.Load())
}

func TestScheduler_NewTriggerSupersedesRunning(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{}, 2), release: make(chan struct{})}
	s := NewScheduler(context.Background(), r, fixedJob, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunNow()
	}()
	<-r.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunNow()
	}()
	<-r.started
	assert.Equal(t, int32(1), r.cancelled.Load())

	close(r.release)
	wg.Wait()
	assert.Equal(t, int32(2), r.runs.Load())
}

func TestScheduler_StopCancelsRunning(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewScheduler(context.Background(), r, fixedJob, nil)
	s.Start()

	finished := make(chan struct{})
	go func() {
		s.RunNow()
		close(finished)
	}()
	<-r.started
	s.Stop()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("running job was not cancelled")
	}
	assert.Equal(t, int32(1), r.cancelled.Load())
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(context.Background(), &blockingRunner{}, fixedJob, nil)
	require.NoError(t, s.Register("0 */5 * * * *"))
	assert.Error(t, s.Register("not a cron"))
	assert.Len(t, s.Cron.Entries(), 1)
}
