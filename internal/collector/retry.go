package collector

import (
	"context"
	"time"

	"KlineAnalyzer/internal/logger"
	"KlineAnalyzer/internal/metrics"
	"KlineAnalyzer/internal/model"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 50 * time.Millisecond
)

// RetryFetcher retries a PageFetcher a bounded number of times with a fixed delay.
type RetryFetcher struct {
	Next        PageFetcher
	MaxAttempts int
	Delay       time.Duration
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// NewRetryFetcher wraps next with the default attempt bound and delay.
func NewRetryFetcher(next PageFetcher, m *metrics.Metrics, log *zap.Logger) *RetryFetcher {
	return &RetryFetcher{
		Next:        next,
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Metrics:     m,
		Logger:      logger.OrNop(log),
	}
}

func (r *RetryFetcher) Name() string { return r.Next.Name() }

// FetchPage tries the wrapped fetcher until it succeeds, the attempts run out
// or ctx is done. Only TransientFetchErrors are retried. The last error is
// returned wrapped.
func (r *RetryFetcher) FetchPage(ctx context.Context, req PageRequest) ([]model.RawCandle, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	log := logger.OrNop(r.Logger)

	var lastErr error
	made := 0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			r.Metrics.IncRetries()
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(r.Delay):
			}
		}
		page, err := r.Next.FetchPage(ctx, req)
		made++
		if err == nil {
			return page, nil
		}
		lastErr = err
		log.Warn("page fetch attempt failed",
			zap.String("fetcher", r.Next.Name()),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Int64("end", req.EndMS),
			zap.Error(err),
		)
		if ctx.Err() != nil || !IsTransient(err) {
			break
		}
	}
	r.Metrics.IncFailures()
	return nil, errors.Wrapf(lastErr, "fetch page after %d attempts", made)
}
