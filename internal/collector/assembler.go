package collector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"KlineAnalyzer/internal/logger"
	"KlineAnalyzer/internal/metrics"
	"KlineAnalyzer/internal/model"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultPageDelay paces consecutive page requests.
const DefaultPageDelay = 100 * time.Millisecond

// StopReason tells why ingestion ended.
type StopReason string

const (
	StopEmptyPage    StopReason = "empty_page"
	StopCrossedStart StopReason = "crossed_start"
	StopReachedStart StopReason = "reached_start"
	StopFetchFailed  StopReason = "fetch_failed"
	StopCancelled    StopReason = "cancelled"
	StopNoProgress   StopReason = "no_progress"
)

// Progress is a best-effort status event emitted while assembling.
type Progress struct {
	Percent int
	Candles int
	Message string
}

// Request describes the range to assemble. Progress may be nil.
type Request struct {
	Symbol   string
	Interval string
	StartMS  int64
	EndMS    int64
	PageSize int
	Progress chan<- Progress
}

// Result is an assembled series plus how ingestion went.
type Result struct {
	Series *model.Series
	Pages  int
	Stop   StopReason
}

// Assembler walks a PageFetcher backward from the end of a range and stitches
// the pages into one ascending, deduplicated series.
type Assembler struct {
	Fetcher   PageFetcher
	PageDelay time.Duration
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewAssembler creates an Assembler with the default page delay.
func NewAssembler(fetcher PageFetcher, m *metrics.Metrics, log *zap.Logger) *Assembler {
	return &Assembler{
		Fetcher:   fetcher,
		PageDelay: DefaultPageDelay,
		Metrics:   m,
		Logger:    logger.OrNop(log),
	}
}

// Assemble fetches [StartMS, EndMS] page by page. Only a failure of the first
// page is returned as an error (wrapping ErrIngestionFailed); later failures
// and cancellation end ingestion and return what was collected.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	if req.EndMS < req.StartMS {
		return nil, errors.Errorf("invalid range: end %d before start %d", req.EndMS, req.StartMS)
	}
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	log := logger.OrNop(a.Logger).With(
		zap.String("symbol", req.Symbol),
		zap.String("interval", req.Interval),
	)
	log.Info("assembling klines",
		zap.Time("start", time.UnixMilli(req.StartMS).UTC()),
		zap.Time("end", time.UnixMilli(req.EndMS).UTC()),
		zap.String("fetcher", a.Fetcher.Name()),
	)
	emit(req.Progress, Progress{Message: "starting download"})

	st := &assembly{
		req:    req,
		seen:   make(map[int64]struct{}),
		minTS:  math.MaxInt64,
		maxTS:  math.MinInt64,
		logger: log,
	}
	cursor := req.EndMS
	pages := 0
	var stop StopReason

	for {
		if ctx.Err() != nil {
			stop = StopCancelled
			break
		}
		raw, err := a.Fetcher.FetchPage(ctx, PageRequest{
			Symbol:   req.Symbol,
			Interval: req.Interval,
			EndMS:    cursor,
			Limit:    pageSize,
		})
		if err != nil {
			if ctx.Err() != nil {
				stop = StopCancelled
				break
			}
			if pages == 0 {
				log.Error("first page failed", zap.Error(err))
				emit(req.Progress, Progress{Message: "download failed: " + err.Error()})
				return nil, errors.Wrapf(ErrIngestionFailed, "%s %s: %v", req.Symbol, req.Interval, err)
			}
			log.Warn("page failed, keeping collected candles", zap.Int("pages", pages), zap.Error(err))
			stop = StopFetchFailed
			break
		}
		pages++
		a.Metrics.IncPages()

		if len(raw) == 0 {
			stop = StopEmptyPage
			break
		}

		page := st.absorb(raw)
		a.Metrics.AddCandles(page.added)
		log.Debug("page absorbed",
			zap.Int("page", pages),
			zap.Int("records", len(raw)),
			zap.Int("added", page.added),
			zap.Int("total", len(st.candles)),
		)
		if len(st.candles) > 0 {
			pct := st.percent()
			emit(req.Progress, Progress{
				Percent: pct,
				Candles: len(st.candles),
				Message: fmt.Sprintf("downloading: %d%% (%d candles)", pct, len(st.candles)),
			})
		}

		if page.crossed {
			stop = StopCrossedStart
			break
		}
		if !page.parsed {
			stop = StopNoProgress
			break
		}
		if page.lastTS <= req.StartMS {
			stop = StopReachedStart
			break
		}
		next := page.oldest - 1
		if next >= cursor {
			stop = StopNoProgress
			break
		}
		cursor = next

		if !sleepCtx(ctx, a.PageDelay) {
			stop = StopCancelled
			break
		}
	}

	sort.Slice(st.candles, func(i, j int) bool { return st.candles[i].Timestamp < st.candles[j].Timestamp })
	series := model.NewSeries(req.Symbol, req.Interval, st.candles)

	log.Info("assembly finished",
		zap.Int("candles", series.Len()),
		zap.Int("pages", pages),
		zap.String("stop", string(stop)),
	)
	emit(req.Progress, Progress{
		Percent: 100,
		Candles: series.Len(),
		Message: fmt.Sprintf("download complete: %d candles", series.Len()),
	})
	return &Result{Series: series, Pages: pages, Stop: stop}, nil
}

// assembly is the working set of one Assemble call.
type assembly struct {
	req     Request
	seen    map[int64]struct{}
	candles []model.Candle
	minTS   int64
	maxTS   int64
	logger  *zap.Logger
}

type pageSummary struct {
	added   int
	parsed  bool
	crossed bool
	oldest  int64
	lastTS  int64
}

// absorb adds the in-range, unseen candles of one page. The first candle seen
// for a timestamp is kept.
func (a *assembly) absorb(raw []model.RawCandle) pageSummary {
	sum := pageSummary{oldest: math.MaxInt64}
	for _, r := range raw {
		c, err := model.ParseRawCandle(r)
		if err != nil {
			a.logger.Warn("skipping malformed kline", zap.Error(err))
			continue
		}
		sum.parsed = true
		sum.lastTS = c.Timestamp
		if c.Timestamp < sum.oldest {
			sum.oldest = c.Timestamp
		}
		if c.Timestamp < a.req.StartMS {
			sum.crossed = true
			continue
		}
		if _, dup := a.seen[c.Timestamp]; dup {
			continue
		}
		a.seen[c.Timestamp] = struct{}{}
		a.candles = append(a.candles, c)
		sum.added++
		if c.Timestamp < a.minTS {
			a.minTS = c.Timestamp
		}
		if c.Timestamp > a.maxTS {
			a.maxTS = c.Timestamp
		}
	}
	return sum
}

// percent is the share of the requested range spanned by collected candles.
func (a *assembly) percent() int {
	target := a.req.EndMS - a.req.StartMS
	if target == 0 {
		return 100
	}
	covered := min(a.req.EndMS, a.maxTS) - max(a.req.StartMS, a.minTS)
	if covered <= 0 {
		return 0
	}
	return min(100, int(float64(covered)/float64(target)*100))
}

// emit never blocks; events are dropped when the receiver is not ready.
func emit(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
