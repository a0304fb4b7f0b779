package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"KlineAnalyzer/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBybitFetcher_FetchPage(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","category":"linear","list":[
			["1700000060000","101","102","100","101.5","3","304.5"],
			["1700000000000","100","101","99","100.5","2","201"]
		]}}`))
	}))
	defer srv.Close()

	f := NewBybitFetcher(srv.URL, "", "")
	page, err := f.FetchPage(context.Background(), PageRequest{
		Symbol: "BTCUSDT", Interval: "1", EndMS: 1700000099999, Limit: 1000,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)

	require.NotNil(t, got)
	assert.Equal(t, "/v5/market/kline", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "linear", q.Get("category"))
	assert.Equal(t, "BTCUSDT", q.Get("symbol"))
	assert.Equal(t, "1", q.Get("interval"))
	assert.Equal(t, "1700000099999", q.Get("end"))
	assert.Equal(t, "1000", q.Get("limit"))

	c, err := model.ParseRawCandle(page[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1700000060000), c.Timestamp)
	assert.Equal(t, "101.5", c.Close.Decimal.String())
	assert.Equal(t, "bybit", f.Name())
}

func TestBybitFetcher_RetCodeIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()

	_, err := NewBybitFetcher(srv.URL, "spot", "").FetchPage(context.Background(), PageRequest{Symbol: "X", Interval: "1"})
	require.Error(t, err)

	var tfe *TransientFetchError
	require.ErrorAs(t, err, &tfe)
	assert.Equal(t, 10001, tfe.RetCode)
	assert.Contains(t, err.Error(), "params error")
}

func TestBybitFetcher_HTTPErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewBybitFetcher(srv.URL, "", "").FetchPage(context.Background(), PageRequest{Symbol: "X", Interval: "1"})
	require.Error(t, err)

	var tfe *TransientFetchError
	require.ErrorAs(t, err, &tfe)
	assert.Equal(t, http.StatusInternalServerError, tfe.StatusCode)
	assert.True(t, IsTransient(err))
}

func TestBybitFetcher_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewBybitFetcher(url, "", "").FetchPage(context.Background(), PageRequest{Symbol: "X", Interval: "1"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func transient(msg string) error {
	return &TransientFetchError{Op: "fetch klines", StatusCode: http.StatusBadGateway, Msg: msg}
}

func TestRetryFetcher_SucceedsWithinBound(t *testing.T) {
	m := &MockFetcher{
		Pages:  [][]model.RawCandle{nil, nil, page(1000)},
		Errors: []error{transient("a"), transient("b")},
	}
	r := &RetryFetcher{Next: m, MaxAttempts: 3, Delay: time.Millisecond}

	got, err := r.FetchPage(context.Background(), PageRequest{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, m.Calls())
}

func TestRetryFetcher_ExhaustsAttempts(t *testing.T) {
	last := transient("last")
	m := &MockFetcher{Errors: []error{transient("a"), transient("b"), last, nil}}
	r := &RetryFetcher{Next: m, MaxAttempts: 3, Delay: time.Millisecond}

	_, err := r.FetchPage(context.Background(), PageRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, m.Calls())
}

func TestRetryFetcher_DoesNotRetryPermanentErrors(t *testing.T) {
	bad := errors.New("build request: invalid URL")
	m := &MockFetcher{Errors: []error{bad, nil}, Pages: [][]model.RawCandle{nil, page(1000)}}
	r := &RetryFetcher{Next: m, MaxAttempts: 3, Delay: time.Millisecond}

	_, err := r.FetchPage(context.Background(), PageRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, bad)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "after 1 attempts")
	assert.Equal(t, 1, m.Calls())
}

func TestRetryFetcher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MockFetcher{Errors: []error{transient("a"), transient("b")}}
	r := &RetryFetcher{Next: m, MaxAttempts: 5, Delay: time.Hour}

	go func() {
		for m.Calls() < 1 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	_, err := r.FetchPage(ctx, PageRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, m.Calls())
}

// memCache is an in-memory PageCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]model.RawCandle
	failGet bool
}

func newMemCache() *memCache { return &memCache{entries: map[string][]model.RawCandle{}} }

func (c *memCache) Get(_ context.Context, key string) ([]model.RawCandle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	p, ok := c.entries[key]
	return p, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, p []model.RawCandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = p
	return nil
}

func TestCachingFetcher_ServesRepeatFromCache(t *testing.T) {
	m := &MockFetcher{Pages: [][]model.RawCandle{page(2000, 1000)}}
	cache := newMemCache()
	f := NewCachingFetcher(m, cache, nil, nil)
	req := PageRequest{Symbol: "BTCUSDT", Interval: "1", EndMS: 2000, Limit: 2}

	first, err := f.FetchPage(context.Background(), req)
	require.NoError(t, err)
	second, err := f.FetchPage(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, m.Calls())
	assert.Contains(t, cache.entries, CacheKey(req))
	assert.Equal(t, "mock+cache", f.Name())
}

func TestCachingFetcher_NeverCachesEmptyPages(t *testing.T) {
	m := &MockFetcher{Pages: [][]model.RawCandle{{}, {}}}
	cache := newMemCache()
	f := NewCachingFetcher(m, cache, nil, nil)
	req := PageRequest{Symbol: "X", Interval: "1", EndMS: 1}

	_, err := f.FetchPage(context.Background(), req)
	require.NoError(t, err)
	_, err = f.FetchPage(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, cache.entries)
	assert.Equal(t, 2, m.Calls())
}

func TestCachingFetcher_CacheErrorsFallThrough(t *testing.T) {
	m := &MockFetcher{Pages: [][]model.RawCandle{page(1000)}}
	cache := newMemCache()
	cache.failGet = true

	got, err := NewCachingFetcher(m, cache, nil, nil).FetchPage(context.Background(), PageRequest{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
