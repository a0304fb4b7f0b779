package collector

import (
	"context"
	"strconv"
	"sync"

	"KlineAnalyzer/internal/model"
)

// MockFetcher returns controllable data for development and testing.
//
// When Pages is set, each call returns the next scripted page (and the error
// at the same position in Errors, if any); calls past the end return an empty
// page. Otherwise it synthesizes candles every StepMS down to FloorMS,
// anchored at multiples of StepMS.
type MockFetcher struct {
	Price   float64
	StepMS  int64
	FloorMS int64

	Pages  [][]model.RawCandle
	Errors []error

	mu       sync.Mutex
	calls    int
	Requests []PageRequest
}

func (m *MockFetcher) Name() string { return "mock" }

// Calls returns how many pages were requested.
func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockFetcher) FetchPage(_ context.Context, req PageRequest) ([]model.RawCandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.Requests = append(m.Requests, req)

	if m.Pages != nil || m.Errors != nil {
		if i < len(m.Errors) && m.Errors[i] != nil {
			return nil, m.Errors[i]
		}
		if i < len(m.Pages) {
			return m.Pages[i], nil
		}
		return nil, nil
	}
	return generateMockPage(m.Price, m.StepMS, m.FloorMS, req), nil
}

func generateMockPage(basePrice float64, step, floor int64, req PageRequest) []model.RawCandle {
	if step <= 0 {
		step = 60_000
	}
	if basePrice <= 0 {
		basePrice = 100
	}
	limit := req.Limit
	if limit <= 0 {
		limit = MaxPageSize
	}
	ts := req.EndMS - req.EndMS%step
	page := make([]model.RawCandle, 0, limit)
	for len(page) < limit && ts >= floor && ts >= 0 {
		n := ts / step
		p := basePrice * (1 + float64(n%50-25)*0.001)
		page = append(page, MockCandle(ts, p*0.999, p*1.005, p*0.995, p, 1000))
		ts -= step
	}
	return page
}

// MockCandle builds a raw record in the exchange's string-tuple form.
func MockCandle(ts int64, open, high, low, closePrice, volume float64) model.RawCandle {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return model.RawCandle{
		strconv.FormatInt(ts, 10),
		f(open), f(high), f(low), f(closePrice), f(volume),
		f(closePrice * volume),
	}
}
