package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"KlineAnalyzer/internal/model"
)

const (
	// DefaultBybitBaseURL is the public Bybit REST endpoint.
	DefaultBybitBaseURL = "https://api.bybit.com"
	// DefaultCategory is the Bybit product category for USDT perpetuals.
	DefaultCategory = "linear"
	// MaxPageSize is the largest page Bybit serves per kline request.
	MaxPageSize = 1000

	bybitKlinePath = "/v5/market/kline"
	bybitTimeout   = 15 * time.Second
)

// BybitFetcher implements PageFetcher using the Bybit v5 market kline API.
type BybitFetcher struct {
	BaseURL  string
	Category string
	Client   *http.Client
}

// NewBybitFetcher creates a new fetcher with optional proxy support.
func NewBybitFetcher(baseURL, category, proxyURL string) *BybitFetcher {
	if baseURL == "" {
		baseURL = DefaultBybitBaseURL
	}
	if category == "" {
		category = DefaultCategory
	}
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &BybitFetcher{
		BaseURL:  baseURL,
		Category: category,
		Client: &http.Client{
			Timeout:   bybitTimeout,
			Transport: transport,
		},
	}
}

func (f *BybitFetcher) Name() string { return "bybit" }

// bybitResponse is the envelope of every Bybit v5 response.
type bybitResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol   string            `json:"symbol"`
		Category string            `json:"category"`
		List     []model.RawCandle `json:"list"`
	} `json:"result"`
}

// FetchPage requests candles ending at req.EndMS. Bybit returns them newest first.
func (f *BybitFetcher) FetchPage(ctx context.Context, req PageRequest) ([]model.RawCandle, error) {
	q := url.Values{}
	q.Set("category", f.Category)
	q.Set("symbol", req.Symbol)
	q.Set("interval", req.Interval)
	if req.EndMS > 0 {
		q.Set("end", strconv.FormatInt(req.EndMS, 10))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	endpoint := f.BaseURL + bybitKlinePath + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return nil, &TransientFetchError{Op: "fetch klines", cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientFetchError{Op: "read klines", cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransientFetchError{Op: "fetch klines", StatusCode: resp.StatusCode, Msg: truncate(string(body), 200)}
	}

	var out bybitResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, &TransientFetchError{Op: "decode klines", cause: err}
	}
	if out.RetCode != 0 {
		return nil, &TransientFetchError{Op: "fetch klines", RetCode: out.RetCode, Msg: out.RetMsg}
	}
	return out.Result.List, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
