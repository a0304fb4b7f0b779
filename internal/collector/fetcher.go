package collector

import (
	"context"
	"fmt"

	"KlineAnalyzer/internal/model"

	"github.com/pkg/errors"
)

// ErrIngestionFailed is returned when the very first page cannot be fetched.
var ErrIngestionFailed = errors.New("ingestion failed")

// PageRequest asks for at most Limit candles with timestamps <= EndMS.
type PageRequest struct {
	Symbol   string
	Interval string
	EndMS    int64
	Limit    int
}

// PageFetcher returns one page of raw kline records, newest first.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) ([]model.RawCandle, error)
	Name() string
}

// TransientFetchError is a retriable page failure: transport errors,
// timeouts, non-200 responses and non-zero exchange return codes.
type TransientFetchError struct {
	Op         string
	StatusCode int
	RetCode    int
	Msg        string
	cause      error
}

func (e *TransientFetchError) Error() string {
	switch {
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Msg)
	default:
		return fmt.Sprintf("%s: retCode %d: %s", e.Op, e.RetCode, e.Msg)
	}
}

func (e *TransientFetchError) Unwrap() error { return e.cause }

// IsTransient reports whether err is, or wraps, a TransientFetchError.
func IsTransient(err error) bool {
	var tfe *TransientFetchError
	return errors.As(err, &tfe)
}
