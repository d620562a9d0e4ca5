// Package gather fetches monthly adjusted price series from remote market
// data services. A Provider sits in front of a Source and adds caching,
// credential rotation, rate pacing, retries and a circuit breaker.
package gather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taa/internal/domain"
	"taa/internal/util"
)

// Source is one remote market data service. Implementations issue exactly
// one request per Fetch call and classify failures by wrapping
// ErrRateLimited, ErrMalformed or ErrTransient.
type Source interface {
	// Name returns the source identifier used in logs and metrics.
	Name() string
	// Fetch returns the raw adjusted price observations for ticker within
	// [start, end]. A zero end means up to the latest available.
	Fetch(ctx context.Context, cred *Credential, ticker string, start, end time.Time) ([]domain.PricePoint, error)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrRateLimited marks a response carrying an explicit rate limit or
	// notice indicator. It is retried with the longer backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformed marks a response missing the expected fields or carrying a
	// hard error indicator. It is never retried.
	ErrMalformed = errors.New("malformed payload")

	// ErrTransient marks a transport failure such as a timeout or an HTTP
	// 5xx status.
	ErrTransient = errors.New("transient fetch failure")

	// ErrNoCredentials is returned when the pool is empty.
	ErrNoCredentials = errors.New("no credentials configured")

	// ErrGlobalDataUnavailable is returned by FetchAll when every requested
	// ticker is unavailable.
	ErrGlobalDataUnavailable = errors.New("market data unavailable for every ticker")
)

// UnavailableError reports that a ticker could not be fetched. Err holds the
// last cause.
type UnavailableError struct {
	Ticker   string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempt(s): %v", e.Ticker, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// outcome maps a fetch error to the label used in logs and metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transient"
	}
}

// ---------------------------------------------------------------------------
// Month-end normalisation
// ---------------------------------------------------------------------------

// MonthEndSeries keeps the last observation of each calendar month and
// stamps it with that month's last calendar day. Non-positive prices are
// dropped first.
func MonthEndSeries(s domain.PriceSeries) domain.PriceSeries {
	s = s.Normalize()
	out := domain.PriceSeries{Ticker: s.Ticker}
	for _, p := range s.Points {
		if !(p.Price > 0) {
			continue
		}
		p.Date = util.MonthEnd(p.Date)
		if n := len(out.Points); n > 0 && out.Points[n-1].Date.Equal(p.Date) {
			out.Points[n-1] = p
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out
}
