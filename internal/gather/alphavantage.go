package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"taa/internal/domain"
)

var _ Source = (*AlphaVantage)(nil)

const (
	avFunction      = "TIME_SERIES_MONTHLY_ADJUSTED"
	avSeriesKey     = "Monthly Adjusted Time Series"
	avAdjustedClose = "5. adjusted close"
	avMaxBody       = 8 << 20
)

// AlphaVantage fetches monthly adjusted closes from the Alpha Vantage query
// API. Each credential is an API key.
type AlphaVantage struct {
	baseURL string
	client  *http.Client
}

// NewAlphaVantage creates the source. timeout bounds each request.
func NewAlphaVantage(baseURL string, timeout time.Duration) *AlphaVantage {
	return &AlphaVantage{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the source identifier.
func (a *AlphaVantage) Name() string { return "alphavantage" }

// Fetch requests the full monthly adjusted history of ticker and returns the
// observations within [start, end].
func (a *AlphaVantage) Fetch(ctx context.Context, cred *Credential, ticker string, start, end time.Time) ([]domain.PricePoint, error) {
	q := url.Values{}
	q.Set("function", avFunction)
	q.Set("symbol", ticker)
	q.Set("apikey", cred.Key)
	q.Set("datatype", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrMalformed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: HTTP %d", ErrMalformed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, avMaxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}
	return parseAlphaVantage(body, start, end)
}

// parseAlphaVantage distinguishes the three response shapes: a notice or
// limit message, a hard error message and a keyed time series.
func parseAlphaVantage(body []byte, start, end time.Time) ([]domain.PricePoint, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrMalformed, err)
	}

	for _, key := range []string{"Note", "Information"} {
		if raw, ok := payload[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, message(raw))
		}
	}
	if raw, ok := payload["Error Message"]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, message(raw))
	}

	raw, ok := payload[avSeriesKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformed, avSeriesKey)
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("%w: decoding series: %v", ErrMalformed, err)
	}

	points := make([]domain.PricePoint, 0, len(series))
	for day, fields := range series {
		d, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", ErrMalformed, day)
		}
		if d.Before(start) || (!end.IsZero() && d.After(end)) {
			continue
		}
		v, ok := fields[avAdjustedClose]
		if !ok {
			return nil, fmt.Errorf("%w: %s missing %q", ErrMalformed, day, avAdjustedClose)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrMalformed, day, avAdjustedClose, err)
		}
		points = append(points, domain.PricePoint{Date: d, Price: price})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// message renders a JSON string value, falling back to the raw text.
func message(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
