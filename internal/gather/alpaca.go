package gather

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"taa/internal/domain"
)

var _ Source = (*Alpaca)(nil)

// Alpaca fetches split- and dividend-adjusted daily bars from the Alpaca
// market-data API. Each credential is a key/secret pair; one client is kept
// per key.
type Alpaca struct {
	dataURL string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*alpacaClient
}

// alpacaClient pairs an SDK client with the transport that observed its last
// HTTP status.
type alpacaClient struct {
	md     *marketdata.Client
	status *statusRecorder
}

// NewAlpaca creates the source. An empty dataURL uses the SDK default.
func NewAlpaca(dataURL string, timeout time.Duration) *Alpaca {
	return &Alpaca{
		dataURL: dataURL,
		timeout: timeout,
		clients: make(map[string]*alpacaClient),
	}
}

// Name returns the source identifier.
func (a *Alpaca) Name() string { return "alpaca" }

// Fetch requests adjusted daily bars for ticker within [start, end] and
// returns their closes.
func (a *Alpaca) Fetch(ctx context.Context, cred *Credential, ticker string, start, end time.Time) ([]domain.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := a.client(cred)
	c.status.reset()

	bars, err := c.md.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      start,
		End:        end,
	})
	if err != nil {
		return nil, classifyStatus(c.status.last(), err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrMalformed, ticker)
	}

	points := make([]domain.PricePoint, 0, len(bars))
	for _, b := range bars {
		points = append(points, domain.PricePoint{Date: b.Timestamp.UTC(), Price: b.Close})
	}
	return points, nil
}

func (a *Alpaca) client(cred *Credential) *alpacaClient {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[cred.Key]; ok {
		return c
	}
	rec := &statusRecorder{next: http.DefaultTransport}
	opts := marketdata.ClientOpts{
		APIKey:     cred.Key,
		APISecret:  cred.Secret,
		HTTPClient: &http.Client{Timeout: a.timeout, Transport: rec},
	}
	if a.dataURL != "" {
		opts.BaseURL = a.dataURL
	}
	c := &alpacaClient{md: marketdata.NewClient(opts), status: rec}
	a.clients[cred.Key] = c
	return c
}

// classifyStatus maps the last HTTP status seen for a failed SDK call to a
// fetch error class. No status means the request never completed.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case status >= 500 || status == 0:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// statusRecorder is an http.RoundTripper that remembers the status code of
// the most recent response.
type statusRecorder struct {
	next http.RoundTripper

	mu     sync.Mutex
	status int
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if err == nil {
		r.mu.Lock()
		r.status = resp.StatusCode
		r.mu.Unlock()
	}
	return resp, err
}

func (r *statusRecorder) reset() {
	r.mu.Lock()
	r.status = 0
	r.mu.Unlock()
}

func (r *statusRecorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
