package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"taa/internal/config"
	"taa/internal/domain"
	"taa/internal/store"
	"taa/internal/util"
)

// Options tunes retries, pacing and the circuit breaker.
type Options struct {
	MaxAttempts      int
	Backoff          time.Duration // first pause after a transient failure, doubled per attempt
	RateLimitBackoff time.Duration // first pause after a rate-limit response, doubled per attempt
	JitterMin        time.Duration
	JitterMax        time.Duration
	BreakerFailures  int // consecutive unavailable tickers that open the breaker; 0 disables
	BreakerTimeout   time.Duration
}

// OptionsFromConfig maps the provider configuration section to Options.
func OptionsFromConfig(c config.Provider) Options {
	return Options{
		MaxAttempts:      c.MaxAttempts,
		Backoff:          c.Backoff,
		RateLimitBackoff: c.RateLimitBackoff,
		JitterMin:        c.JitterMin,
		JitterMax:        c.JitterMax,
		BreakerFailures:  c.BreakerFailures,
		BreakerTimeout:   c.BreakerTimeout,
	}
}

// Provider fetches monthly price series through a Source. Lookups hit the
// cache first; misses go to the network one request at a time.
type Provider struct {
	source  Source
	pool    *CredentialPool
	cache   store.BlobStore
	limiter *util.RateLimiter
	opts    Options
	breaker *gobreaker.CircuitBreaker
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewProvider creates a Provider. cache may be nil to disable caching.
func NewProvider(src Source, pool *CredentialPool, cache store.BlobStore, opts Options) *Provider {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.JitterMax < opts.JitterMin {
		opts.JitterMax = opts.JitterMin
	}

	p := &Provider{
		source:  src,
		pool:    pool,
		cache:   cache,
		limiter: util.NewRateLimiter(pool.PerMinute()),
		opts:    opts,
		log:     slog.Default().With("component", "provider", "source", src.Name()),
		now:     time.Now,
	}

	if opts.BreakerFailures > 0 {
		threshold := uint32(opts.BreakerFailures)
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        src.Name(),
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return p
}

// WithMetrics attaches prometheus collectors.
func (p *Provider) WithMetrics(m *Metrics) *Provider {
	p.metrics = m
	return p
}

// WithLogger replaces the provider's logger.
func (p *Provider) WithLogger(log *slog.Logger) *Provider {
	p.log = log.With("component", "provider", "source", p.source.Name())
	return p
}

// Fetch returns the month-end adjusted price series of ticker within
// [start, end]. A failure is reported as *UnavailableError; Fetch never
// panics on bad data.
func (p *Provider) Fetch(ctx context.Context, ticker string, start, end time.Time) (domain.PriceSeries, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	end = p.resolveEnd(end)

	if p.cache != nil {
		series, err := store.LoadSeries(ctx, p.cache, ticker, start, end)
		switch {
		case err == nil:
			p.metrics.RecordCache("hit")
			return series, nil
		case errors.Is(err, store.ErrNotFound):
			p.metrics.RecordCache("miss")
		default:
			p.metrics.RecordCache("corrupt")
			p.log.Warn("unreadable cache entry, refetching", "ticker", ticker, "error", err)
		}
	}

	var (
		series domain.PriceSeries
		err    error
	)
	if p.breaker != nil {
		var res interface{}
		res, err = p.breaker.Execute(func() (interface{}, error) {
			return p.fetchRemote(ctx, ticker, start, end)
		})
		if err == nil {
			series = res.(domain.PriceSeries)
		} else if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &UnavailableError{Ticker: ticker, Err: err}
		}
	} else {
		series, err = p.fetchRemote(ctx, ticker, start, end)
	}
	if err != nil {
		p.metrics.RecordUnavailable()
		p.log.Warn("ticker unavailable", "ticker", ticker, "error", err)
		return domain.PriceSeries{}, err
	}

	if p.cache != nil {
		if err := store.SaveSeries(ctx, p.cache, series, start, end); err != nil {
			p.log.Warn("failed to cache series", "ticker", ticker, "error", err)
		}
	}
	return series, nil
}

// resolveEnd pins an open-ended request to today's date so cached entries
// expire once a new day's data can exist.
func (p *Provider) resolveEnd(end time.Time) time.Time {
	if !end.IsZero() {
		return end
	}
	y, m, d := p.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FetchAll fetches each ticker in turn and returns the successes keyed by
// ticker along with the tickers that failed. When every ticker fails the
// error is ErrGlobalDataUnavailable.
func (p *Provider) FetchAll(ctx context.Context, tickers []string, start, end time.Time) (map[string]domain.PriceSeries, []string, error) {
	out := make(map[string]domain.PriceSeries, len(tickers))
	var failed []string
	seen := make(map[string]bool, len(tickers))

	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true

		if err := ctx.Err(); err != nil {
			return out, failed, err
		}
		series, err := p.Fetch(ctx, t, start, end)
		if err != nil {
			failed = append(failed, t)
			continue
		}
		out[t] = series
	}

	if len(out) == 0 && len(failed) > 0 {
		return out, failed, ErrGlobalDataUnavailable
	}
	if len(failed) > 0 {
		p.log.Warn("some tickers unavailable", "failed", failed, "fetched", len(out))
	}
	return out, failed, nil
}

// fetchRemote issues up to MaxAttempts requests for ticker and returns the
// normalised series, or *UnavailableError.
func (p *Provider) fetchRemote(ctx context.Context, ticker string, start, end time.Time) (domain.PriceSeries, error) {
	var (
		points   []domain.PricePoint
		attempts int
	)

	err := util.RetryWithBackoff(ctx, p.opts.MaxAttempts, p.backoff, func(attempt int) error {
		attempts = attempt + 1

		cred, err := p.pool.Pick()
		if err != nil {
			return util.Permanent(err)
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		if err := p.jitter(ctx); err != nil {
			return util.Permanent(err)
		}

		pts, err := p.source.Fetch(ctx, cred, ticker, start, end)
		if err == nil || errors.Is(err, ErrRateLimited) {
			p.metrics.RecordCredential(cred.Label(), cred.record())
		}
		p.metrics.RecordRequest(p.source.Name(), outcome(err))

		switch {
		case err == nil:
			points = pts
			return nil
		case errors.Is(err, ErrMalformed):
			return util.Permanent(err)
		case ctx.Err() != nil:
			return util.Permanent(ctx.Err())
		}
		p.log.Debug("fetch attempt failed", "ticker", ticker, "attempt", attempts, "credential", cred.Label(), "error", err)
		return err
	})
	if err != nil {
		return domain.PriceSeries{}, &UnavailableError{Ticker: ticker, Attempts: attempts, Err: err}
	}

	raw := domain.PriceSeries{Ticker: ticker, Points: points}.Normalize().Clip(start, end)
	series := MonthEndSeries(raw)
	if series.Empty() {
		return domain.PriceSeries{}, &UnavailableError{
			Ticker:   ticker,
			Attempts: attempts,
			Err:      fmt.Errorf("%w: no observations in range", ErrMalformed),
		}
	}
	return series, nil
}

// backoff picks the pause before the next attempt from the failure class.
func (p *Provider) backoff(attempt int, err error) time.Duration {
	if errors.Is(err, ErrRateLimited) {
		return p.opts.RateLimitBackoff << uint(attempt)
	}
	return p.opts.Backoff << uint(attempt)
}

// jitter pauses for a random duration within [JitterMin, JitterMax].
func (p *Provider) jitter(ctx context.Context) error {
	d := p.opts.JitterMin
	if spread := p.opts.JitterMax - p.opts.JitterMin; spread > 0 {
		d += time.Duration(rand.Int64N(int64(spread) + 1))
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
