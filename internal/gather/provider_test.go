package gather

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"

	"taa/internal/config"
	"taa/internal/domain"
	"taa/internal/store"
)

// fakeResponse is one scripted Source result.
type fakeResponse struct {
	points []domain.PricePoint
	err    error
}

// fakeSource replays scripted responses in order, repeating the last one.
type fakeSource struct {
	responses []fakeResponse
	calls     int
	tickers   []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, _ *Credential, ticker string, _, _ time.Time) ([]domain.PricePoint, error) {
	f.calls++
	f.tickers = append(f.tickers, ticker)
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("%w: no script", ErrTransient)
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	r := f.responses[i]
	return r.points, r.err
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthly(n int) []domain.PricePoint {
	pts := make([]domain.PricePoint, n)
	for i := range pts {
		pts[i] = domain.PricePoint{Date: day(2020, time.Month(i+1), 28), Price: 100 + float64(i)}
	}
	return pts
}

func testPool(keys ...string) *CredentialPool {
	creds := make([]config.Credential, len(keys))
	for i, k := range keys {
		creds[i] = config.Credential{Key: k}
	}
	return NewCredentialPool(0, 0, creds...)
}

func testOptions() Options {
	return Options{MaxAttempts: 3}
}

func TestProviderCacheRoundTrip(t *testing.T) {
	cache := store.NewMemoryBlobStore()
	src := &fakeSource{responses: []fakeResponse{{points: monthly(6)}}}
	p := NewProvider(src, testPool("k1"), cache, testOptions())
	ctx := context.Background()
	start, end := day(2020, 1, 1), day(2020, 12, 31)

	first, err := p.Fetch(ctx, "spy", start, end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if first.Ticker != "SPY" || first.Len() != 6 {
		t.Fatalf("Fetch = %s with %d points, want SPY with 6", first.Ticker, first.Len())
	}

	// Identical parameters are served from the cache, even by a provider
	// whose source would fail.
	broken := &fakeSource{responses: []fakeResponse{{err: ErrTransient}}}
	p2 := NewProvider(broken, testPool("k1"), cache, testOptions())
	second, err := p2.Fetch(ctx, "SPY", start, end)
	if err != nil {
		t.Fatalf("cached Fetch: %v", err)
	}
	if broken.calls != 0 {
		t.Errorf("source called %d times on a cache hit, want 0", broken.calls)
	}
	if second.Len() != first.Len() || !second.Points[5].Date.Equal(first.Points[5].Date) {
		t.Errorf("cached series differs: %+v vs %+v", second, first)
	}

	// A different range is a different key.
	if _, err := p.Fetch(ctx, "SPY", start, day(2020, 6, 30)); err != nil {
		t.Fatalf("Fetch other range: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestProviderRetriesTransient(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{
		{err: ErrTransient},
		{err: fmt.Errorf("%w: HTTP 503", ErrTransient)},
		{points: monthly(3)},
	}}
	pool := testPool("k1")
	p := NewProvider(src, pool, nil, testOptions())

	series, err := p.Fetch(context.Background(), "SPY", day(2020, 1, 1), time.Time{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if series.Len() != 3 {
		t.Errorf("Len = %d, want 3", series.Len())
	}
	if src.calls != 3 {
		t.Errorf("source calls = %d, want 3", src.calls)
	}
	// Transport failures never reached the service, so only the success counts.
	if got := pool.Credentials()[0].Used(); got != 1 {
		t.Errorf("credential used = %d, want 1", got)
	}
}

func TestProviderMalformedNotRetried(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{{err: fmt.Errorf("%w: missing field", ErrMalformed)}}}
	p := NewProvider(src, testPool("k1"), nil, testOptions())

	_, err := p.Fetch(context.Background(), "SPY", day(2020, 1, 1), time.Time{})
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UnavailableError", err)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed cause", err)
	}
	if ue.Attempts != 1 || src.calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1 and 1", ue.Attempts, src.calls)
	}
}

func TestProviderRateLimitCountsUsage(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{{err: fmt.Errorf("%w: Note", ErrRateLimited)}}}
	pool := testPool("k1")
	p := NewProvider(src, pool, nil, testOptions())

	_, err := p.Fetch(context.Background(), "SPY", day(2020, 1, 1), time.Time{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited cause", err)
	}
	if src.calls != 3 {
		t.Errorf("source calls = %d, want 3", src.calls)
	}
	if got := pool.Credentials()[0].Used(); got != 3 {
		t.Errorf("credential used = %d, want 3", got)
	}
}

func TestProviderEmptySeriesUnavailable(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{{points: monthly(3)}}}
	p := NewProvider(src, testPool("k1"), nil, testOptions())

	// Every observation falls before the requested range.
	_, err := p.Fetch(context.Background(), "SPY", day(2021, 1, 1), day(2021, 12, 31))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed cause", err)
	}
}

func TestProviderNormalisesToMonthEnd(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{{points: []domain.PricePoint{
		{Date: day(2019, 12, 31), Price: 90},
		{Date: day(2020, 1, 2), Price: 100},
		{Date: day(2020, 1, 30), Price: 101},
		{Date: day(2020, 2, 3), Price: 102},
		{Date: day(2020, 2, 27), Price: 103},
		{Date: day(2020, 3, 2), Price: 104},
	}}}}
	p := NewProvider(src, testPool("k1"), nil, testOptions())

	got, err := p.Fetch(context.Background(), "SPY", day(2020, 1, 1), day(2020, 2, 29))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := []domain.PricePoint{
		{Date: day(2020, 1, 31), Price: 101},
		{Date: day(2020, 2, 29), Price: 103},
	}
	if got.Len() != len(want) {
		t.Fatalf("Len = %d, want %d: %+v", got.Len(), len(want), got.Points)
	}
	for i, w := range want {
		if !got.Points[i].Date.Equal(w.Date) || got.Points[i].Price != w.Price {
			t.Errorf("point %d = %+v, want %+v", i, got.Points[i], w)
		}
	}
}

func TestProviderCorruptCacheRefetches(t *testing.T) {
	cache := store.NewMemoryBlobStore()
	start := day(2020, 1, 1)
	_ = cache.Put(context.Background(), store.CacheKey("SPY", start, time.Time{}), []byte("junk"))

	src := &fakeSource{responses: []fakeResponse{{points: monthly(2)}}}
	p := NewProvider(src, testPool("k1"), cache, testOptions())

	if _, err := p.Fetch(context.Background(), "SPY", start, time.Time{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
	// The entry was rewritten with a valid blob.
	if _, err := store.LoadSeries(context.Background(), cache, "SPY", start, time.Time{}); err != nil {
		t.Errorf("LoadSeries after refetch: %v", err)
	}
}

func TestFetchAll(t *testing.T) {
	ctx := context.Background()
	start := day(2020, 1, 1)

	t.Run("partial failure", func(t *testing.T) {
		src := &fakeSource{responses: []fakeResponse{
			{points: monthly(2)},
			{err: ErrMalformed},
			{points: monthly(2)},
		}}
		p := NewProvider(src, testPool("k1"), nil, testOptions())

		got, failed, err := p.FetchAll(ctx, []string{"SPY", "BAD", "spy", "TLT"}, start, time.Time{})
		if err != nil {
			t.Fatalf("FetchAll: %v", err)
		}
		if len(got) != 2 || len(failed) != 1 || failed[0] != "BAD" {
			t.Errorf("got %d series, failed %v; want 2 and [BAD]", len(got), failed)
		}
		if src.calls != 3 {
			t.Errorf("source calls = %d, want 3 (duplicates skipped)", src.calls)
		}
	})

	t.Run("global failure", func(t *testing.T) {
		src := &fakeSource{responses: []fakeResponse{{err: ErrMalformed}}}
		p := NewProvider(src, testPool("k1"), nil, testOptions())

		_, failed, err := p.FetchAll(ctx, []string{"A", "B"}, start, time.Time{})
		if !errors.Is(err, ErrGlobalDataUnavailable) {
			t.Errorf("err = %v, want ErrGlobalDataUnavailable", err)
		}
		if len(failed) != 2 {
			t.Errorf("failed = %v, want 2 tickers", failed)
		}
	})
}

func TestProviderBreakerOpens(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{{err: ErrTransient}}}
	opts := Options{MaxAttempts: 1, BreakerFailures: 2, BreakerTimeout: time.Hour}
	p := NewProvider(src, testPool("k1"), nil, opts)
	ctx := context.Background()

	for _, tk := range []string{"A", "B"} {
		if _, err := p.Fetch(ctx, tk, day(2020, 1, 1), time.Time{}); err == nil {
			t.Fatalf("Fetch(%s) should fail", tk)
		}
	}
	_, err := p.Fetch(ctx, "C", day(2020, 1, 1), time.Time{})
	var ue *UnavailableError
	if !errors.As(err, &ue) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want *UnavailableError wrapping ErrOpenState", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2 (open breaker fails fast)", src.calls)
	}
}

func TestProviderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	cache := store.NewMemoryBlobStore()
	src := &fakeSource{responses: []fakeResponse{{err: ErrTransient}, {points: monthly(2)}}}
	p := NewProvider(src, testPool("abcd1234"), cache, testOptions()).WithMetrics(m)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Fetch(ctx, "SPY", day(2020, 1, 1), time.Time{}); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("fake", "transient")); got != 1 {
		t.Errorf("transient requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("fake", "ok")); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cache.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cache.WithLabelValues("miss")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.credentials.WithLabelValues("****1234")); got != 1 {
		t.Errorf("credential gauge = %v, want 1", got)
	}
}

func TestProviderNoCredentials(t *testing.T) {
	src := &fakeSource{responses: []fakeResponse{{points: monthly(2)}}}
	p := NewProvider(src, testPool(), nil, testOptions())

	_, err := p.Fetch(context.Background(), "SPY", day(2020, 1, 1), time.Time{})
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
	if src.calls != 0 {
		t.Errorf("source calls = %d, want 0", src.calls)
	}
}

func TestMonthEndSeries(t *testing.T) {
	in := domain.PriceSeries{Ticker: "x", Points: []domain.PricePoint{
		{Date: day(2020, 2, 3), Price: 10},
		{Date: day(2020, 1, 15), Price: 9},
		{Date: day(2020, 2, 20), Price: 0}, // dropped
		{Date: day(2020, 2, 14), Price: 11},
	}}
	got := MonthEndSeries(in)
	if got.Ticker != "X" || got.Len() != 2 {
		t.Fatalf("MonthEndSeries = %+v", got)
	}
	if !got.Points[1].Date.Equal(day(2020, 2, 29)) || got.Points[1].Price != 11 {
		t.Errorf("February point = %+v, want 2020-02-29 @ 11", got.Points[1])
	}
}

func TestProviderOpenEndedFetchExpiresDaily(t *testing.T) {
	cache := store.NewMemoryBlobStore()
	src := &fakeSource{responses: []fakeResponse{{points: monthly(3)}, {points: monthly(6)}}}
	p := NewProvider(src, testPool("k1"), cache, testOptions())
	today := day(2021, 3, 15)
	p.now = func() time.Time { return today }
	ctx := context.Background()
	start := day(2020, 1, 1)

	first, err := p.Fetch(ctx, "SPY", start, time.Time{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if first.Len() != 3 {
		t.Fatalf("first Fetch = %d points, want 3", first.Len())
	}

	// Same day: served from the cache.
	if _, err := p.Fetch(ctx, "SPY", start, time.Time{}); err != nil {
		t.Fatalf("same-day Fetch: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d after a same-day fetch, want 1", src.calls)
	}

	// A later day must not reuse the earlier open-ended entry.
	today = day(2021, 3, 16)
	second, err := p.Fetch(ctx, "SPY", start, time.Time{})
	if err != nil {
		t.Fatalf("next-day Fetch: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d after a next-day fetch, want 2", src.calls)
	}
	if second.Len() != 6 {
		t.Errorf("next-day Fetch = %d points, want 6", second.Len())
	}
}
