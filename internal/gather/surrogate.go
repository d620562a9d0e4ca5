package gather

import (
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"taa/internal/domain"
	"taa/internal/util"
)

// SurrogateParams describes a synthetic monthly dataset. Tickers listed in
// more than one role take the first matching role in the order protective,
// canary, risky; Extra tickers are generated as risky.
type SurrogateParams struct {
	Risky      []string
	Protective []string
	Canary     []string
	Extra      []string
	Start      time.Time
	End        time.Time
	Seed       uint64
	BasePrice  float64
}

// roleDrift is the mean and standard deviation of monthly returns per role.
type roleDrift struct{ mean, stdev float64 }

var (
	protectiveDrift = roleDrift{0.002, 0.01}
	canaryDrift     = roleDrift{0.005, 0.03}
	riskyDrift      = roleDrift{0.008, 0.05}
)

// DefaultSurrogateParams covers month-ends from January 2010 through
// December 2023 with seed 42 and a base price of 100.
func DefaultSurrogateParams(risky, protective, canary, extra []string) SurrogateParams {
	return SurrogateParams{
		Risky:      risky,
		Protective: protective,
		Canary:     canary,
		Extra:      extra,
		Start:      time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		Seed:       42,
		BasePrice:  100,
	}
}

// Surrogate generates a deterministic synthetic price series per ticker by
// compounding normally distributed monthly returns from BasePrice. The same
// params always yield the same dataset.
func Surrogate(params SurrogateParams) map[string]domain.PriceSeries {
	if params.BasePrice <= 0 {
		params.BasePrice = 100
	}
	dates := util.MonthEnds(params.Start, params.End)

	roles := make(map[string]roleDrift)
	assign := func(tickers []string, d roleDrift) {
		for _, t := range tickers {
			t = strings.ToUpper(strings.TrimSpace(t))
			if _, ok := roles[t]; !ok && t != "" {
				roles[t] = d
			}
		}
	}
	assign(params.Protective, protectiveDrift)
	assign(params.Canary, canaryDrift)
	assign(params.Risky, riskyDrift)
	assign(params.Extra, riskyDrift)

	tickers := make([]string, 0, len(roles))
	for t := range roles {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	rng := rand.New(rand.NewPCG(params.Seed, params.Seed))
	out := make(map[string]domain.PriceSeries, len(tickers))
	for _, t := range tickers {
		d := roles[t]
		price := params.BasePrice
		points := make([]domain.PricePoint, 0, len(dates))
		for _, date := range dates {
			r := d.mean + d.stdev*rng.NormFloat64()
			if r <= -1 {
				r = -0.99
			}
			price *= 1 + r
			points = append(points, domain.PricePoint{Date: date, Price: price})
		}
		out[t] = domain.PriceSeries{Ticker: t, Points: points}
	}
	return out
}
