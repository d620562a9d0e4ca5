// Package dashboard computes the summary statistics and drawdown series
// shown for a backtest, and formats them for display.
package dashboard

import (
	"math"
	"time"

	"taa/internal/domain"
)

// Record holds the headline statistics of one return series. All fields are
// fractions: a CAGR of 0.07 is 7% a year, a MaxDrawdown of -0.2 a 20% loss.
type Record struct {
	CAGR        float64
	MaxDrawdown float64
	Sharpe      float64
	Volatility  float64
}

// DrawdownPoint is the percentage distance below the running peak at a date.
type DrawdownPoint struct {
	Date    time.Time
	Percent float64
}

// Compute derives a Record from periodic simple returns. Non-finite returns
// are dropped. Fewer than two usable returns yield the zero Record. Sharpe
// assumes a zero risk-free rate and uses the sample standard deviation.
func Compute(returns []float64, periodsPerYear int) Record {
	rs := clean(returns)
	n := len(rs)
	if n < 2 || periodsPerYear <= 0 {
		return Record{}
	}
	ppy := float64(periodsPerYear)

	equity, peak := 1.0, 1.0
	var mdd, sum float64
	for _, r := range rs {
		equity *= 1 + r
		peak = math.Max(peak, equity)
		if peak > 0 {
			mdd = math.Min(mdd, equity/peak-1)
		}
		sum += r
	}

	var rec Record
	rec.MaxDrawdown = mdd
	// A wiped-out curve has no defined growth rate.
	if equity > 0 {
		rec.CAGR = math.Pow(equity, ppy/float64(n)) - 1
	}

	mean := sum / float64(n)
	var ss float64
	for _, r := range rs {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(n-1))
	if std < 1e-12 {
		std = 0
	}
	rec.Volatility = std * math.Sqrt(ppy)
	if std > 0 {
		rec.Sharpe = mean / std * math.Sqrt(ppy)
	}
	return finite(rec)
}

// Drawdown returns, for every point of curve, how far its value sits below
// the highest value seen so far, in percent (0 at a new high).
func Drawdown(curve domain.EquityCurve) []DrawdownPoint {
	out := make([]DrawdownPoint, 0, curve.Len())
	var peak float64
	for _, p := range curve.Points {
		if p.Value > peak {
			peak = p.Value
		}
		var pct float64
		if peak > 0 {
			pct = (p.Value/peak - 1) * 100
		}
		out = append(out, DrawdownPoint{Date: p.Date, Percent: pct})
	}
	return out
}

// Percents returns the Percent field of each point.
func Percents(points []DrawdownPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Percent
	}
	return out
}

func clean(returns []float64) []float64 {
	out := make([]float64, 0, len(returns))
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func finite(r Record) Record {
	for _, f := range []*float64{&r.CAGR, &r.MaxDrawdown, &r.Sharpe, &r.Volatility} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return r
}
