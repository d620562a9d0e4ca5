// Package domain defines the core value types shared across the backtesting
// pipeline: price series, weight maps, rebalance signals and equity curves.
package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Prices
// ---------------------------------------------------------------------------

// PricePoint is a single dated adjusted price observation.
type PricePoint struct {
	Date  time.Time
	Price float64
}

// PriceSeries is an ordered sequence of price observations for one ticker.
// Dates are strictly increasing once Normalize has been applied.
type PriceSeries struct {
	Ticker string
	Points []PricePoint
}

// Len returns the number of observations in the series.
func (s PriceSeries) Len() int { return len(s.Points) }

// Empty reports whether the series holds no observations.
func (s PriceSeries) Empty() bool { return len(s.Points) == 0 }

// Normalize upper-cases the ticker, sorts points by date and removes
// duplicate dates, keeping the last observation for each date.
func (s PriceSeries) Normalize() PriceSeries {
	pts := make([]PricePoint, len(s.Points))
	copy(pts, s.Points)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })

	out := pts[:0]
	for _, p := range pts {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return PriceSeries{Ticker: strings.ToUpper(s.Ticker), Points: out}
}

// Clip returns the observations falling within [start, end]. A zero end
// means no upper bound.
func (s PriceSeries) Clip(start, end time.Time) PriceSeries {
	var pts []PricePoint
	for _, p := range s.Points {
		if p.Date.Before(start) {
			continue
		}
		if !end.IsZero() && p.Date.After(end) {
			continue
		}
		pts = append(pts, p)
	}
	return PriceSeries{Ticker: s.Ticker, Points: pts}
}

// ---------------------------------------------------------------------------
// Weights and signals
// ---------------------------------------------------------------------------

// WeightMap maps ticker to the fraction of capital allocated to it. Weights
// are non-negative and sum to at most 1; any shortfall is uninvested.
type WeightMap map[string]float64

// Sum returns the total allocated fraction.
func (w WeightMap) Sum() float64 {
	var total float64
	for _, v := range w {
		total += v
	}
	return total
}

// Add accumulates weight on ticker.
func (w WeightMap) Add(ticker string, weight float64) {
	w[ticker] += weight
}

// Tickers returns the allocated tickers in sorted order.
func (w WeightMap) Tickers() []string {
	out := make([]string, 0, len(w))
	for t := range w {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the map.
func (w WeightMap) Clone() WeightMap {
	out := make(WeightMap, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// RebalanceSignal pairs a rebalance date with the target weights computed
// from data available up to and including that date.
type RebalanceSignal struct {
	Date    time.Time
	Weights WeightMap
}

// ---------------------------------------------------------------------------
// Equity
// ---------------------------------------------------------------------------

// EquityPoint is the portfolio value at a date.
type EquityPoint struct {
	Date  time.Time
	Value float64
}

// EquityCurve is an append-only sequence of portfolio values. The first
// value is the initial capital.
type EquityCurve struct {
	Points []EquityPoint
}

// NewEquityCurve starts a curve at date with the given initial capital.
func NewEquityCurve(date time.Time, capital float64) EquityCurve {
	return EquityCurve{Points: []EquityPoint{{Date: date, Value: capital}}}
}

// Append adds a value to the end of the curve.
func (c *EquityCurve) Append(date time.Time, value float64) {
	c.Points = append(c.Points, EquityPoint{Date: date, Value: value})
}

// Len returns the number of points on the curve.
func (c EquityCurve) Len() int { return len(c.Points) }

// Last returns the most recent value, or 0 for an empty curve.
func (c EquityCurve) Last() float64 {
	if len(c.Points) == 0 {
		return 0
	}
	return c.Points[len(c.Points)-1].Value
}

// Values returns the curve values in order.
func (c EquityCurve) Values() []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = p.Value
	}
	return out
}

// Returns computes period-over-period simple returns. Periods whose prior
// value is not positive are skipped.
func (c EquityCurve) Returns() []float64 {
	if len(c.Points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(c.Points)-1)
	for i := 1; i < len(c.Points); i++ {
		prev := c.Points[i-1].Value
		if prev <= 0 || math.IsNaN(prev) {
			continue
		}
		out = append(out, c.Points[i].Value/prev-1)
	}
	return out
}
