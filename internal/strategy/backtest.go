package strategy

import (
	"errors"
	"fmt"
	"time"

	"taa/internal/domain"
	"taa/internal/table"
)

// Result holds the curves and signals produced by a simulation.
type Result struct {
	// Dates is the shared date axis of every curve.
	Dates []time.Time
	// Blended is the equity of the equally weighted mix of all strategies.
	Blended domain.EquityCurve
	// PerStrategy holds each strategy's standalone equity, keyed by name.
	PerStrategy map[string]domain.EquityCurve
	// Benchmark is the reference ticker scaled to the initial capital, or a
	// flat line when the ticker is missing.
	Benchmark domain.EquityCurve
	// Signals holds the realised signals of each strategy, keyed by name.
	Signals map[string][]domain.RebalanceSignal
}

// Simulator walks an aligned table and compounds the returns of one or more
// strategies.
type Simulator struct {
	capital   float64
	benchmark string
}

// NewSimulator creates a Simulator that starts every curve at capital and
// tracks benchmark as the reference ticker.
func NewSimulator(capital float64, benchmark string) *Simulator {
	return &Simulator{capital: capital, benchmark: benchmark}
}

// Run simulates strategies over t. Curves start with the capital on the
// first row where every strategy has enough history. The weights applied to
// the period ending at row i are computed from rows up to i-1 only. A table
// too short to realise any period yields single-point curves.
func (sim *Simulator) Run(t *table.Table, strategies []Strategy) (*Result, error) {
	if t == nil || t.Len() == 0 {
		return nil, errors.New("simulator: empty table")
	}
	if len(strategies) == 0 {
		return nil, errors.New("simulator: no strategies")
	}
	if !(sim.capital > 0) {
		return nil, fmt.Errorf("simulator: capital must be positive, got %v", sim.capital)
	}

	names := make(map[string]bool, len(strategies))
	start := 0
	for _, s := range strategies {
		if names[s.Name()] {
			return nil, fmt.Errorf("simulator: duplicate strategy %q", s.Name())
		}
		names[s.Name()] = true
		start = max(start, FirstIndex(s))
	}
	last := t.Len() - 1
	start = min(start, last)

	res := &Result{
		Dates:       t.Dates()[start:],
		PerStrategy: make(map[string]domain.EquityCurve, len(strategies)),
		Signals:     make(map[string][]domain.RebalanceSignal, len(strategies)),
	}

	// Realised signals: rows [start, last-1]; row last has no following period.
	weights := make([][]domain.WeightMap, len(strategies))
	for k, s := range strategies {
		weights[k] = make([]domain.WeightMap, 0, last-start)
		for _, sig := range signals(s, t, start, last-1) {
			weights[k] = append(weights[k], sig.Weights)
			res.Signals[s.Name()] = append(res.Signals[s.Name()], sig)
		}
	}

	startDate := t.Date(start)
	res.Blended = domain.NewEquityCurve(startDate, sim.capital)
	curves := make([]domain.EquityCurve, len(strategies))
	for k := range strategies {
		curves[k] = domain.NewEquityCurve(startDate, sim.capital)
	}

	for i := start + 1; i <= last; i++ {
		step := i - start - 1
		blend := domain.WeightMap{}
		for k := range strategies {
			w := weights[k][step]
			curves[k].Append(t.Date(i), curves[k].Last()*(1+PeriodReturn(t, w, i)))
			for ticker, v := range w {
				blend.Add(ticker, v/float64(len(strategies)))
			}
		}
		res.Blended.Append(t.Date(i), res.Blended.Last()*(1+PeriodReturn(t, blend, i)))
	}

	for k, s := range strategies {
		res.PerStrategy[s.Name()] = curves[k]
	}
	res.Benchmark = sim.benchmarkCurve(t, start)
	return res, nil
}

// PeriodReturn is the weighted return over (i-1, i]. Tickers without a
// positive price at both rows contribute nothing.
func PeriodReturn(t *table.Table, w domain.WeightMap, i int) float64 {
	if i < 1 {
		return 0
	}
	var r float64
	for ticker, weight := range w {
		prev, ok1 := t.Price(ticker, i-1)
		cur, ok2 := t.Price(ticker, i)
		if !ok1 || !ok2 || !(prev > 0) || !(cur > 0) {
			continue
		}
		r += weight * (cur/prev - 1)
	}
	return r
}

// benchmarkCurve scales the benchmark price to the capital at row start and
// carries the last valid value forward over gaps.
func (sim *Simulator) benchmarkCurve(t *table.Table, start int) domain.EquityCurve {
	curve := domain.NewEquityCurve(t.Date(start), sim.capital)
	base, ok := t.Price(sim.benchmark, start)
	if !ok || !(base > 0) {
		base = 0
	}

	value := sim.capital
	for i := start + 1; i < t.Len(); i++ {
		if p, ok := t.Price(sim.benchmark, i); ok && base > 0 && p > 0 {
			value = sim.capital * p / base
		}
		curve.Append(t.Date(i), value)
	}
	return curve
}
