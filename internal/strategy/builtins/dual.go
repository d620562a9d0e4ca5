package builtins

import (
	"taa/internal/domain"
	"taa/internal/momentum"
	"taa/internal/strategy"
	"taa/internal/table"
)

// Compile-time interface check.
var _ strategy.Strategy = (*DualMomentum)(nil)

// DualMomentum holds up to six broad-universe tickers with positive momentum,
// 1/6 each, and parks the unused slots in the best fill ticker.
type DualMomentum struct {
	broad []string
	fill  []string
	scoring
}

// NewDualMomentum creates the strategy with the four-period rate of change
// unless an Option overrides it.
func NewDualMomentum(broad, fill []string, opts ...Option) *DualMomentum {
	return &DualMomentum{
		broad:   broad,
		fill:    fill,
		scoring: newScoring(momentum.RateOfChange, momentum.MinPeriodsROC, opts),
	}
}

// Name returns "dual".
func (d *DualMomentum) Name() string { return "dual" }

// DisplayName is the label used in reports.
func (d *DualMomentum) DisplayName() string { return "DUAL MOMENTUM" }

// Lookback returns the rows the scorer needs.
func (d *DualMomentum) Lookback() int { return d.lookback }

// Tickers returns every ticker the strategy reads.
func (d *DualMomentum) Tickers() []string { return union(d.broad, d.fill) }

// Weights computes the allocation as of row idx. The fill ticker receives
// the shortfall even when its own score is not positive.
func (d *DualMomentum) Weights(t *table.Table, idx int) (domain.WeightMap, error) {
	var positive []candidate
	for _, cand := range d.scoreAll(t, d.broad, idx) {
		if cand.score > 0 {
			positive = append(positive, cand)
		}
	}
	selected := top(positive, maxHoldings)

	w := domain.WeightMap{}
	for _, s := range selected {
		w.Add(s.ticker, 1.0/maxHoldings)
	}

	if k := len(selected); k < maxHoldings {
		if best := top(d.scoreAll(t, d.fill, idx), 1); len(best) > 0 {
			w.Add(best[0].ticker, float64(maxHoldings-k)/maxHoldings)
		}
	}
	return w, nil
}
