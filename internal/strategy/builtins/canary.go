package builtins

import (
	"taa/internal/domain"
	"taa/internal/momentum"
	"taa/internal/strategy"
	"taa/internal/table"
)

// Compile-time interface check.
var _ strategy.Strategy = (*CanaryGated)(nil)

// Universe groups the tickers a CanaryGated strategy looks at.
type Universe struct {
	Risky      []string
	Protective []string
	Canary     []string
}

// CanaryGated moves between risky and protective assets depending on how
// many canary tickers have non-positive momentum:
//
//	n == 2: everything in the best protective ticker
//	n == 1: half in the best protective ticker, half across the top risky
//	n == 0: 1/6 in each of the top six risky tickers
//
// Canaries missing from the table are not counted.
type CanaryGated struct {
	universe Universe
	scoring
}

// NewCanaryGated creates the strategy with the multi-horizon weighted score
// unless an Option overrides it.
func NewCanaryGated(u Universe, opts ...Option) *CanaryGated {
	return &CanaryGated{
		universe: u,
		scoring:  newScoring(momentum.WeightedScore, momentum.MinPeriodsWeighted, opts),
	}
}

// Name returns "canary".
func (c *CanaryGated) Name() string { return "canary" }

// DisplayName is the label used in reports.
func (c *CanaryGated) DisplayName() string { return "DAA KELLER" }

// Lookback returns the rows the scorer needs.
func (c *CanaryGated) Lookback() int { return c.lookback }

// Tickers returns every ticker the strategy reads.
func (c *CanaryGated) Tickers() []string {
	return union(c.universe.Risky, c.universe.Protective, c.universe.Canary)
}

// Weights computes the allocation as of row idx.
func (c *CanaryGated) Weights(t *table.Table, idx int) (domain.WeightMap, error) {
	var bad int
	for _, cand := range c.scoreAll(t, c.universe.Canary, idx) {
		if cand.score <= 0 {
			bad++
		}
	}

	protective := top(c.scoreAll(t, c.universe.Protective, idx), 1)
	risky := top(c.scoreAll(t, c.universe.Risky, idx), maxHoldings)

	w := domain.WeightMap{}
	switch {
	case bad == 2 && len(protective) > 0:
		w.Add(protective[0].ticker, 1)
	case bad == 1 && len(protective) > 0 && len(risky) > 0:
		w.Add(protective[0].ticker, 0.5)
		share := 0.5 / float64(len(risky))
		for _, r := range risky {
			w.Add(r.ticker, share)
		}
	case (bad == 0 || len(protective) == 0) && len(risky) > 0:
		for _, r := range risky {
			w.Add(r.ticker, 1.0/maxHoldings)
		}
	}
	return w, nil
}
