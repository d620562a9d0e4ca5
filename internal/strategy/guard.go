package strategy

import (
	"fmt"
	"math"

	"taa/internal/domain"
)

// WeightGuard enforces allocation limits on a weight map before it is used
// for a rebalance.
type WeightGuard struct {
	maxTotal    float64
	maxPosition float64
	tolerance   float64
}

// DefaultGuard allows a fully invested, unlevered portfolio.
var DefaultGuard = NewWeightGuard(1, 1)

// NewWeightGuard creates a WeightGuard with the specified limits.
//
//   - maxTotal: maximum sum of weights (1.0 means no leverage).
//   - maxPosition: maximum weight on a single ticker.
func NewWeightGuard(maxTotal, maxPosition float64) *WeightGuard {
	return &WeightGuard{
		maxTotal:    maxTotal,
		maxPosition: maxPosition,
		tolerance:   1e-9,
	}
}

// Check returns an error describing the first violated limit, or nil.
func (g *WeightGuard) Check(w domain.WeightMap) error {
	for _, ticker := range w.Tickers() {
		v := w[ticker]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight on %s is not finite", ticker)
		}
		if v < 0 {
			return fmt.Errorf("negative weight %.6f on %s", v, ticker)
		}
		if v > g.maxPosition+g.tolerance {
			return fmt.Errorf("weight %.6f on %s exceeds position limit %.4f", v, ticker, g.maxPosition)
		}
	}
	if sum := w.Sum(); sum > g.maxTotal+g.tolerance {
		return fmt.Errorf("total weight %.6f exceeds limit %.4f", sum, g.maxTotal)
	}
	return nil
}
