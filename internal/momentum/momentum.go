// Package momentum scores trailing price strength on an aligned table.
// Scores never fail: insufficient history, a missing ticker or an unusable
// price all score 0.
package momentum

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"taa/internal/table"
)

const (
	// MinPeriodsWeighted is the fewest rows WeightedScore needs.
	MinPeriodsWeighted = 21
	// MinPeriodsROC is the fewest rows RateOfChange needs.
	MinPeriodsROC = 5
	// rocLag is how many periods back RateOfChange looks.
	rocLag = 4
)

// Scorer computes the momentum of ticker as of row idx, reading only rows
// [0, idx] of t.
type Scorer func(t *table.Table, ticker string, idx int) float64

// WeightedScore is the multi-horizon score
//
//	12·p0/p1 + 4·p0/p3 + 2·p0/p6 + p0/p12 − 19
//
// where pN is the price N periods before row idx, clipped to row 0.
func WeightedScore(t *table.Table, ticker string, idx int) (score float64) {
	defer guard("weighted", ticker, &score)

	if t == nil || idx >= t.Len() || idx+1 < MinPeriodsWeighted {
		return 0
	}
	p0, ok := positive(t, ticker, idx)
	if !ok {
		return 0
	}

	var total float64
	for _, h := range []struct {
		lag    int
		weight float64
	}{{1, 12}, {3, 4}, {6, 2}, {12, 1}} {
		pn, ok := positive(t, ticker, max(idx-h.lag, 0))
		if !ok {
			return 0
		}
		total += h.weight * p0 / pn
	}
	return total - 19
}

// RateOfChange is p0/p−4 − 1, the return over the last four periods.
func RateOfChange(t *table.Table, ticker string, idx int) (score float64) {
	defer guard("roc", ticker, &score)

	if t == nil || idx >= t.Len() || idx+1 < MinPeriodsROC {
		return 0
	}
	ref, ok := positive(t, ticker, idx-rocLag)
	if !ok {
		return 0
	}
	p0, ok := t.Price(ticker, idx)
	if !ok {
		return 0
	}
	return p0/ref - 1
}

// Named resolves a scorer by name: "weighted" (alias "13612w") or "roc".
func Named(name string) (Scorer, error) {
	switch strings.ToLower(name) {
	case "weighted", "13612w":
		return WeightedScore, nil
	case "roc":
		return RateOfChange, nil
	}
	return nil, fmt.Errorf("unknown momentum scorer %q", name)
}

// positive returns the price at row i when it is present and above zero.
func positive(t *table.Table, ticker string, i int) (float64, bool) {
	p, ok := t.Price(ticker, i)
	if !ok || !(p > 0) || math.IsInf(p, 0) {
		return 0, false
	}
	return p, true
}

// guard turns a panic or a non-finite result into a zero score.
func guard(variant, ticker string, score *float64) {
	if r := recover(); r != nil {
		slog.Debug("momentum score recovered", "variant", variant, "ticker", ticker, "panic", r)
		*score = 0
		return
	}
	if math.IsNaN(*score) || math.IsInf(*score, 0) {
		*score = 0
	}
}
