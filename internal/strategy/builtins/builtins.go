// Package builtins provides the allocation strategies that ship with taa.
package builtins

import (
	"sort"
	"strings"

	"taa/internal/momentum"
	"taa/internal/strategy"
	"taa/internal/table"
)

// maxHoldings is the most tickers any builtin strategy holds at once; each
// slot is worth 1/maxHoldings of capital.
const maxHoldings = 6

// Option customises a builtin strategy.
type Option func(*scoring)

// WithScorer replaces the momentum scorer and the history it needs.
func WithScorer(scorer momentum.Scorer, lookback int) Option {
	return func(s *scoring) {
		if scorer != nil {
			s.score = scorer
			s.lookback = lookback
		}
	}
}

type scoring struct {
	score    momentum.Scorer
	lookback int
}

func newScoring(score momentum.Scorer, lookback int, opts []Option) scoring {
	s := scoring{score: score, lookback: lookback}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Config lists the universes the builtin strategies allocate across.
type Config struct {
	Risky      []string
	Protective []string
	Canary     []string
	Broad      []string
	Fill       []string
}

// Register adds every builtin strategy to r.
func Register(r *strategy.Registry, cfg Config) {
	r.Register(NewCanaryGated(Universe{Risky: cfg.Risky, Protective: cfg.Protective, Canary: cfg.Canary}))
	r.Register(NewDualMomentum(cfg.Broad, cfg.Fill))
}

// union concatenates ticker lists, upper-cased, keeping the first occurrence.
func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, ticker := range list {
			ticker = strings.ToUpper(strings.TrimSpace(ticker))
			if ticker == "" || seen[ticker] {
				continue
			}
			seen[ticker] = true
			out = append(out, ticker)
		}
	}
	return out
}

// candidate is a scored ticker.
type candidate struct {
	ticker string
	score  float64
}

// scoreAll scores the tickers present in t at row idx, in input order, with
// duplicates removed.
func (s scoring) scoreAll(t *table.Table, tickers []string, idx int) []candidate {
	seen := make(map[string]bool, len(tickers))
	out := make([]candidate, 0, len(tickers))
	for _, ticker := range tickers {
		ticker = strings.ToUpper(ticker)
		if seen[ticker] || !t.Has(ticker) {
			continue
		}
		seen[ticker] = true
		out = append(out, candidate{ticker: ticker, score: s.score(t, ticker, idx)})
	}
	return out
}

// ranked sorts candidates by descending score. Ties keep input order.
func ranked(cs []candidate) []candidate {
	out := append([]candidate(nil), cs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// top returns at most n of the best candidates.
func top(cs []candidate, n int) []candidate {
	r := ranked(cs)
	if len(r) > n {
		r = r[:n]
	}
	return r
}
