// Package strategy defines the Strategy interface for allocation rules,
// provides a Registry for managing multiple strategy implementations and
// walks an aligned table to produce rebalance signals and equity curves.
package strategy

import (
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"taa/internal/domain"
	"taa/internal/table"
)

// Strategy is the interface that all allocation strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Lookback returns how many rows, including the current one, the
	// strategy needs before it can emit its first signal.
	Lookback() int

	// Weights returns the target allocation as of row idx. Implementations
	// must read only rows [0, idx] of t.
	Weights(t *table.Table, idx int) (domain.WeightMap, error)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Resolve looks up every name in order and fails on the first unknown one.
func (r *Registry) Resolve(names []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, r.List())
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Signal generation
// ---------------------------------------------------------------------------

// FirstIndex returns the first row at which s has enough trailing history.
func FirstIndex(s Strategy) int {
	return max(s.Lookback()-1, 0)
}

// Generate returns the rebalance signals of s over t, one per row from
// FirstIndex(s) through the last row. The sequence is lazy and restartable:
// each range recomputes it.
func Generate(s Strategy, t *table.Table) iter.Seq[domain.RebalanceSignal] {
	return func(yield func(domain.RebalanceSignal) bool) {
		for _, sig := range signals(s, t, FirstIndex(s), t.Len()-1) {
			if !yield(sig) {
				return
			}
		}
	}
}

// LatestSignal returns the newest signal whose following period has been
// realised, i.e. the one computed on the second-to-last row.
func LatestSignal(s Strategy, t *table.Table) (domain.RebalanceSignal, bool) {
	return signalAt(s, t, t.Len()-2)
}

// ProvisionalSignal returns the signal computed on the newest row, whose
// period has not been realised yet.
func ProvisionalSignal(s Strategy, t *table.Table) (domain.RebalanceSignal, bool) {
	return signalAt(s, t, t.Len()-1)
}

func signalAt(s Strategy, t *table.Table, idx int) (domain.RebalanceSignal, bool) {
	if idx < FirstIndex(s) || idx < 0 {
		return domain.RebalanceSignal{}, false
	}
	return domain.RebalanceSignal{Date: t.Date(idx), Weights: SafeWeights(s, t, idx)}, true
}

// signals yields (row, signal) pairs for rows [from, to].
func signals(s Strategy, t *table.Table, from, to int) iter.Seq2[int, domain.RebalanceSignal] {
	return func(yield func(int, domain.RebalanceSignal) bool) {
		for i := max(from, 0); i <= to && i < t.Len(); i++ {
			sig := domain.RebalanceSignal{Date: t.Date(i), Weights: SafeWeights(s, t, i)}
			if !yield(i, sig) {
				return
			}
		}
	}
}

// SafeWeights computes the weights of s at row idx on a view of t that ends
// at idx. An error, a panic or a map that fails the weight guard degrades to
// an empty map for that row only.
func SafeWeights(s Strategy, t *table.Table, idx int) (w domain.WeightMap) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("strategy panicked, holding flat", "strategy", s.Name(), "date", t.Date(idx).Format("2006-01-02"), "panic", r)
			w = domain.WeightMap{}
		}
	}()

	w, err := s.Weights(t.Slice(idx), idx)
	if err == nil {
		err = DefaultGuard.Check(w)
	}
	if err != nil {
		slog.Warn("allocation failed, holding flat", "strategy", s.Name(), "date", t.Date(idx).Format("2006-01-02"), "error", err)
		return domain.WeightMap{}
	}
	if w == nil {
		w = domain.WeightMap{}
	}
	return w
}
