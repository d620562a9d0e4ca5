package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"taa/internal/domain"
	"taa/internal/table"
)

// stubStrategy is a minimal Strategy implementation whose weights come from fn.
type stubStrategy struct {
	name     string
	lookback int
	fn       func(t *table.Table, idx int) (domain.WeightMap, error)
}

func (s *stubStrategy) Name() string  { return s.name }
func (s *stubStrategy) Lookback() int { return s.lookback }
func (s *stubStrategy) Weights(t *table.Table, idx int) (domain.WeightMap, error) {
	if s.fn == nil {
		return domain.WeightMap{}, nil
	}
	return s.fn(t, idx)
}

func allIn(ticker string) func(*table.Table, int) (domain.WeightMap, error) {
	return func(*table.Table, int) (domain.WeightMap, error) {
		return domain.WeightMap{ticker: 1}, nil
	}
}

func monthEnds(n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = time.Date(2015, time.Month(i+2), 0, 0, 0, 0, 0, time.UTC)
	}
	return dates
}

func build(t *testing.T, cols map[string][]float64) *table.Table {
	t.Helper()
	var n int
	for _, c := range cols {
		n = len(c)
	}
	tbl, err := table.FromColumns(monthEnds(n), cols)
	if err != nil {
		t.Fatalf("FromColumns: %v", err)
	}
	return tbl
}

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-6*math.Max(1, math.Abs(b)) }

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &stubStrategy{name: "test-strategy"}

	r.Register(s)

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "beta"})
	r.Register(&stubStrategy{name: "alpha"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "canary"})
	r.Register(&stubStrategy{name: "dual"})

	got, err := r.Resolve([]string{"dual", "canary"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 2 || got[0].Name() != "dual" || got[1].Name() != "canary" {
		t.Errorf("Resolve order = %v", got)
	}
	if _, err := r.Resolve([]string{"canary", "nope"}); err == nil {
		t.Error("Resolve with unknown name should fail")
	}
}

// ---------------------------------------------------------------------------
// Signal generation
// ---------------------------------------------------------------------------

func TestGenerateStartsAfterLookback(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {1, 2, 3, 4, 5, 6}})
	s := &stubStrategy{name: "s", lookback: 3, fn: allIn("A")}

	var got []domain.RebalanceSignal
	for sig := range Generate(s, tbl) {
		got = append(got, sig)
	}
	if len(got) != 4 {
		t.Fatalf("Generate yielded %d signals, want 4", len(got))
	}
	if !got[0].Date.Equal(tbl.Date(2)) || !got[3].Date.Equal(tbl.Date(5)) {
		t.Errorf("signal dates = %v .. %v, want %v .. %v", got[0].Date, got[3].Date, tbl.Date(2), tbl.Date(5))
	}

	// Restartable: a second range yields the same sequence.
	var again int
	for range Generate(s, tbl) {
		again++
	}
	if again != len(got) {
		t.Errorf("second range yielded %d signals, want %d", again, len(got))
	}
}

func TestGenerateStopsEarly(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {1, 2, 3, 4, 5, 6}})
	var calls int
	s := &stubStrategy{name: "s", lookback: 1, fn: func(*table.Table, int) (domain.WeightMap, error) {
		calls++
		return domain.WeightMap{}, nil
	}}

	for range Generate(s, tbl) {
		break
	}
	if calls != 1 {
		t.Errorf("Weights called %d times after break, want 1", calls)
	}
}

func TestWeightsSeeNoFutureRows(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {1, 2, 3, 4, 5}})
	s := &stubStrategy{name: "s", lookback: 1, fn: func(view *table.Table, idx int) (domain.WeightMap, error) {
		if view.Len() != idx+1 {
			t.Errorf("row %d: view has %d rows, want %d", idx, view.Len(), idx+1)
		}
		return domain.WeightMap{}, nil
	}}
	for range Generate(s, tbl) {
	}
}

func TestFailuresDegradeToEmptyWeights(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {1, 2, 3, 4, 5}})
	s := &stubStrategy{name: "flaky", lookback: 1, fn: func(_ *table.Table, idx int) (domain.WeightMap, error) {
		switch idx {
		case 1:
			return nil, errors.New("boom")
		case 2:
			panic("kaboom")
		case 3:
			return domain.WeightMap{"A": 0.8, "B": 0.8}, nil
		}
		return domain.WeightMap{"A": 1}, nil
	}}

	var sigs []domain.RebalanceSignal
	for sig := range Generate(s, tbl) {
		sigs = append(sigs, sig)
	}
	if len(sigs) != 5 {
		t.Fatalf("got %d signals, want 5", len(sigs))
	}
	for i, want := range []float64{1, 0, 0, 0, 1} {
		if got := sigs[i].Weights.Sum(); got != want {
			t.Errorf("row %d: weight sum = %v, want %v", i, got, want)
		}
		if sigs[i].Weights == nil {
			t.Errorf("row %d: nil weight map", i)
		}
	}
}

func TestLatestAndProvisionalSignal(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {1, 2, 3, 4}})
	s := &stubStrategy{name: "s", lookback: 2, fn: allIn("A")}

	latest, ok := LatestSignal(s, tbl)
	if !ok || !latest.Date.Equal(tbl.Date(2)) {
		t.Errorf("LatestSignal = %v, %v; want date %v", latest.Date, ok, tbl.Date(2))
	}
	prov, ok := ProvisionalSignal(s, tbl)
	if !ok || !prov.Date.Equal(tbl.Date(3)) {
		t.Errorf("ProvisionalSignal = %v, %v; want date %v", prov.Date, ok, tbl.Date(3))
	}

	long := &stubStrategy{name: "long", lookback: 4, fn: allIn("A")}
	if _, ok := LatestSignal(long, tbl); ok {
		t.Error("LatestSignal should be unavailable before the lookback is satisfied")
	}
	if _, ok := ProvisionalSignal(long, tbl); !ok {
		t.Error("ProvisionalSignal should exist on the first eligible row")
	}
}

func TestWeightGuard(t *testing.T) {
	g := NewWeightGuard(1, 0.5)
	tests := []struct {
		name string
		w    domain.WeightMap
		ok   bool
	}{
		{"empty", domain.WeightMap{}, true},
		{"split", domain.WeightMap{"A": 0.5, "B": 0.5}, true},
		{"position", domain.WeightMap{"A": 0.6}, false},
		{"negative", domain.WeightMap{"A": -0.1}, false},
		{"nan", domain.WeightMap{"A": math.NaN()}, false},
		{"total", domain.WeightMap{"A": 0.5, "B": 0.5, "C": 0.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(tt.w)
			if (err == nil) != tt.ok {
				t.Errorf("Check(%v) error = %v, want ok=%v", tt.w, err, tt.ok)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Simulator
// ---------------------------------------------------------------------------

func TestSimulatorZeroReturnsKeepEquityFlat(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {50, 50, 50, 50, 50}, "B": {7, 7, 7, 7, 7}})
	sim := NewSimulator(100000, "A")

	res, err := sim.Run(tbl, []Strategy{
		&stubStrategy{name: "a", lookback: 1, fn: allIn("A")},
		&stubStrategy{name: "b", lookback: 2, fn: allIn("B")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Blended.Len() != 4 {
		t.Fatalf("blended curve has %d points, want 4", res.Blended.Len())
	}
	for _, v := range res.Blended.Values() {
		if v != 100000 {
			t.Errorf("blended value = %v, want 100000", v)
		}
	}
	for name, curve := range res.PerStrategy {
		if curve.Last() != 100000 {
			t.Errorf("%s final value = %v, want 100000", name, curve.Last())
		}
	}
}

func TestSimulatorCompoundsWithOneRowDelay(t *testing.T) {
	tbl := build(t, map[string][]float64{
		"A": {100, 110, 121, 121},
		"B": {100, 100, 100, 150},
	})
	// Holds A through row 1, then B.
	rotate := &stubStrategy{name: "rotate", lookback: 1, fn: func(_ *table.Table, idx int) (domain.WeightMap, error) {
		if idx >= 2 {
			return domain.WeightMap{"B": 1}, nil
		}
		return domain.WeightMap{"A": 1}, nil
	}}

	res, err := NewSimulator(1000, "A").Run(tbl, []Strategy{rotate})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float64{1000, 1100, 1210, 1815}
	got := res.PerStrategy["rotate"].Values()
	if len(got) != len(want) {
		t.Fatalf("curve length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("value[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if n := len(res.Signals["rotate"]); n != 3 {
		t.Errorf("realised signals = %d, want 3", n)
	}
}

func TestSimulatorBlendsEqually(t *testing.T) {
	tbl := build(t, map[string][]float64{
		"A": {100, 120},
		"B": {100, 100},
	})
	res, err := NewSimulator(1000, "A").Run(tbl, []Strategy{
		&stubStrategy{name: "a", lookback: 1, fn: allIn("A")},
		&stubStrategy{name: "b", lookback: 1, fn: allIn("B")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Blended.Last(); !approx(got, 1100) {
		t.Errorf("blended final = %v, want 1100", got)
	}
	if got := res.PerStrategy["a"].Last(); !approx(got, 1200) {
		t.Errorf("strategy a final = %v, want 1200", got)
	}
}

func TestSimulatorBenchmark(t *testing.T) {
	tbl := build(t, map[string][]float64{
		"SPY": {200, 220, 180},
		"A":   {1, 1, 1},
	})
	s := &stubStrategy{name: "a", lookback: 1, fn: allIn("A")}

	res, err := NewSimulator(1000, "SPY").Run(tbl, []Strategy{s})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []float64{1000, 1100, 900}
	for i, v := range res.Benchmark.Values() {
		if !approx(v, want[i]) {
			t.Errorf("benchmark[%d] = %v, want %v", i, v, want[i])
		}
	}

	res, err = NewSimulator(1000, "QQQ").Run(tbl, []Strategy{s})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, v := range res.Benchmark.Values() {
		if v != 1000 {
			t.Errorf("missing benchmark[%d] = %v, want flat 1000", i, v)
		}
	}
}

func TestSimulatorShortTable(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {1, 2, 3}})
	s := &stubStrategy{name: "long", lookback: 12, fn: allIn("A")}

	res, err := NewSimulator(1000, "A").Run(tbl, []Strategy{s})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Blended.Len() != 1 || res.Blended.Last() != 1000 {
		t.Errorf("blended = %v, want a single point at capital", res.Blended.Points)
	}
	if len(res.Signals["long"]) != 0 {
		t.Errorf("signals = %d, want 0", len(res.Signals["long"]))
	}
}

func TestSimulatorRejectsBadInput(t *testing.T) {
	tbl := build(t, map[string][]float64{"A": {1, 2, 3}})
	s := &stubStrategy{name: "s", lookback: 1}

	if _, err := NewSimulator(1000, "A").Run(tbl, nil); err == nil {
		t.Error("Run with no strategies should fail")
	}
	if _, err := NewSimulator(0, "A").Run(tbl, []Strategy{s}); err == nil {
		t.Error("Run with zero capital should fail")
	}
	if _, err := NewSimulator(1000, "A").Run(tbl, []Strategy{s, s}); err == nil {
		t.Error("Run with duplicate strategies should fail")
	}
}
