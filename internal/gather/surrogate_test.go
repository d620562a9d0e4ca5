package gather

import (
	"math"
	"testing"
)

func TestSurrogateDeterministic(t *testing.T) {
	params := DefaultSurrogateParams(
		[]string{"SPY", "LQD"},
		[]string{"SHY", "LQD"},
		[]string{"EEM"},
		[]string{"spy", "BIL"},
	)

	a := Surrogate(params)
	b := Surrogate(params)

	if len(a) != 5 {
		t.Fatalf("got %d tickers, want 5 (SPY LQD SHY EEM BIL)", len(a))
	}
	for tk, s := range a {
		if s.Len() != 168 {
			t.Errorf("%s has %d points, want 168 month ends", tk, s.Len())
		}
		other := b[tk]
		for i := range s.Points {
			if s.Points[i] != other.Points[i] {
				t.Fatalf("%s differs between runs at %d", tk, i)
			}
		}
	}

	spy := a["SPY"]
	if !spy.Points[0].Date.Equal(day(2010, 1, 31)) || !spy.Points[167].Date.Equal(day(2023, 12, 31)) {
		t.Errorf("SPY spans %v..%v, want 2010-01-31..2023-12-31", spy.Points[0].Date, spy.Points[167].Date)
	}
}

func TestSurrogateRoles(t *testing.T) {
	data := Surrogate(DefaultSurrogateParams([]string{"SPY", "LQD"}, []string{"LQD"}, nil, nil))

	stdev := func(tk string) float64 {
		pts := data[tk].Points
		var rets []float64
		prev := 100.0
		for _, p := range pts {
			rets = append(rets, p.Price/prev-1)
			prev = p.Price
		}
		var mean float64
		for _, r := range rets {
			mean += r
		}
		mean /= float64(len(rets))
		var ss float64
		for _, r := range rets {
			ss += (r - mean) * (r - mean)
		}
		return math.Sqrt(ss / float64(len(rets)-1))
	}

	// LQD is listed as risky and protective; protective wins.
	if sd := stdev("LQD"); sd > 0.02 {
		t.Errorf("LQD return stdev = %.4f, want protective-like (< 0.02)", sd)
	}
	if sd := stdev("SPY"); sd < 0.03 {
		t.Errorf("SPY return stdev = %.4f, want risky-like (> 0.03)", sd)
	}
	for _, p := range data["SPY"].Points {
		if p.Price <= 0 {
			t.Fatalf("non-positive surrogate price %v", p.Price)
		}
	}
}
