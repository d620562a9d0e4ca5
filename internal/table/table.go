// Package table aligns per-ticker price series onto a shared date axis.
package table

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"taa/internal/domain"
	"taa/internal/util"
)

// ErrInsufficientRows is returned when fewer than two rows survive
// alignment.
var ErrInsufficientRows = errors.New("table: fewer than 2 aligned rows")

// Table is an aligned price table: ordered dates by ordered tickers. It is
// immutable once built; Slice returns views that share storage.
type Table struct {
	dates   []time.Time
	tickers []string
	index   map[string]int
	cols    [][]float64 // cols[j][i] is the price of tickers[j] at dates[i]
}

// Align builds a Table from per-ticker series: the union of all dates, minus
// tickers with no observations, forward-filled then back-filled, minus rows
// with no prices. Tickers are ordered by name.
func Align(series map[string]domain.PriceSeries) (*Table, error) {
	dateSet := make(map[int64]time.Time)
	for _, s := range series {
		for _, p := range s.Points {
			dateSet[p.Date.Unix()] = p.Date
		}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for _, d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	row := make(map[int64]int, len(dates))
	for i, d := range dates {
		row[d.Unix()] = i
	}

	cols := make(map[string][]float64, len(series))
	for key, s := range series {
		name := s.Ticker
		if name == "" {
			name = key
		}
		col := nanColumn(len(dates))
		for _, p := range s.Points {
			col[row[p.Date.Unix()]] = p.Price
		}
		cols[name] = col
	}
	return build(dates, cols)
}

// FromColumns builds a Table from pre-aligned columns. Every column must have
// one value per date; NaN marks a missing price. The same cleaning as Align
// is applied.
func FromColumns(dates []time.Time, cols map[string][]float64) (*Table, error) {
	if !sort.SliceIsSorted(dates, func(i, j int) bool { return dates[i].Before(dates[j]) }) {
		return nil, errors.New("table: dates not sorted")
	}
	copied := make(map[string][]float64, len(cols))
	for name, c := range cols {
		if len(c) != len(dates) {
			return nil, fmt.Errorf("table: column %s has %d values for %d dates", name, len(c), len(dates))
		}
		copied[name] = append([]float64(nil), c...)
	}
	return build(append([]time.Time(nil), dates...), copied)
}

// build cleans the columns in place and assembles the Table.
func build(dates []time.Time, cols map[string][]float64) (*Table, error) {
	tickers := make([]string, 0, len(cols))
	for name, c := range cols {
		if !allNaN(c) {
			tickers = append(tickers, name)
		}
	}
	sort.Strings(tickers)

	for _, name := range tickers {
		fill(cols[name])
	}

	// Drop rows where no ticker has a price.
	keep := make([]int, 0, len(dates))
	for i := range dates {
		for _, name := range tickers {
			if !math.IsNaN(cols[name][i]) {
				keep = append(keep, i)
				break
			}
		}
	}
	if len(keep) < 2 {
		return nil, ErrInsufficientRows
	}

	t := &Table{
		dates:   make([]time.Time, len(keep)),
		tickers: tickers,
		index:   make(map[string]int, len(tickers)),
		cols:    make([][]float64, len(tickers)),
	}
	for k, i := range keep {
		t.dates[k] = dates[i]
	}
	for j, name := range tickers {
		t.index[name] = j
		col := make([]float64, len(keep))
		for k, i := range keep {
			col[k] = cols[name][i]
		}
		t.cols[j] = col
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.dates) }

// Date returns the date of row i.
func (t *Table) Date(i int) time.Time { return t.dates[i] }

// Dates returns a copy of the date axis.
func (t *Table) Dates() []time.Time { return append([]time.Time(nil), t.dates...) }

// Tickers returns a copy of the ticker axis.
func (t *Table) Tickers() []string { return append([]string(nil), t.tickers...) }

// Has reports whether ticker is a column of the table.
func (t *Table) Has(ticker string) bool {
	_, ok := t.index[ticker]
	return ok
}

// Price returns the price of ticker at row i. ok is false when the ticker is
// absent, i is out of range or the value is missing.
func (t *Table) Price(ticker string, i int) (price float64, ok bool) {
	j, found := t.index[ticker]
	if !found || i < 0 || i >= len(t.dates) {
		return math.NaN(), false
	}
	v := t.cols[j][i]
	return v, !math.IsNaN(v)
}

// Column returns a copy of ticker's prices, or nil if absent.
func (t *Table) Column(ticker string) []float64 {
	j, ok := t.index[ticker]
	if !ok {
		return nil
	}
	return append([]float64(nil), t.cols[j]...)
}

// Slice returns a view holding rows [0, end]. The view shares storage with
// t; rows after end are not reachable through it.
func (t *Table) Slice(end int) *Table {
	if end >= len(t.dates)-1 {
		return t
	}
	if end < 0 {
		end = -1
	}
	v := &Table{
		dates:   t.dates[:end+1:end+1],
		tickers: t.tickers,
		index:   t.index,
		cols:    make([][]float64, len(t.cols)),
	}
	for j, c := range t.cols {
		v.cols[j] = c[: end+1 : end+1]
	}
	return v
}

// MonthEnd resamples the table to one row per calendar month, keeping the
// last row of each month stamped with the month's last calendar day.
func (t *Table) MonthEnd() *Table {
	var keep []int
	for i := range t.dates {
		if i+1 < len(t.dates) && util.SameMonth(t.dates[i], t.dates[i+1]) {
			continue
		}
		keep = append(keep, i)
	}

	out := &Table{
		dates:   make([]time.Time, len(keep)),
		tickers: t.tickers,
		index:   t.index,
		cols:    make([][]float64, len(t.cols)),
	}
	for k, i := range keep {
		out.dates[k] = util.MonthEnd(t.dates[i])
	}
	for j, c := range t.cols {
		col := make([]float64, len(keep))
		for k, i := range keep {
			col[k] = c[i]
		}
		out.cols[j] = col
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func nanColumn(n int) []float64 {
	c := make([]float64, n)
	for i := range c {
		c[i] = math.NaN()
	}
	return c
}

func allNaN(c []float64) bool {
	for _, v := range c {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// fill forward-fills then back-fills missing values in place.
func fill(c []float64) {
	last := math.NaN()
	for i, v := range c {
		if math.IsNaN(v) {
			c[i] = last
		} else {
			last = v
		}
	}
	next := math.NaN()
	for i := len(c) - 1; i >= 0; i-- {
		if math.IsNaN(c[i]) {
			c[i] = next
		} else {
			next = c[i]
		}
	}
}
