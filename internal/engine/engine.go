// Package engine runs the backtest pipeline: fetch prices, align them,
// simulate the configured strategies, score the curves and persist the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"taa/internal/config"
	"taa/internal/dashboard"
	"taa/internal/domain"
	"taa/internal/gather"
	"taa/internal/store"
	"taa/internal/strategy"
	"taa/internal/table"
)

// Series names used in Report.Metrics and Report.Drawdowns besides the
// strategy names.
const (
	SeriesBlended   = "blended"
	SeriesBenchmark = "benchmark"
)

// Fetcher loads month-end price series for a set of tickers.
type Fetcher interface {
	FetchAll(ctx context.Context, tickers []string, start, end time.Time) (map[string]domain.PriceSeries, []string, error)
}

// tickerLister is implemented by strategies that know which tickers they read.
type tickerLister interface {
	Tickers() []string
}

// Report is everything a run produces.
type Report struct {
	RunID       string
	Table       *table.Table
	Signals     map[string][]domain.RebalanceSignal
	Latest      map[string]domain.RebalanceSignal
	Provisional map[string]domain.RebalanceSignal
	Result      *strategy.Result
	Metrics     map[string]dashboard.Record
	Drawdowns   map[string][]dashboard.DrawdownPoint
	Failed      []string
	Surrogate   bool
}

// Options configures an Engine. Runs and Export are optional.
type Options struct {
	Backtest config.Backtest
	Universe config.Universe
	Runs     store.RunStore
	Export   *store.ParquetStore
}

// Engine orchestrates one backtest run by delegating to a fetcher for data,
// a registry for strategies and optional stores for persistence.
type Engine struct {
	fetcher  Fetcher
	registry *strategy.Registry
	opts     Options
	newID    func() string
	log      *slog.Logger
}

// New creates a new Engine wired with the given dependencies.
func New(fetcher Fetcher, registry *strategy.Registry, opts Options) *Engine {
	return &Engine{
		fetcher:  fetcher,
		registry: registry,
		opts:     opts,
		newID:    func() string { return uuid.NewString() },
		log:      slog.Default().With("component", "engine"),
	}
}

// Tickers returns the tickers the configured strategies need plus the
// benchmark, in first-seen order.
func (e *Engine) Tickers(strategies []strategy.Strategy) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ticker string) {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker != "" && !seen[ticker] {
			seen[ticker] = true
			out = append(out, ticker)
		}
	}
	for _, s := range strategies {
		if tl, ok := s.(tickerLister); ok {
			for _, ticker := range tl.Tickers() {
				add(ticker)
			}
		}
	}
	add(e.opts.Backtest.Benchmark)
	return out
}

// Run executes the full pipeline. When no ticker could be fetched it fails
// with gather.ErrGlobalDataUnavailable unless surrogate data is allowed.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	bt := e.opts.Backtest
	strategies, err := e.registry.Resolve(bt.Strategies)
	if err != nil {
		return nil, err
	}
	tickers := e.Tickers(strategies)

	rep := &Report{RunID: e.newID()}
	log := e.log.With("run", rep.RunID)
	log.Info("starting run", "strategies", bt.Strategies, "tickers", len(tickers), "start", bt.Start, "end", bt.End)

	series, failed, err := e.fetcher.FetchAll(ctx, tickers, bt.StartDate(), bt.EndDate())
	switch {
	case errors.Is(err, gather.ErrGlobalDataUnavailable) && bt.AllowSurrogate:
		log.Warn("no ticker could be fetched, using surrogate data", "failed", len(failed))
		u := e.opts.Universe
		series = gather.Surrogate(gather.DefaultSurrogateParams(u.Risky, u.Protective, u.Canary, tickers))
		rep.Surrogate = true
	case err != nil:
		return nil, fmt.Errorf("fetching prices: %w", err)
	}
	rep.Failed = failed

	tbl, err := table.Align(series)
	if err != nil {
		return nil, fmt.Errorf("aligning prices: %w", err)
	}
	rep.Table = tbl.MonthEnd()

	res, err := strategy.NewSimulator(bt.Capital, bt.Benchmark).Run(rep.Table, strategies)
	if err != nil {
		return nil, fmt.Errorf("simulating: %w", err)
	}
	rep.Result = res

	rep.Signals = make(map[string][]domain.RebalanceSignal, len(strategies))
	rep.Latest = make(map[string]domain.RebalanceSignal, len(strategies))
	rep.Provisional = make(map[string]domain.RebalanceSignal, len(strategies))
	for _, s := range strategies {
		for sig := range strategy.Generate(s, rep.Table) {
			rep.Signals[s.Name()] = append(rep.Signals[s.Name()], sig)
		}
		if sig, ok := strategy.LatestSignal(s, rep.Table); ok {
			rep.Latest[s.Name()] = sig
		}
		if sig, ok := strategy.ProvisionalSignal(s, rep.Table); ok {
			rep.Provisional[s.Name()] = sig
		}
	}

	rep.Metrics = make(map[string]dashboard.Record)
	rep.Drawdowns = make(map[string][]dashboard.DrawdownPoint)
	for name, curve := range Curves(res) {
		rep.Metrics[name] = dashboard.Compute(curve.Returns(), bt.PeriodsPerYear)
		rep.Drawdowns[name] = dashboard.Drawdown(curve)
	}

	if err := e.persist(ctx, rep); err != nil {
		return nil, err
	}

	blended := rep.Metrics[SeriesBlended]
	log.Info("run complete",
		"rows", rep.Table.Len(),
		"final", res.Blended.Last(),
		"cagr", blended.CAGR,
		"maxDrawdown", blended.MaxDrawdown,
		"failed", len(rep.Failed),
		"surrogate", rep.Surrogate,
	)
	return rep, nil
}

// Curves returns every curve of a result keyed by series name.
func Curves(res *strategy.Result) map[string]domain.EquityCurve {
	out := make(map[string]domain.EquityCurve, len(res.PerStrategy)+2)
	for name, c := range res.PerStrategy {
		out[name] = c
	}
	out[SeriesBlended] = res.Blended
	out[SeriesBenchmark] = res.Benchmark
	return out
}

// persist saves the run summary and signals, then exports the curves.
func (e *Engine) persist(ctx context.Context, rep *Report) error {
	bt := e.opts.Backtest
	if e.opts.Runs != nil {
		blended := rep.Metrics[SeriesBlended]
		dates := rep.Result.Dates
		run := &store.RunRecord{
			ID:          rep.RunID,
			Strategies:  strings.Join(bt.Strategies, ","),
			StartDate:   dates[0].Format("2006-01-02"),
			EndDate:     dates[len(dates)-1].Format("2006-01-02"),
			Capital:     bt.Capital,
			FinalValue:  rep.Result.Blended.Last(),
			CAGR:        blended.CAGR,
			MaxDrawdown: blended.MaxDrawdown,
			Sharpe:      blended.Sharpe,
			Volatility:  blended.Volatility,
			Surrogate:   rep.Surrogate,
		}
		if err := e.opts.Runs.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		for name, sigs := range rep.Signals {
			if err := e.opts.Runs.SaveSignals(ctx, rep.RunID, name, sigs); err != nil {
				return fmt.Errorf("saving %s signals: %w", name, err)
			}
		}
	}

	if e.opts.Export != nil {
		curves := make(map[string][]store.CurveRecord)
		for name, curve := range Curves(rep.Result) {
			curves[name] = store.CurveRecords(curve, dashboard.Percents(rep.Drawdowns[name]))
		}
		path, err := e.opts.Export.WriteCurves(rep.RunID, curves)
		if err != nil {
			return err
		}
		e.log.Info("exported curves", "run", rep.RunID, "path", path)
	}
	return nil
}
