package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taa/internal/config"
	"taa/internal/dashboard"
	"taa/internal/domain"
	"taa/internal/engine"
	"taa/internal/store"
	"taa/internal/util"
)

var (
	configPath string
	logLevel   string

	runStrategies []string
	runStart      string
	runEnd        string
	runCapital    float64
	runSurrogate  bool
	runNoPersist  bool
)

var rootCmd = &cobra.Command{
	Use:   "taa",
	Short: "Tactical asset allocation backtester",
	Long: `taa fetches monthly adjusted prices, runs momentum-driven allocation
strategies over them and reports equity curves, drawdowns and summary
statistics for each strategy, their equal-weight blend and a benchmark.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backtest and print its summary",
	RunE:  runBacktest,
}

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Print the latest and provisional allocation of each strategy",
	RunE:  runSignals,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the price cache",
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Fetch every configured ticker into the cache",
	RunE:  runCacheWarm,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored backtest runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs with exported curves",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the summary and final values of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	defaultConfig := os.Getenv("TAA_CONFIG")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to YAML configuration (env TAA_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	for _, c := range []*cobra.Command{runCmd, signalsCmd} {
		c.Flags().StringSliceVar(&runStrategies, "strategies", nil, "Strategies to run (canary, dual)")
		c.Flags().StringVar(&runStart, "start", "", "First date to fetch (YYYY-MM-DD)")
		c.Flags().StringVar(&runEnd, "end", "", "Last date to fetch (YYYY-MM-DD)")
		c.Flags().BoolVar(&runSurrogate, "surrogate", false, "Fall back to synthetic data when no ticker can be fetched")
	}
	runCmd.Flags().Float64Var(&runCapital, "capital", 0, "Initial capital")
	runCmd.Flags().BoolVar(&runNoPersist, "no-persist", false, "Do not store the run or export its curves")

	rootCmd.AddCommand(runCmd, signalsCmd, cacheCmd, runsCmd)
	cacheCmd.AddCommand(cacheWarmCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and installs the
// logger.
func setup(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("strategies") {
		cfg.Backtest.Strategies = runStrategies
	}
	if flags.Changed("start") {
		cfg.Backtest.Start = runStart
	}
	if flags.Changed("end") {
		cfg.Backtest.End = runEnd
	}
	if flags.Changed("capital") {
		cfg.Backtest.Capital = runCapital
	}
	if flags.Changed("surrogate") {
		cfg.Backtest.AllowSurrogate = runSurrogate
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	util.SetDefault(util.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.engine(!runNoPersist).Run(ctx)
	if err != nil {
		return err
	}
	a.logMetrics()

	out := cmd.OutOrStdout()
	if rep.Surrogate {
		fmt.Fprintln(out, "WARNING: no market data could be fetched; results use synthetic prices")
	}
	if len(rep.Failed) > 0 {
		fmt.Fprintf(out, "Unavailable tickers: %s\n", strings.Join(rep.Failed, ", "))
	}
	dates := rep.Result.Dates
	fmt.Fprintf(out, "Run %s  %s .. %s  (%d months)\n\n", rep.RunID,
		dates[0].Format("2006-01-02"), dates[len(dates)-1].Format("2006-01-02"), len(dates)-1)

	curves := engine.Curves(rep.Result)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIES\tFINAL\tCAGR\tMAX DD\tSHARPE\tVOL")
	for _, name := range seriesOrder(curves) {
		d := rep.Metrics[name].Percent()
		fmt.Fprintf(w, "%s\t%s\t%s%%\t%s%%\t%s\t%s%%\n", name,
			dashboard.FormatMoney(curves[name].Last()),
			d.CAGR.StringFixed(2), d.MaxDrawdown.StringFixed(2), d.Sharpe.StringFixed(2), d.Volatility.StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	printSignals(out, "Latest", rep.Latest)
	return nil
}

func runSignals(cmd *cobra.Command, _ []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.engine(false).Run(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printSignals(out, "Latest", rep.Latest)
	fmt.Fprintln(out)
	printSignals(out, "Provisional", rep.Provisional)
	return nil
}

func runCacheWarm(cmd *cobra.Command, _ []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	e := a.engine(false)
	strategies, err := a.registry.Resolve(a.registry.List())
	if err != nil {
		return err
	}
	tickers := e.Tickers(strategies)

	start := time.Now()
	series, failed, err := a.provider.FetchAll(ctx, tickers, cfg.Backtest.StartDate(), cfg.Backtest.EndDate())
	a.logMetrics()
	fmt.Fprintf(cmd.OutOrStdout(), "cached %d of %d tickers in %s\n", len(series), len(tickers), time.Since(start).Round(time.Second))
	if len(failed) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "unavailable: %s\n", strings.Join(failed, ", "))
	}
	return err
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLiteFile())
	if err != nil {
		return err
	}
	defer runs.Close()

	dir := cfg.Storage.ExportRoot()
	ids, err := dashboard.ListRuns(dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCREATED\tSTRATEGIES\tFINAL\tCAGR")
	for _, id := range ids {
		run, err := runs.GetRun(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", id)
			continue
		}
		if err != nil {
			return err
		}
		d := dashboard.Record{CAGR: run.CAGR}.Percent()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s%%\n", run.ID, run.CreatedAt, run.Strategies,
			dashboard.FormatMoney(run.FinalValue), d.CAGR.StringFixed(2))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLiteFile())
	if err != nil {
		return err
	}
	defer runs.Close()

	id := args[0]
	run, err := runs.GetRun(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	out := cmd.OutOrStdout()
	rec := dashboard.Record{CAGR: run.CAGR, MaxDrawdown: run.MaxDrawdown, Sharpe: run.Sharpe, Volatility: run.Volatility}
	fmt.Fprintf(out, "Run %s (%s)\n  strategies %s\n  %s .. %s\n  capital %s -> %s\n  %s\n",
		run.ID, run.CreatedAt, run.Strategies, run.StartDate, run.EndDate,
		dashboard.FormatMoney(run.Capital), dashboard.FormatMoney(run.FinalValue), rec.Percent())
	if run.Surrogate {
		fmt.Fprintln(out, "  synthetic prices")
	}

	dir := cfg.Storage.ExportRoot()
	curves, drawdowns, err := dashboard.LoadRunCurves(dir, id)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSERIES\tFINAL\tWORST DD")
	for _, name := range seriesOrder(curves) {
		worst := 0.0
		for _, p := range drawdowns[name] {
			worst = min(worst, p.Percent)
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\n", name, dashboard.FormatMoney(curves[name].Last()), worst)
	}
	return w.Flush()
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

// seriesOrder lists strategies alphabetically, then the blend and benchmark.
func seriesOrder(curves map[string]domain.EquityCurve) []string {
	var names []string
	for name := range curves {
		if name != engine.SeriesBlended && name != engine.SeriesBenchmark {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range []string{engine.SeriesBlended, engine.SeriesBenchmark} {
		if _, ok := curves[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func printSignals(out io.Writer, label string, signals map[string]domain.RebalanceSignal) {
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sig := signals[name]
		fmt.Fprintf(out, "%s %s allocation as of %s:\n", label, name, sig.Date.Format("2006-01-02"))
		tickers := sig.Weights.Tickers()
		sort.SliceStable(tickers, func(i, j int) bool { return sig.Weights[tickers[i]] > sig.Weights[tickers[j]] })
		if len(tickers) == 0 {
			fmt.Fprintln(out, "  (cash)")
		}
		for _, t := range tickers {
			fmt.Fprintf(out, "  %-6s %s\n", t, dashboard.FormatWeight(sig.Weights[t]))
		}
		if cash := 1 - sig.Weights.Sum(); cash > 1e-9 && len(tickers) > 0 {
			fmt.Fprintf(out, "  %-6s %s\n", "CASH", dashboard.FormatWeight(cash))
		}
	}
}
