package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"taa/internal/config"
	"taa/internal/engine"
	"taa/internal/gather"
	"taa/internal/store"
	"taa/internal/strategy"
	"taa/internal/strategy/builtins"
)

// app holds the components shared by every command. close releases them.
type app struct {
	cfg      *config.Config
	provider *gather.Provider
	registry *strategy.Registry
	runs     *store.SQLiteStore
	export   *store.ParquetStore
	metrics  *prometheus.Registry
	closers  []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLiteFile())
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	a.runs = runs
	a.closers = append(a.closers, runs.Close)
	a.export = store.NewParquetStore(cfg.Storage.ExportRoot())

	cache, err := a.openCache(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	var src gather.Source
	switch cfg.Provider.Source {
	case "alpaca":
		src = gather.NewAlpaca(cfg.Provider.AlpacaDataURL, cfg.Provider.Timeout)
	default:
		src = gather.NewAlphaVantage(cfg.Provider.BaseURL, cfg.Provider.Timeout)
	}

	pool := gather.NewCredentialPool(cfg.Provider.PerMinute, cfg.Provider.PerDay, cfg.Provider.Credentials...)
	if pool.Len() == 0 {
		slog.Warn("no API credentials configured; only cached data is available", "source", src.Name())
	}
	a.provider = gather.NewProvider(src, pool, cache, gather.OptionsFromConfig(cfg.Provider))

	if cfg.Metrics.Enabled {
		a.metrics = prometheus.NewRegistry()
		a.provider.WithMetrics(gather.NewMetrics(a.metrics))
	}

	a.registry = strategy.NewRegistry()
	builtins.Register(a.registry, builtins.Config{
		Risky:      cfg.Universe.Risky,
		Protective: cfg.Universe.Protective,
		Canary:     cfg.Universe.Canary,
		Broad:      cfg.Universe.Broad,
		Fill:       cfg.Universe.Fill,
	})
	return a, nil
}

func (a *app) openCache(ctx context.Context) (store.BlobStore, error) {
	c := a.cfg.Cache
	switch c.Backend {
	case "memory":
		return store.NewMemoryBlobStore(), nil
	case "sqlite":
		return a.runs, nil
	case "redis":
		client, err := store.DialRedis(ctx, c.RedisAddr, c.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return store.NewRedisBlobStore(client, c.RedisPrefix, 0), nil
	default:
		return store.NewDiskBlobStore(filepath.Join(a.cfg.Storage.DataDir, "cache")), nil
	}
}

func (a *app) engine(persist bool) *engine.Engine {
	opts := engine.Options{
		Backtest: a.cfg.Backtest,
		Universe: a.cfg.Universe,
	}
	if persist {
		opts.Runs = a.runs
		opts.Export = a.export
	}
	return engine.New(a.provider, a.registry, opts)
}

// logMetrics writes every collected sample to the log.
func (a *app) logMetrics() {
	if a.metrics == nil {
		return
	}
	families, err := a.metrics.Gather()
	if err != nil {
		slog.Warn("gathering metrics failed", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)

			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			}
			slog.Info("metric", "name", mf.GetName(), "labels", strings.Join(labels, ","), "value", value)
		}
	}
}
