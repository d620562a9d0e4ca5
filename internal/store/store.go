// Package store defines storage interfaces for persisting and retrieving
// cached price series, backtest runs and rebalance signals.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"taa/internal/domain"
)

// ErrNotFound is returned by BlobStore.Get when the key has no entry.
var ErrNotFound = errors.New("store: not found")

// BlobStore persists opaque blobs under string keys. Put must be atomic: a
// concurrent reader sees either the previous entry or the complete new one.
type BlobStore interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous entry.
	Put(ctx context.Context, key string, data []byte) error
}

// RunStore persists backtest run summaries and the signals they produced.
type RunStore interface {
	// SaveRun inserts a run summary.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// SaveSignals stores the rebalance signals of one strategy within a run.
	SaveSignals(ctx context.Context, runID, strategy string, signals []domain.RebalanceSignal) error

	// ListSignals returns the signals of a strategy within a run, oldest first.
	ListSignals(ctx context.Context, runID, strategy string) ([]domain.RebalanceSignal, error)
}

// RunRecord summarises one backtest run.
type RunRecord struct {
	ID          string  `db:"id"`
	CreatedAt   string  `db:"created_at"` // RFC 3339
	Strategies  string  `db:"strategies"` // comma-separated
	StartDate   string  `db:"start_date"`
	EndDate     string  `db:"end_date"`
	Capital     float64 `db:"capital"`
	FinalValue  float64 `db:"final_value"`
	CAGR        float64 `db:"cagr"`
	MaxDrawdown float64 `db:"max_drawdown"`
	Sharpe      float64 `db:"sharpe"`
	Volatility  float64 `db:"volatility"`
	Surrogate   bool    `db:"surrogate"`
}

// ---------------------------------------------------------------------------
// Series cache
// ---------------------------------------------------------------------------

const dateLayout = "2006-01-02"

// CacheKey returns the cache key for a (ticker, start, end) request: the hex
// SHA-256 digest of "TICKER|YYYY-MM-DD|YYYY-MM-DD". A zero end is encoded as
// an empty date.
func CacheKey(ticker string, start, end time.Time) string {
	var endStr string
	if !end.IsZero() {
		endStr = end.Format(dateLayout)
	}
	raw := strings.ToUpper(ticker) + "|" + start.Format(dateLayout) + "|" + endStr
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LoadSeries reads and decodes the cached series for a request. It returns
// ErrNotFound on a miss and a decode error for a corrupt entry.
func LoadSeries(ctx context.Context, bs BlobStore, ticker string, start, end time.Time) (domain.PriceSeries, error) {
	data, err := bs.Get(ctx, CacheKey(ticker, start, end))
	if err != nil {
		return domain.PriceSeries{}, err
	}
	series, err := DecodeSeries(data)
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("decoding cached %s: %w", ticker, err)
	}
	return series, nil
}

// SaveSeries encodes and caches a series under its request key.
func SaveSeries(ctx context.Context, bs BlobStore, series domain.PriceSeries, start, end time.Time) error {
	data, err := EncodeSeries(series)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", series.Ticker, err)
	}
	return bs.Put(ctx, CacheKey(series.Ticker, start, end), data)
}
