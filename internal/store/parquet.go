package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"taa/internal/domain"
)

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// PriceRecord is the Parquet schema for one cached price observation.
type PriceRecord struct {
	Ticker string  `parquet:"ticker"`
	Date   int64   `parquet:"date,timestamp(millisecond)"` // Unix ms
	Price  float64 `parquet:"price"`
}

// CurveRecord is the Parquet schema for exported equity and drawdown
// curves. Series names the curve ("blended", a strategy name, "benchmark").
type CurveRecord struct {
	Series   string  `parquet:"series"`
	Date     int64   `parquet:"date,timestamp(millisecond)"` // Unix ms
	Value    float64 `parquet:"value"`
	Drawdown float64 `parquet:"drawdown"` // percent, <= 0
}

// ---------------------------------------------------------------------------
// Series codec
// ---------------------------------------------------------------------------

// EncodeSeries serialises a price series as an in-memory Parquet file.
func EncodeSeries(s domain.PriceSeries) ([]byte, error) {
	records := make([]PriceRecord, len(s.Points))
	for i, p := range s.Points {
		records[i] = PriceRecord{
			Ticker: s.Ticker,
			Date:   p.Date.UnixMilli(),
			Price:  p.Price,
		}
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSeries parses a blob produced by EncodeSeries.
func DecodeSeries(data []byte) (domain.PriceSeries, error) {
	records, err := parquet.Read[PriceRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.PriceSeries{}, err
	}

	s := domain.PriceSeries{Points: make([]domain.PricePoint, len(records))}
	for i, r := range records {
		if s.Ticker == "" {
			s.Ticker = r.Ticker
		}
		s.Points[i] = domain.PricePoint{
			Date:  time.UnixMilli(r.Date).UTC(),
			Price: r.Price,
		}
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Result export
// ---------------------------------------------------------------------------

// ParquetStore writes backtest results as Parquet files on disk for external
// dashboards.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// WriteCurves writes every named curve of a run to a single file at:
//
//	<DataDir>/runs/<runID>/curves.parquet
func (s *ParquetStore) WriteCurves(runID string, curves map[string][]CurveRecord) (string, error) {
	names := make([]string, 0, len(curves))
	for name := range curves {
		names = append(names, name)
	}
	sort.Strings(names)

	var records []CurveRecord
	for _, name := range names {
		for _, r := range curves[name] {
			r.Series = name
			records = append(records, r)
		}
	}

	path := s.curvePath(runID)
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("writing curves for run %s: %w", runID, err)
	}
	return path, nil
}

// ReadCurves reads the curves of a run, grouped by series name and ordered
// by date.
func (s *ParquetStore) ReadCurves(runID string) (map[string][]CurveRecord, error) {
	records, err := readParquetFile[CurveRecord](s.curvePath(runID))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]CurveRecord)
	for _, r := range records {
		out[r.Series] = append(out[r.Series], r)
	}
	for _, rs := range out {
		sort.Slice(rs, func(i, j int) bool { return rs[i].Date < rs[j].Date })
	}
	return out, nil
}

// CurveRecords converts an equity curve and its percent drawdowns into
// export records. drawdowns may be shorter than the curve; missing entries
// are zero.
func CurveRecords(curve domain.EquityCurve, drawdowns []float64) []CurveRecord {
	out := make([]CurveRecord, len(curve.Points))
	for i, p := range curve.Points {
		out[i] = CurveRecord{Date: p.Date.UnixMilli(), Value: p.Value}
		if i < len(drawdowns) {
			out[i].Drawdown = drawdowns[i]
		}
	}
	return out
}

// curvePath returns the filesystem path for a run's curve file.
func (s *ParquetStore) curvePath(runID string) string {
	return filepath.Join(s.DataDir, "runs", strings.ToLower(runID), "curves.parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
