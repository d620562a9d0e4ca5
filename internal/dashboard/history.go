package dashboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"taa/internal/domain"
	"taa/internal/store"
)

// ListRuns returns the sorted IDs of runs that have an exported curve file
// under <dataDir>/runs.
func ListRuns(dataDir string) ([]string, error) {
	dir := filepath.Join(dataDir, "runs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading runs dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), "curves.parquet")); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadRunCurves reads the exported curves of a run back into equity curves
// and drawdown series, keyed by series name.
func LoadRunCurves(dataDir, runID string) (map[string]domain.EquityCurve, map[string][]DrawdownPoint, error) {
	records, err := store.NewParquetStore(dataDir).ReadCurves(runID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	curves := make(map[string]domain.EquityCurve, len(records))
	drawdowns := make(map[string][]DrawdownPoint, len(records))
	for name, rs := range records {
		var c domain.EquityCurve
		dd := make([]DrawdownPoint, 0, len(rs))
		for _, r := range rs {
			date := time.UnixMilli(r.Date).UTC()
			c.Append(date, r.Value)
			dd = append(dd, DrawdownPoint{Date: date, Percent: r.Drawdown})
		}
		curves[name] = c
		drawdowns[name] = dd
	}
	return curves, drawdowns, nil
}
