package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"taa/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BlobStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	strategies   TEXT NOT NULL,
	start_date   TEXT NOT NULL,
	end_date     TEXT NOT NULL,
	capital      REAL NOT NULL,
	final_value  REAL NOT NULL,
	cagr         REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	sharpe       REAL NOT NULL,
	volatility   REAL NOT NULL,
	surrogate    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS signals (
	run_id   TEXT NOT NULL,
	strategy TEXT NOT NULL,
	date     TEXT NOT NULL,
	ticker   TEXT NOT NULL,
	weight   REAL NOT NULL,
	PRIMARY KEY (run_id, strategy, date, ticker)
);
`

// SQLiteStore implements BlobStore and RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// signalRow is one (date, ticker, weight) entry of a stored signal.
type signalRow struct {
	RunID    string  `db:"run_id"`
	Strategy string  `db:"strategy"`
	Date     string  `db:"date"`
	Ticker   string  `db:"ticker"`
	Weight   float64 `db:"weight"`
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// tables if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// BlobStore implementation
// ---------------------------------------------------------------------------

// Get returns the blob stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, `SELECT data FROM blobs WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put inserts or replaces the blob under key in a single statement.
func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (key, data, updated_at) VALUES (?, ?, ?)`,
		key, data, time.Now().UTC().Format(time.RFC3339))
	return err
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run summary. CreatedAt defaults to now.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.CreatedAt == "" {
		run.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, created_at, strategies, start_date, end_date, capital,
			final_value, cagr, max_drawdown, sharpe, volatility, surrogate)
		VALUES (:id, :created_at, :strategies, :start_date, :end_date, :capital,
			:final_value, :cagr, :max_drawdown, :sharpe, :volatility, :surrogate)`, run)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var run RunRecord
	err := s.db.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveSignals stores every (date, ticker, weight) entry of the signals in one
// transaction. A signal with an empty map stores nothing for its date.
func (s *SQLiteStore) SaveSignals(ctx context.Context, runID, strategy string, signals []domain.RebalanceSignal) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, sig := range signals {
		date := sig.Date.Format(dateLayout)
		for _, ticker := range sig.Weights.Tickers() {
			row := signalRow{
				RunID:    runID,
				Strategy: strategy,
				Date:     date,
				Ticker:   ticker,
				Weight:   sig.Weights[ticker],
			}
			if _, err := tx.NamedExecContext(ctx, `
				INSERT OR REPLACE INTO signals (run_id, strategy, date, ticker, weight)
				VALUES (:run_id, :strategy, :date, :ticker, :weight)`, row); err != nil {
				return fmt.Errorf("inserting signal %s/%s: %w", strategy, date, err)
			}
		}
	}
	return tx.Commit()
}

// ListSignals returns the stored signals of a strategy within a run, oldest
// first. Dates with no allocation are not represented.
func (s *SQLiteStore) ListSignals(ctx context.Context, runID, strategy string) ([]domain.RebalanceSignal, error) {
	var rows []signalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, strategy, date, ticker, weight
		FROM signals
		WHERE run_id = ? AND strategy = ?
		ORDER BY date, ticker`, runID, strategy)
	if err != nil {
		return nil, err
	}

	var out []domain.RebalanceSignal
	for _, r := range rows {
		d, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("parsing signal date %q: %w", r.Date, err)
		}
		if n := len(out); n == 0 || !out[n-1].Date.Equal(d) {
			out = append(out, domain.RebalanceSignal{Date: d, Weights: domain.WeightMap{}})
		}
		out[len(out)-1].Weights[r.Ticker] = r.Weight
	}
	return out, nil
}
