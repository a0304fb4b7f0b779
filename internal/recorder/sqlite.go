package recorder

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"KlineAnalyzer/internal/logger"
	"KlineAnalyzer/internal/model"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists runs and their candles to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *zap.Logger) (*SQLiteRecorder, error) {
	log = logger.OrNop(log)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database dir")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}

	r := &SQLiteRecorder{db: db, logger: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	log.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			symbol      TEXT NOT NULL,
			interval    TEXT NOT NULL,
			start_ms    INTEGER NOT NULL,
			end_ms      INTEGER NOT NULL,
			include_ma  INTEGER NOT NULL,
			include_bb  INTEGER NOT NULL,
			include_rsi INTEGER NOT NULL,
			pages       INTEGER,
			stop_reason TEXT,
			candles     INTEGER,
			started_at  INTEGER,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol, started_at)`,

		`CREATE TABLE IF NOT EXISTS candles (
			run_id     TEXT NOT NULL REFERENCES runs(id),
			timestamp  INTEGER NOT NULL,
			open       TEXT,
			high       TEXT,
			low        TEXT,
			close      TEXT,
			volume     TEXT,
			turnover   TEXT,
			indicators TEXT,
			PRIMARY KEY (run_id, timestamp)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return errors.Wrapf(err, "exec %q", s[:40])
		}
	}
	return nil
}

// RecordRun stores the run and every row of series in one transaction.
// Indicator and passthrough columns are stored as a JSON object per row.
func (r *SQLiteRecorder) RecordRun(run *Run, series *model.Series) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs
		(id, symbol, interval, start_ms, end_ms, include_ma, include_bb, include_rsi,
		 pages, stop_reason, candles, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Symbol, run.Interval, run.StartMS, run.EndMS,
		run.Flags.MA, run.Flags.BB, run.Flags.RSI,
		run.Pages, run.StopReason, series.Len(),
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}

	stmt, err := tx.Prepare(`INSERT INTO candles
		(run_id, timestamp, open, high, low, close, volume, turnover, indicators)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return errors.Wrap(err, "prepare candle insert")
	}
	defer stmt.Close()

	for i, row := range series.Rows {
		ind, err := indicatorJSON(series.Columns, row.Values)
		if err != nil {
			return errors.Wrapf(err, "encode row %d", i)
		}
		if _, err := stmt.Exec(run.ID, row.Timestamp,
			row.Open, row.High, row.Low, row.Close, row.Volume, row.Turnover, ind,
		); err != nil {
			return errors.Wrapf(err, "insert candle %d", row.Timestamp)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	r.logger.Info("run recorded",
		zap.String("run_id", run.ID),
		zap.String("symbol", run.Symbol),
		zap.Int("candles", series.Len()),
	)
	return nil
}

func indicatorJSON(cols []string, vals []null.Float) (string, error) {
	if len(cols) == 0 {
		return "{}", nil
	}
	m := make(map[string]null.Float, len(cols))
	for i, c := range cols {
		m[c] = vals[i]
	}
	b, err := json.Marshal(m)
	return string(b), err
}

// CandleCount returns how many candles were stored for a run.
func (r *SQLiteRecorder) CandleCount(runID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM candles WHERE run_id = ?`, runID).Scan(&n)
	return n, errors.Wrap(err, "count candles")
}

// LatestRun returns the most recently started run for symbol.
func (r *SQLiteRecorder) LatestRun(symbol string) (*Run, error) {
	var (
		run               Run
		ma, bb, rsi       bool
		started, finished int64
		stopReason        sql.NullString
		pages             sql.NullInt64
	)
	err := r.db.QueryRow(`SELECT id, symbol, interval, start_ms, end_ms,
		include_ma, include_bb, include_rsi, pages, stop_reason, started_at, finished_at
		FROM runs WHERE symbol = ? ORDER BY started_at DESC LIMIT 1`, symbol).Scan(
		&run.ID, &run.Symbol, &run.Interval, &run.StartMS, &run.EndMS,
		&ma, &bb, &rsi, &pages, &stopReason, &started, &finished,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query latest run")
	}
	run.Flags = model.IndicatorFlags{MA: ma, BB: bb, RSI: rsi}
	run.Pages = int(pages.Int64)
	run.StopReason = stopReason.String
	run.StartedAt = time.UnixMilli(started).UTC()
	run.FinishedAt = time.UnixMilli(finished).UTC()
	return &run, nil
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}
