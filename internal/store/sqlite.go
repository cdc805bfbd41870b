package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"v20-scanner/internal/models"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteJournal creates a new SQLite-based journal.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	j := &SQLiteJournal{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return j, nil
}

// initSchema creates all required tables and indexes.
func (j *SQLiteJournal) initSchema() error {
	schema := `
	-- One row per sync cycle
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		target_date TEXT NOT NULL,
		source TEXT NOT NULL,
		stats TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-symbol outcomes of a sync cycle
	CREATE TABLE IF NOT EXISTS sync_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT,
		last_date TEXT,
		bars INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES sync_runs(id)
	);

	-- Saved breakout scans
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		history INTEGER NOT NULL,
		margin_pct REAL NOT NULL,
		filter_last_close INTEGER NOT NULL,
		last_close_margin_pct REAL NOT NULL,
		failures TEXT
	);

	CREATE TABLE IF NOT EXISTS scan_candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		payload TEXT NOT NULL,
		FOREIGN KEY (scan_id) REFERENCES scans(id)
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sync_results_run ON sync_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_sync_results_symbol ON sync_results(symbol);
	CREATE INDEX IF NOT EXISTS idx_scan_candidates_scan ON scan_candidates(scan_id);
	CREATE INDEX IF NOT EXISTS idx_scan_candidates_symbol ON scan_candidates(symbol);
	`

	_, err := j.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// StartRun records the beginning of a sync cycle.
func (j *SQLiteJournal) StartRun(ctx context.Context, run *SyncRun) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, started_at, target_date, source)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.Target.Format(models.DateLayout), run.Source)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RecordResult stores one symbol's outcome for a run.
func (j *SQLiteJournal) RecordResult(ctx context.Context, runID string, result models.SyncResult) error {
	var lastDate string
	if !result.LastDate.IsZero() {
		lastDate = result.LastDate.Format(models.DateLayout)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sync_results (run_id, symbol, status, message, last_date, bars)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, result.Symbol, string(result.Status), result.Message, lastDate, result.Bars)
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

// FinishRun stores the final tallies of a run.
func (j *SQLiteJournal) FinishRun(ctx context.Context, run *SyncRun) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		UPDATE sync_runs SET finished_at = ?, stats = ? WHERE id = ?
	`, run.FinishedAt, string(stats), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRuns returns the most recent runs, newest first.
func (j *SQLiteJournal) GetRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, target_date, source, stats
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var (
			r        SyncRun
			finished sql.NullTime
			target   string
			stats    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &target, &r.Source, &stats); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		r.Target, _ = time.Parse(models.DateLayout, target)
		if stats.Valid && stats.String != "" {
			_ = json.Unmarshal([]byte(stats.String), &r.Stats)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRunResults returns the per-symbol outcomes of a run.
func (j *SQLiteJournal) GetRunResults(ctx context.Context, runID string) ([]SymbolOutcome, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, symbol, status, COALESCE(message, ''), COALESCE(last_date, ''), bars, created_at
		FROM sync_results
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []SymbolOutcome
	for rows.Next() {
		var (
			o        SymbolOutcome
			status   string
			lastDate string
		)
		if err := rows.Scan(&o.RunID, &o.Symbol, &status, &o.Message, &lastDate, &o.Bars, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		o.Status = models.SyncStatus(status)
		if lastDate != "" {
			o.LastDate, _ = time.Parse(models.DateLayout, lastDate)
		}
		out = append(out, o)
	}

	return out, rows.Err()
}

// SaveScan stores a scan and its candidates in one transaction.
func (j *SQLiteJournal) SaveScan(ctx context.Context, scan *ScanRecord) error {
	failures, err := json.Marshal(scan.Failures)
	if err != nil {
		return err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, created_at, history, margin_pct, filter_last_close, last_close_margin_pct, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, scan.ID, scan.CreatedAt, scan.History, scan.MarginPct, boolToInt(scan.Filter), scan.FilterPct, string(failures))
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_candidates (scan_id, symbol, payload) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range scan.Candidates {
		payload, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, scan.ID, c.Symbol, string(payload)); err != nil {
			return fmt.Errorf("failed to insert candidate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetScans returns saved scans matching the filter, newest first.
func (j *SQLiteJournal) GetScans(ctx context.Context, filter ScanFilter) ([]ScanRecord, error) {
	query := `SELECT id, created_at, history, margin_pct, filter_last_close, last_close_margin_pct, COALESCE(failures, '') FROM scans WHERE 1=1`
	var args []interface{}

	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}
	if filter.Symbol != "" {
		query += " AND id IN (SELECT scan_id FROM scan_candidates WHERE symbol = ?)"
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}

	var scans []ScanRecord
	for rows.Next() {
		var (
			s        ScanRecord
			filterOn int
			failures string
		)
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.History, &s.MarginPct, &filterOn, &s.FilterPct, &failures); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.Filter = filterOn != 0
		if failures != "" && failures != "null" {
			_ = json.Unmarshal([]byte(failures), &s.Failures)
		}
		scans = append(scans, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range scans {
		candidates, err := j.getCandidates(ctx, scans[i].ID)
		if err != nil {
			return nil, err
		}
		scans[i].Candidates = candidates
	}

	return scans, nil
}

func (j *SQLiteJournal) getCandidates(ctx context.Context, scanID string) ([]models.BreakoutCandidate, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT payload FROM scan_candidates WHERE scan_id = ? ORDER BY id ASC
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []models.BreakoutCandidate
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c models.BreakoutCandidate
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("failed to decode candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetLastSync returns the last sync time for a data type.
func (j *SQLiteJournal) GetLastSync(dataType string) time.Time {
	j.mu.RLock()
	if t, ok := j.syncTimes[dataType]; ok {
		j.mu.RUnlock()
		return t
	}
	j.mu.RUnlock()

	var lastSync time.Time
	err := j.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	j.mu.Lock()
	j.syncTimes[dataType] = lastSync
	j.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (j *SQLiteJournal) SetLastSync(dataType string, t time.Time) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	j.mu.Lock()
	j.syncTimes[dataType] = t
	j.mu.Unlock()

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
