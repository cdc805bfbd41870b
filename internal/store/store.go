// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/models"
)

// SeriesStore persists one adjusted price series per symbol.
// Save replaces the whole series and must never expose a partial write.
type SeriesStore interface {
	// Load returns the stored series ascending by date. A missing series
	// yields ErrSeriesNotFound; an unreadable one yields ErrStorageCorrupt.
	Load(symbol string) ([]models.Bar, error)
	// Tail returns at most n most recent bars.
	Tail(symbol string, n int) ([]models.Bar, error)
	Save(symbol string, bars []models.Bar) error
	LastDate(symbol string) (time.Time, error)
	Exists(symbol string) bool
	Delete(symbol string) error
}

// Journal records sync runs, per-symbol outcomes and saved scans.
type Journal interface {
	// Sync runs
	StartRun(ctx context.Context, run *SyncRun) error
	RecordResult(ctx context.Context, runID string, result models.SyncResult) error
	FinishRun(ctx context.Context, run *SyncRun) error
	GetRuns(ctx context.Context, limit int) ([]SyncRun, error)
	GetRunResults(ctx context.Context, runID string) ([]SymbolOutcome, error)

	// Scans
	SaveScan(ctx context.Context, scan *ScanRecord) error
	GetScans(ctx context.Context, filter ScanFilter) ([]ScanRecord, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// SyncRun is one pass over the watch-list.
type SyncRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Target     time.Time
	Source     string
	Stats      CycleStats
}

// CycleStats tallies per-symbol outcomes for a run.
type CycleStats struct {
	Total           int `json:"total"`
	Fresh           int `json:"fresh"`
	Updated         int `json:"updated"`
	InitialDownload int `json:"initial_download"`
	NoNewData       int `json:"no_new_data"`
	Failed          int `json:"failed"`
	FileError       int `json:"file_error"`
	Suspended       int `json:"suspended"`
}

// Add tallies one result.
func (s *CycleStats) Add(r models.SyncResult) {
	s.Total++
	switch r.Status {
	case models.StatusAlreadyFresh:
		s.Fresh++
	case models.StatusUpdated:
		s.Updated++
	case models.StatusInitialDownload:
		s.InitialDownload++
	case models.StatusNoNewData:
		s.NoNewData++
	case models.StatusFailed:
		if apperrors.Is(r.Err, apperrors.ErrStorageWrite) {
			s.FileError++
		} else {
			s.Failed++
		}
	case models.StatusSuspended:
		s.Suspended++
	}
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s CycleStats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("total", s.Total).
		Int("fresh", s.Fresh).
		Int("updated", s.Updated).
		Int("initial_download", s.InitialDownload).
		Int("no_new_data", s.NoNewData).
		Int("failed", s.Failed).
		Int("file_error", s.FileError).
		Int("suspended", s.Suspended)
}

// Pending reports whether the run left symbols that a later cycle could still
// bring up to date.
func (s CycleStats) Pending() bool {
	return s.Updated+s.InitialDownload+s.NoNewData+s.Failed+s.FileError > 0
}

// SymbolOutcome is a journalled per-symbol result.
type SymbolOutcome struct {
	RunID     string
	Symbol    string
	Status    models.SyncStatus
	Message   string
	LastDate  time.Time
	Bars      int
	CreatedAt time.Time
}

// ScanRecord is a saved breakout scan.
type ScanRecord struct {
	ID         string
	CreatedAt  time.Time
	History    int
	MarginPct  float64
	Filter     bool
	FilterPct  float64
	Candidates []models.BreakoutCandidate
	Failures   map[string]string
}

// ScanFilter represents filters for querying saved scans.
type ScanFilter struct {
	Symbol string
	Since  time.Time
	Limit  int
}
