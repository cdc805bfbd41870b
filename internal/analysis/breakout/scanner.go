package breakout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"

	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/logging"
	"v20-scanner/internal/models"
	"v20-scanner/internal/store"
	"v20-scanner/internal/trace"
)

// ScanParams are the inputs of one scan request.
type ScanParams struct {
	// HistoryWindow is the number of most recent bars examined per symbol.
	HistoryWindow int
	Config        Config
	// Save journals the scan when the scanner has a journal.
	Save bool
}

// DefaultScanParams returns the scan form defaults.
func DefaultScanParams() ScanParams {
	return ScanParams{HistoryWindow: DefaultHistoryWindow, Config: DefaultConfig()}
}

// Validate checks the request for obviously unusable values.
func (p ScanParams) Validate() error {
	if p.HistoryWindow < 2 {
		return apperrors.NewValidationError("history", p.HistoryWindow, "must be at least 2 bars")
	}
	if p.Config.MarginThresholdPct < 0 {
		return apperrors.NewValidationError("margin", p.Config.MarginThresholdPct, "must not be negative")
	}
	return nil
}

// SymbolFailure records why one symbol could not be scanned.
type SymbolFailure struct {
	Symbol string
	Err    error
}

// ScanResult collects the outcome of a scan in watch-list order.
type ScanResult struct {
	ID         string
	CreatedAt  time.Time
	Params     ScanParams
	Symbols    int
	Candidates []models.BreakoutCandidate
	Failures   []SymbolFailure
}

// Empty reports whether the scan produced neither candidates nor failures.
func (r *ScanResult) Empty() bool {
	return len(r.Candidates) == 0 && len(r.Failures) == 0
}

// Scanner runs the detector over stored series.
type Scanner struct {
	store       store.SeriesStore
	journal     store.Journal
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

// NewScanner creates a scanner. journal may be nil.
func NewScanner(st store.SeriesStore, journal store.Journal, concurrency int, logger zerolog.Logger) *Scanner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scanner{
		store:       st,
		journal:     journal,
		concurrency: concurrency,
		logger:      logging.WithOperation(logger, "scan"),
		now:         time.Now,
	}
}

type symbolScan struct {
	candidates []models.BreakoutCandidate
	err        error
}

// Scan detects breakout runs for every symbol. A symbol that cannot be read
// is reported as a failure and never aborts the batch.
func (s *Scanner) Scan(ctx context.Context, symbols []string, params ScanParams) (*ScanResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	result := &ScanResult{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		Params:    params,
	}
	ctx, span := trace.StartSpan(ctx, "breakout.Scan",
		attribute.String("scan_id", result.ID),
		attribute.Int("symbols", len(symbols)),
		attribute.Int("history", params.HistoryWindow),
	)
	defer span.End()

	cleaned := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			cleaned = append(cleaned, sym)
		}
	}
	result.Symbols = len(cleaned)

	scans := make([]symbolScan, len(cleaned))
	p := pool.New().WithMaxGoroutines(s.concurrency)
	for i, sym := range cleaned {
		p.Go(func() {
			if ctx.Err() != nil {
				scans[i].err = ctx.Err()
				return
			}
			scans[i] = s.scanSymbol(sym, params)
		})
	}
	p.Wait()

	for i, sc := range scans {
		if sc.err != nil {
			s.logger.Error().Err(sc.err).Str("symbol", cleaned[i]).Msg("Error while running scan")
			result.Failures = append(result.Failures, SymbolFailure{Symbol: cleaned[i], Err: sc.err})
			continue
		}
		for _, c := range sc.candidates {
			logging.LogCandidate(s.logger, c)
		}
		result.Candidates = append(result.Candidates, sc.candidates...)
	}

	s.logger.Info().
		Str("scan_id", result.ID).
		Int("symbols", result.Symbols).
		Int("candidates", len(result.Candidates)).
		Int("failures", len(result.Failures)).
		Msg("Scan complete")

	if params.Save && s.journal != nil {
		if err := s.journal.SaveScan(ctx, result.Record()); err != nil {
			trace.End(span, err)
			return result, fmt.Errorf("saving scan: %w", err)
		}
	}
	return result, ctx.Err()
}

func (s *Scanner) scanSymbol(symbol string, params ScanParams) symbolScan {
	bars, err := s.store.Tail(symbol, params.HistoryWindow)
	if err != nil {
		return symbolScan{err: err}
	}
	return symbolScan{candidates: Detect(symbol, bars, params.Config)}
}

// Record converts the result to its journal form.
func (r *ScanResult) Record() *store.ScanRecord {
	rec := &store.ScanRecord{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt,
		History:    r.Params.HistoryWindow,
		MarginPct:  r.Params.Config.MarginThresholdPct,
		Filter:     r.Params.Config.FilterByLastClose,
		FilterPct:  r.Params.Config.LastCloseMarginThresholdPct,
		Candidates: r.Candidates,
	}
	if len(r.Failures) > 0 {
		rec.Failures = make(map[string]string, len(r.Failures))
		for _, f := range r.Failures {
			rec.Failures[f.Symbol] = f.Err.Error()
		}
	}
	return rec
}
