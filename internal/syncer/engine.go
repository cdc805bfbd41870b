// Package syncer keeps each symbol's stored price series current.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"v20-scanner/internal/analysis/indicators"
	"v20-scanner/internal/corporate"
	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/logging"
	"v20-scanner/internal/models"
	"v20-scanner/internal/source"
	"v20-scanner/internal/store"
	"v20-scanner/internal/trace"
)

// DefaultMAWindow is the moving-average length stored with each series.
const DefaultMAWindow = 200

// Engine brings one symbol at a time up to a target date.
type Engine struct {
	store    store.SeriesStore
	source   source.HistorySource
	maWindow int
	logger   zerolog.Logger
	locks    *keyedMutex
}

// NewEngine creates a sync engine. A non-positive maWindow uses DefaultMAWindow.
func NewEngine(st store.SeriesStore, src source.HistorySource, maWindow int, logger zerolog.Logger) *Engine {
	if maWindow <= 0 {
		maWindow = DefaultMAWindow
	}
	return &Engine{
		store:    st,
		source:   src,
		maWindow: maWindow,
		logger:   logging.WithOperation(logger, "sync"),
		locks:    newKeyedMutex(),
	}
}

// UpdateToDate ensures the stored series for symbol covers every trading day
// up to target. The freshness check, fetch, merge and write for a symbol run
// under that symbol's lock. Failures are reported in the result, never
// retried here.
func (e *Engine) UpdateToDate(ctx context.Context, symbol string, target time.Time, initialYears int, state *RunState) models.SyncResult {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	logger := logging.WithSymbol(e.logger, symbol)
	start := time.Now()

	if state.IsSuspended(symbol) {
		r := models.SyncResult{
			Symbol:  symbol,
			Status:  models.StatusSuspended,
			Message: fmt.Sprintf("%s skipped: suspended earlier in this run (%s)", symbol, state.Reason(symbol)),
			Err:     apperrors.ErrSymbolSuspended,
		}
		logging.LogSyncResult(logger, r, time.Since(start))
		return r
	}

	unlock := e.locks.Lock(symbol)
	defer unlock()

	ctx, span := trace.StartSpan(ctx, "syncer.UpdateToDate",
		attribute.String("symbol", symbol),
		attribute.String("target", target.Format(models.DateLayout)),
	)
	ctx = logging.WithLogger(ctx, logger)

	r := e.update(ctx, logger, symbol, models.DayOf(target), initialYears, state)
	span.SetAttributes(attribute.String("status", string(r.Status)), attribute.Int("bars", r.Bars))
	trace.End(span, r.Err)

	logging.LogSyncResult(logger, r, time.Since(start))
	return r
}

func (e *Engine) update(ctx context.Context, logger zerolog.Logger, symbol string, target time.Time, initialYears int, state *RunState) models.SyncResult {
	existing := e.loadExisting(logger, symbol)
	if len(existing) == 0 {
		return e.initialDownload(ctx, symbol, target, initialYears, state)
	}

	last := existing[len(existing)-1].Date
	if !last.Before(target) {
		return models.SyncResult{
			Symbol:   symbol,
			Status:   models.StatusAlreadyFresh,
			Message:  fmt.Sprintf("%s already up to date", symbol),
			LastDate: last,
			Bars:     len(existing),
		}
	}

	from := last.AddDate(0, 0, 1)
	rows, err := e.source.FetchHistory(ctx, symbol, from, target)
	if apperrors.Is(err, apperrors.ErrNoDataAvailable) || (err == nil && len(rows) == 0) {
		return models.SyncResult{
			Symbol:   symbol,
			Status:   models.StatusNoNewData,
			Message:  fmt.Sprintf("No new data for %s", symbol),
			LastDate: last,
			Bars:     len(existing),
		}
	}
	if err != nil {
		r := e.failure(ctx, symbol, state, fmt.Sprintf("Update download failed for %s", symbol), err)
		r.LastDate, r.Bars = last, len(existing)
		return r
	}

	fresh, actions := corporate.AdjustRows(rows)
	// New actions change the share basis of everything already stored.
	pending := corporate.After(actions, last)
	for _, a := range pending {
		logger.Info().Str("action", a.String()).Msg("Rescaling stored history for corporate action")
	}
	stored := corporate.Adjust(existing, pending)

	merged := indicators.ApplyMA(store.Merge(stored, fresh), e.maWindow)
	if err := e.save(symbol, merged); err != nil {
		return models.SyncResult{
			Symbol:   symbol,
			Status:   models.StatusFailed,
			Message:  fmt.Sprintf("Saving update for %s failed", symbol),
			LastDate: last,
			Bars:     len(existing),
			Err:      err,
		}
	}

	return models.SyncResult{
		Symbol:   symbol,
		Status:   models.StatusUpdated,
		Message:  fmt.Sprintf("Update successful for %s", symbol),
		LastDate: merged[len(merged)-1].Date,
		Bars:     len(merged),
		Actions:  len(pending),
	}
}

// loadExisting returns the stored series, treating missing or unreadable
// storage as no data.
func (e *Engine) loadExisting(logger zerolog.Logger, symbol string) []models.Bar {
	bars, err := e.store.Load(symbol)
	switch {
	case err == nil:
		return bars
	case apperrors.Is(err, apperrors.ErrSeriesNotFound):
		return nil
	case apperrors.Is(err, apperrors.ErrStorageCorrupt):
		logger.Warn().Err(err).Msg("Stored series is unreadable, downloading full history")
	default:
		logger.Warn().Err(err).Msg("Could not read stored series, downloading full history")
	}
	return nil
}

func (e *Engine) initialDownload(ctx context.Context, symbol string, target time.Time, initialYears int, state *RunState) models.SyncResult {
	if initialYears <= 0 {
		initialYears = 1
	}
	from := target.AddDate(0, 0, -initialYears*365)

	rows, err := e.source.FetchHistory(ctx, symbol, from, target)
	if err == nil && len(rows) == 0 {
		err = apperrors.ErrNoDataAvailable
	}
	if err != nil {
		return e.failure(ctx, symbol, state, fmt.Sprintf("Initial download failed for %s", symbol), err)
	}

	adjusted, actions := corporate.AdjustRows(rows)
	bars := indicators.ApplyMA(store.Normalize(adjusted), e.maWindow)
	if err := e.save(symbol, bars); err != nil {
		return models.SyncResult{
			Symbol:  symbol,
			Status:  models.StatusFailed,
			Message: fmt.Sprintf("Saving initial download for %s failed", symbol),
			Err:     err,
		}
	}

	return models.SyncResult{
		Symbol:   symbol,
		Status:   models.StatusInitialDownload,
		Message:  fmt.Sprintf("Initial download successful for %s", symbol),
		LastDate: bars[len(bars)-1].Date,
		Bars:     len(bars),
		Actions:  len(actions),
	}
}

// failure probes the source for a suspension before reporting a failed fetch.
func (e *Engine) failure(ctx context.Context, symbol string, state *RunState, msg string, cause error) models.SyncResult {
	if checker, ok := e.source.(source.SuspensionChecker); ok {
		suspended, status, err := checker.IsSuspended(ctx, symbol)
		switch {
		case err != nil:
			logger := logging.FromContext(ctx)
			logger.Debug().Err(err).Msg("Suspension probe failed")
		case suspended:
			if state != nil {
				state.MarkSuspended(symbol, status)
			}
			return models.SyncResult{
				Symbol:  symbol,
				Status:  models.StatusSuspended,
				Message: fmt.Sprintf("%s suspended (%s), skipping further attempts", symbol, status),
				Err:     fmt.Errorf("%w: %s", apperrors.ErrSymbolSuspended, status),
			}
		}
	}
	return models.SyncResult{
		Symbol:  symbol,
		Status:  models.StatusFailed,
		Message: msg,
		Err:     cause,
	}
}

func (e *Engine) save(symbol string, bars []models.Bar) error {
	if err := e.store.Save(symbol, bars); err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrStorageWrite, symbol, err)
	}
	return nil
}
