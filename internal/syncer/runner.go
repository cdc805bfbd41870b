package syncer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"

	"v20-scanner/internal/logging"
	"v20-scanner/internal/market"
	"v20-scanner/internal/models"
	"v20-scanner/internal/store"
	"v20-scanner/internal/trace"
)

// RunnerConfig holds cycle-level sync settings.
type RunnerConfig struct {
	Workers      int
	DelayMin     time.Duration
	DelayMax     time.Duration
	InitialYears int
	Source       string
}

// CycleReport is the outcome of one pass over the watch-list.
type CycleReport struct {
	Run     store.SyncRun
	Target  time.Time
	Results []models.SyncResult
}

// Runner drives the engine over a watch-list, one cycle at a time.
type Runner struct {
	engine   *Engine
	store    store.SeriesStore
	journal  store.Journal
	calendar *market.Calendar
	cfg      RunnerConfig
	logger   zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewRunner creates a cycle runner. journal may be nil.
func NewRunner(engine *Engine, st store.SeriesStore, journal store.Journal, cal *market.Calendar, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Runner{
		engine:   engine,
		store:    st,
		journal:  journal,
		calendar: cal,
		cfg:      cfg,
		logger:   logging.WithOperation(logger, "cycle"),
		now:      time.Now,
		sleep:    sleepContext,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock replaces the wall clock and the inter-symbol sleeper.
func (r *Runner) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		r.now = now
	}
	if sleep != nil {
		r.sleep = sleep
	}
}

// Target returns the freshness threshold for the current time.
func (r *Runner) Target() time.Time {
	return r.calendar.FreshnessThreshold(r.now(), r.logger)
}

// RunCycle syncs every stale, non-suspended symbol once. Symbols already
// fresh or suspended are only tallied. One symbol's failure never stops the
// cycle; only context cancellation does.
func (r *Runner) RunCycle(ctx context.Context, symbols []string, state *RunState) (*CycleReport, error) {
	if state == nil {
		state = NewRunState()
	}
	started := r.now()
	target := r.Target()

	report := &CycleReport{
		Run: store.SyncRun{
			ID:        uuid.NewString(),
			StartedAt: started.UTC(),
			Target:    target,
			Source:    r.cfg.Source,
		},
		Target: target,
	}
	logger := logging.WithRunID(r.logger, report.Run.ID)

	ctx, span := trace.StartSpan(ctx, "syncer.RunCycle",
		attribute.String("run_id", report.Run.ID),
		attribute.Int("symbols", len(symbols)),
	)
	defer span.End()

	if r.journal != nil {
		if err := r.journal.StartRun(ctx, &report.Run); err != nil {
			logger.Warn().Err(err).Msg("Failed to journal run start")
		}
	}

	var stale []string
	for _, symbol := range symbols {
		switch {
		case state.IsSuspended(symbol):
			report.Run.Stats.Total++
			report.Run.Stats.Suspended++
		case store.IsFresh(r.store, symbol, target):
			report.Run.Stats.Total++
			report.Run.Stats.Fresh++
		default:
			stale = append(stale, symbol)
		}
	}

	logger.Info().
		Str("target", target.Format(models.DateLayout)).
		Int("stale", len(stale)).
		Int("skipped", report.Run.Stats.Total).
		Msg("Starting sync cycle")

	var mu sync.Mutex
	record := func(res models.SyncResult) {
		mu.Lock()
		report.Results = append(report.Results, res)
		report.Run.Stats.Add(res)
		mu.Unlock()
		if r.journal != nil {
			if err := r.journal.RecordResult(ctx, report.Run.ID, res); err != nil {
				logger.Warn().Err(err).Str("symbol", res.Symbol).Msg("Failed to journal result")
			}
		}
	}

	p := pool.New().WithMaxGoroutines(r.cfg.Workers)
	for i, symbol := range stale {
		if ctx.Err() != nil {
			break
		}
		last := i == len(stale)-1
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			res := r.engine.UpdateToDate(ctx, symbol, target, r.cfg.InitialYears, state)
			record(res)
			if !last {
				_ = r.sleep(ctx, r.delay())
			}
		})
	}
	p.Wait()

	report.Run.FinishedAt = r.now().UTC()
	if r.journal != nil {
		if err := r.journal.FinishRun(ctx, &report.Run); err != nil {
			logger.Warn().Err(err).Msg("Failed to journal run finish")
		}
		if err := r.journal.SetLastSync(string(store.SyncTypeCycle), report.Run.FinishedAt); err != nil {
			logger.Warn().Err(err).Msg("Failed to record last sync time")
		}
	}

	logging.LogCycle(logger, report.Run.ID, report.Run.Stats, report.Run.FinishedAt.Sub(report.Run.StartedAt))
	return report, ctx.Err()
}

// delay picks a random pause in [DelayMin, DelayMax].
func (r *Runner) delay() time.Duration {
	span := r.cfg.DelayMax - r.cfg.DelayMin
	if span <= 0 {
		return r.cfg.DelayMin
	}
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.cfg.DelayMin + time.Duration(r.rand.Int63n(int64(span)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
