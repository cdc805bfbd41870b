// Package scheduler runs sync cycles continuously or on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"v20-scanner/internal/syncer"
)

// DefaultRetryPause is the pause between cycles that left work pending.
const DefaultRetryPause = time.Minute

// CycleRunner runs one sync cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, symbols []string, state *syncer.RunState) (*syncer.CycleReport, error)
}

// SymbolLoader returns the current watch-list. It is called before every cycle
// so edits to the list take effect without a restart.
type SymbolLoader func() ([]string, error)

// CycleHook runs after a cycle that left nothing pending.
type CycleHook func(ctx context.Context, symbols []string, report *syncer.CycleReport)

// Daemon repeats sync cycles until nothing is pending, then sleeps until the
// next tick of its schedule. Suspensions are remembered for the life of the
// daemon.
type Daemon struct {
	runner     CycleRunner
	load       SymbolLoader
	schedule   cron.Schedule
	loc        *time.Location
	retryPause time.Duration
	settled    CycleHook
	logger     zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDaemon creates a daemon waking on the standard five-field cron spec.
func NewDaemon(runner CycleRunner, load SymbolLoader, spec string, loc *time.Location, logger zerolog.Logger) (*Daemon, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Daemon{
		runner:     runner,
		load:       load,
		schedule:   schedule,
		loc:        loc,
		retryPause: DefaultRetryPause,
		logger:     logger.With().Str("component", "daemon").Logger(),
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

// SetRetryPause sets the pause between cycles that left work pending.
func (d *Daemon) SetRetryPause(p time.Duration) {
	d.retryPause = p
}

// OnSettled sets the hook run when a cycle leaves nothing pending.
func (d *Daemon) OnSettled(hook CycleHook) {
	d.settled = hook
}

// NextWake returns the next scheduled wake-up after t.
func (d *Daemon) NextWake(t time.Time) time.Time {
	return d.schedule.Next(t.In(d.loc))
}

// Run loops until ctx is cancelled or the watch-list cannot be loaded.
func (d *Daemon) Run(ctx context.Context) error {
	state := syncer.NewRunState()
	d.logger.Info().Msg("Starting continuous sync loop")

	for {
		symbols, err := d.load()
		if err != nil {
			d.logger.Error().Err(err).Msg("Cannot load watch-list, stopping")
			return err
		}

		report, err := d.runner.RunCycle(ctx, symbols, state)
		if ctx.Err() != nil {
			d.logger.Info().Msg("Continuous sync interrupted")
			return nil
		}
		if err != nil {
			d.logger.Error().Err(err).Msg("Sync cycle failed")
		}

		var wait time.Duration
		if report != nil && report.Run.Stats.Pending() {
			wait = d.retryPause
			d.logger.Info().Dur("pause", wait).Msg("Work pending, starting another cycle")
		} else {
			if report != nil && d.settled != nil {
				d.settled(ctx, symbols, report)
			}
			now := d.now()
			next := d.NextWake(now)
			wait = next.Sub(now)
			d.logger.Info().Time("next_check", next).Msg("All stocks fresh, sleeping until next scheduled check")
		}

		if err := d.sleep(ctx, wait); err != nil {
			d.logger.Info().Msg("Continuous sync interrupted")
			return nil
		}
	}
}

// Scheduler runs sync cycles in the background on a cron schedule, used
// while the web UI is serving.
type Scheduler struct {
	cron   *cron.Cron
	runner CycleRunner
	load   SymbolLoader
	logger zerolog.Logger
	ctx    context.Context

	mu      sync.Mutex
	running bool
	state   *syncer.RunState
	settled CycleHook
}

// New creates a background scheduler in the given time zone.
func New(ctx context.Context, runner CycleRunner, load SymbolLoader, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		runner: runner,
		load:   load,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		state:  syncer.NewRunState(),
	}
}

// Register adds the sync job on spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.syncTask); err != nil {
		return fmt.Errorf("register sync task: %w", err)
	}
	return nil
}

// OnSettled sets the hook run when a background cycle leaves nothing pending.
func (s *Scheduler) OnSettled(hook CycleHook) {
	s.settled = hook
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// RunNow executes the sync job immediately.
func (s *Scheduler) RunNow() {
	s.syncTask()
}

// syncTask runs one cycle; overlapping ticks are skipped.
func (s *Scheduler) syncTask() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous sync still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	symbols, err := s.load()
	if err != nil {
		s.logger.Error().Err(err).Msg("Cannot load watch-list")
		return
	}
	report, err := s.runner.RunCycle(s.ctx, symbols, s.state)
	if err != nil {
		s.logger.Error().Err(err).Msg("Background sync failed")
		return
	}
	if s.settled != nil && !report.Run.Stats.Pending() {
		s.settled(s.ctx, symbols, report)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
