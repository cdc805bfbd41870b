package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"v20-scanner/internal/market"
	"v20-scanner/internal/models"
	"v20-scanner/internal/store"
)

// Monday 18 March 2024, 10:00 IST: the freshness threshold is Friday the 15th.
var testNow = time.Date(2024, 3, 18, 10, 0, 0, 0, market.IndiaLocation)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestRunner(t *testing.T, src *fakeSource, cfg RunnerConfig) (*Runner, *store.CSVStore, *store.SQLiteJournal, *recordingSleeper) {
	t.Helper()
	e, st := newTestEngine(t, src, 200)
	journal, err := store.NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { journal.Close() })

	r := NewRunner(e, st, journal, market.NewCalendar(market.IndiaLocation), cfg, zerolog.Nop())
	sleeper := &recordingSleeper{}
	r.SetClock(func() time.Time { return testNow }, sleeper.sleep)
	return r, st, journal, sleeper
}

func TestRunCycle_TalliesEveryOutcome(t *testing.T) {
	src := newFakeSource()
	src.rows["NEW"] = []models.RawRow{row("2024-03-14", 10, 11), row("2024-03-15", 11, 12)}
	src.rows["STALE"] = []models.RawRow{row("2024-03-15", 20, 21)}
	src.err["BROKEN"] = context.DeadlineExceeded
	src.err["GONE"] = context.DeadlineExceeded
	src.suspended["GONE"] = true

	r, st, journal, sleeper := newTestRunner(t, src, RunnerConfig{DelayMin: 3 * time.Second, DelayMax: 5 * time.Second, InitialYears: 1, Source: "fake"})
	st.Save("FRESH", []models.Bar{bar("2024-03-15", 1, 2)})
	st.Save("STALE", []models.Bar{bar("2024-03-13", 19, 20)})
	st.Save("QUIET", []models.Bar{bar("2024-03-14", 5, 6)})

	state := NewRunState()
	symbols := []string{"FRESH", "NEW", "STALE", "QUIET", "BROKEN", "GONE"}
	report, err := r.RunCycle(context.Background(), symbols, state)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if !report.Target.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("target = %s, want 2024-03-15", report.Target)
	}
	want := store.CycleStats{Total: 6, Fresh: 1, InitialDownload: 1, Updated: 1, NoNewData: 1, Failed: 1, Suspended: 1}
	if report.Run.Stats != want {
		t.Errorf("stats = %+v, want %+v", report.Run.Stats, want)
	}
	if len(report.Results) != 5 {
		t.Errorf("results = %d, want 5 (fresh symbol not synced)", len(report.Results))
	}
	if !state.IsSuspended("GONE") {
		t.Error("GONE not marked suspended")
	}

	if len(sleeper.delays) != 4 {
		t.Errorf("slept %d times, want between each of 5 synced symbols", len(sleeper.delays))
	}
	for _, d := range sleeper.delays {
		if d < 3*time.Second || d > 5*time.Second {
			t.Errorf("delay %s outside [3s, 5s]", d)
		}
	}

	runs, err := journal.GetRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("journal runs = %v, %v", runs, err)
	}
	if runs[0].Stats != want || runs[0].Source != "fake" {
		t.Errorf("journalled run = %+v", runs[0])
	}
	outcomes, _ := journal.GetRunResults(context.Background(), report.Run.ID)
	if len(outcomes) != 5 {
		t.Errorf("journalled %d outcomes, want 5", len(outcomes))
	}
	if journal.GetLastSync(string(store.SyncTypeCycle)).IsZero() {
		t.Error("last sync time not recorded")
	}

	// The next cycle in the same run skips the suspended symbol without a fetch.
	calls := src.callCount()
	report, _ = r.RunCycle(context.Background(), []string{"GONE"}, state)
	if report.Run.Stats.Suspended != 1 || src.callCount() != calls {
		t.Errorf("suspended symbol re-fetched: stats %+v", report.Run.Stats)
	}
	if report.Run.Stats.Pending() {
		t.Error("cycle with only suspended symbols reported pending work")
	}
}

func TestRunCycle_ParallelWorkers(t *testing.T) {
	src := newFakeSource()
	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, s := range symbols {
		src.rows[s] = []models.RawRow{row("2024-03-15", 10, 11)}
	}
	src.delay = 10 * time.Millisecond

	r, st, _, _ := newTestRunner(t, src, RunnerConfig{Workers: 4, InitialYears: 1})
	report, err := r.RunCycle(context.Background(), symbols, NewRunState())
	if err != nil {
		t.Fatal(err)
	}
	if report.Run.Stats.InitialDownload != len(symbols) {
		t.Errorf("stats = %+v", report.Run.Stats)
	}
	if src.maxInFlight < 2 || src.maxInFlight > 4 {
		t.Errorf("max concurrent fetches = %d, want 2..4", src.maxInFlight)
	}
	for _, s := range symbols {
		if !st.Exists(s) {
			t.Errorf("%s not stored", s)
		}
	}
}

func TestRunCycle_Cancelled(t *testing.T) {
	src := newFakeSource()
	src.rows["A"] = []models.RawRow{row("2024-03-15", 10, 11)}
	r, _, _, _ := newTestRunner(t, src, RunnerConfig{InitialYears: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RunCycle(ctx, []string{"A", "B"}, NewRunState())
	if err == nil {
		t.Fatal("RunCycle() on a cancelled context returned nil error")
	}
	if src.callCount() != 0 {
		t.Errorf("cancelled cycle fetched %d times", src.callCount())
	}
}

func TestRunState(t *testing.T) {
	s := NewRunState()
	s.MarkSuspended("yesbank", "Suspended")
	s.MarkSuspended("DHFL", "Delisted")

	if !s.IsSuspended("YESBANK") || s.IsSuspended("TCS") {
		t.Error("IsSuspended() mismatch")
	}
	if got := s.Suspended(); len(got) != 2 || got[0] != "DHFL" {
		t.Errorf("Suspended() = %v", got)
	}
	if s.Reason("dhfl") != "Delisted" {
		t.Errorf("Reason() = %q", s.Reason("dhfl"))
	}

	var nilState *RunState
	if nilState.IsSuspended("X") {
		t.Error("nil state reported a suspension")
	}
}
