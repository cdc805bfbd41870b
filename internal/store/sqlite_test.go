package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"v20-scanner/internal/models"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSQLiteJournal_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	run := &SyncRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC().Truncate(time.Second),
		Target:    d("2024-03-15"),
		Source:    "nse",
	}
	if err := j.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	results := []models.SyncResult{
		{Symbol: "TCS", Status: models.StatusUpdated, LastDate: d("2024-03-15"), Bars: 250},
		{Symbol: "INFY", Status: models.StatusFailed, Message: "timeout"},
		{Symbol: "YESBANK", Status: models.StatusSuspended, Message: "trading suspended"},
	}
	for _, r := range results {
		if err := j.RecordResult(ctx, run.ID, r); err != nil {
			t.Fatalf("RecordResult() error = %v", err)
		}
		run.Stats.Add(r)
	}

	run.FinishedAt = run.StartedAt.Add(time.Minute)
	if err := j.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	runs, err := j.GetRuns(ctx, 10)
	if err != nil {
		t.Fatalf("GetRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("GetRuns() returned %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != run.ID || got.Source != "nse" || !got.Target.Equal(run.Target) {
		t.Errorf("run = %+v", got)
	}
	if got.Stats != run.Stats {
		t.Errorf("stats = %+v, want %+v", got.Stats, run.Stats)
	}
	if got.FinishedAt.IsZero() {
		t.Error("FinishedAt not stored")
	}

	outcomes, err := j.GetRunResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunResults() error = %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("GetRunResults() returned %d, want 3", len(outcomes))
	}
	if outcomes[0].Symbol != "TCS" || outcomes[0].Status != models.StatusUpdated || outcomes[0].Bars != 250 || !outcomes[0].LastDate.Equal(d("2024-03-15")) {
		t.Errorf("first outcome = %+v", outcomes[0])
	}
	if outcomes[1].Message != "timeout" || !outcomes[1].LastDate.IsZero() {
		t.Errorf("second outcome = %+v", outcomes[1])
	}
}

func TestSQLiteJournal_Scans(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	first := &ScanRecord{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
		History:   10,
		MarginPct: 20,
		Filter:    true,
		FilterPct: 5,
		Candidates: []models.BreakoutCandidate{{
			Symbol:       "TCS",
			RunStartDate: d("2024-01-02"),
			MarginPct:    25.5,
			PriorMA:      101.5,
			HasPriorMA:   true,
			LowDate:      d("2024-01-02"),
			LowPrice:     100,
			HighDate:     d("2024-01-05"),
			HighPrice:    125.5,
		}},
		Failures: map[string]string{"FOO": "series not found"},
	}
	second := &ScanRecord{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		History:   5,
		MarginPct: 15,
		Candidates: []models.BreakoutCandidate{
			{Symbol: "INFY", MarginPct: 16},
			{Symbol: "WIPRO", MarginPct: 30},
		},
	}
	for _, s := range []*ScanRecord{first, second} {
		if err := j.SaveScan(ctx, s); err != nil {
			t.Fatalf("SaveScan() error = %v", err)
		}
	}

	all, err := j.GetScans(ctx, ScanFilter{})
	if err != nil {
		t.Fatalf("GetScans() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("GetScans() = %d scans, newest %v", len(all), all)
	}
	if len(all[0].Candidates) != 2 || all[0].Candidates[1].Symbol != "WIPRO" {
		t.Errorf("candidates of newest scan = %+v", all[0].Candidates)
	}

	bySymbol, err := j.GetScans(ctx, ScanFilter{Symbol: "tcs"})
	if err != nil {
		t.Fatalf("GetScans(symbol) error = %v", err)
	}
	if len(bySymbol) != 1 || bySymbol[0].ID != first.ID {
		t.Fatalf("GetScans(symbol) = %+v", bySymbol)
	}
	c := bySymbol[0].Candidates[0]
	if c.MarginPct != 25.5 || !c.HasPriorMA || !c.HighDate.Equal(d("2024-01-05")) {
		t.Errorf("candidate round-trip = %+v", c)
	}
	if !bySymbol[0].Filter || bySymbol[0].Failures["FOO"] != "series not found" {
		t.Errorf("scan settings round-trip = %+v", bySymbol[0])
	}

	limited, _ := j.GetScans(ctx, ScanFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Limit ignored: %d scans", len(limited))
	}
}

func TestSQLiteJournal_LastSync(t *testing.T) {
	j := newTestJournal(t)

	if got := j.GetLastSync(string(SyncTypeCycle)); !got.IsZero() {
		t.Errorf("GetLastSync() on empty journal = %v", got)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := j.SetLastSync(string(SyncTypeCycle), now); err != nil {
		t.Fatal(err)
	}
	if got := j.GetLastSync(string(SyncTypeCycle)); !got.Equal(now) {
		t.Errorf("GetLastSync() = %v, want %v", got, now)
	}
}

// Property: every recorded result is returned for its run, in insertion order,
// and the stats written by FinishRun equal the tally of those results.
func TestProperty_JournalRecordsEveryResult(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	statuses := []models.SyncStatus{
		models.StatusAlreadyFresh, models.StatusInitialDownload, models.StatusUpdated,
		models.StatusNoNewData, models.StatusFailed, models.StatusSuspended,
	}

	properties.Property("results round-trip per run", prop.ForAll(
		func(picks []int) bool {
			run := &SyncRun{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Target: d("2024-01-01"), Source: "test"}
			if err := j.StartRun(ctx, run); err != nil {
				return false
			}
			for i, p := range picks {
				r := models.SyncResult{Symbol: "S" + string(rune('A'+i%26)), Status: statuses[p%len(statuses)]}
				if err := j.RecordResult(ctx, run.ID, r); err != nil {
					return false
				}
				run.Stats.Add(r)
			}
			run.FinishedAt = time.Now().UTC()
			if err := j.FinishRun(ctx, run); err != nil {
				return false
			}

			outcomes, err := j.GetRunResults(ctx, run.ID)
			if err != nil || len(outcomes) != len(picks) {
				return false
			}
			for i, p := range picks {
				if outcomes[i].Status != statuses[p%len(statuses)] {
					return false
				}
			}
			runs, err := j.GetRuns(ctx, 1000)
			if err != nil {
				return false
			}
			for _, r := range runs {
				if r.ID == run.ID {
					return r.Stats == run.Stats && r.Stats.Total == len(picks)
				}
			}
			return false
		},
		gen.SliceOfN(12, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
