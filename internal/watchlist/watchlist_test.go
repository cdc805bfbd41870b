package watchlist

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "v20-scanner/internal/errors"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocks.txt")
	content := "tcs\n  INFY \n\n# banks\nHDFCBANK\nTCS\nm&m\r\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"HDFCBANK", "INFY", "M&M", "TCS"}
	if len(got) != len(want) {
		t.Fatalf("Load() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Load()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: error = %v", err)
	}

	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, []byte("\n  \n# nothing\n"), 0o644)
	if _, err := Load(empty); !errors.Is(err, apperrors.ErrEmptyWatchlist) {
		t.Errorf("empty file: error = %v, want ErrEmptyWatchlist", err)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stocks.txt")

	saved, err := Save(path, []string{"wipro", "TCS", "wipro", ""})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if Text(saved) != "TCS\nWIPRO" || Text(loaded) != Text(saved) {
		t.Errorf("saved %v, loaded %v", saved, loaded)
	}

	if _, err := Save(path, []string{" "}); !errors.Is(err, apperrors.ErrEmptyWatchlist) {
		t.Errorf("Save(blank) error = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the list", len(entries))
	}
}

func TestProperty_NormalizeIsCanonical(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("output is sorted, unique and idempotent", prop.ForAll(
		func(in []string) bool {
			out := Normalize(in)
			if !sort.StringsAreSorted(out) {
				return false
			}
			for i := 1; i < len(out); i++ {
				if out[i] == out[i-1] {
					return false
				}
			}
			again := Normalize(out)
			if len(again) != len(out) {
				return false
			}
			for i := range out {
				if again[i] != out[i] || out[i] == "" {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.OneGenOf(gen.AlphaString(), gen.Const(" tcs "), gen.Const(""))),
	))

	properties.TestingRun(t)
}
