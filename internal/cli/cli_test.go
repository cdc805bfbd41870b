package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"v20-scanner/internal/models"
	"v20-scanner/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(zerolog.Nop())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testConfigDir(t *testing.T) string {
	t.Helper()
	for _, env := range []string{"V20_DATA_DIR", "V20_STOCKS_FILE", "V20_SOURCE", "V20_WORKERS", "V20_LOG_LEVEL"} {
		t.Setenv(env, "")
	}
	dir := t.TempDir()
	cfg := "[logging]\nconsole = false\nfile = false\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := run(t, "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if got["version"] != Version {
		t.Errorf("version = %q, want %q", got["version"], Version)
	}
}

func TestWatchlistCmds(t *testing.T) {
	dir := testConfigDir(t)

	if _, err := run(t, "--config", dir, "watchlist", "set", "tcs", "INFY", "tcs"); err != nil {
		t.Fatalf("watchlist set: %v", err)
	}
	if _, err := run(t, "--config", dir, "watchlist", "add", "HDFCBANK"); err != nil {
		t.Fatalf("watchlist add: %v", err)
	}
	if _, err := run(t, "--config", dir, "watchlist", "remove", "infy"); err != nil {
		t.Fatalf("watchlist remove: %v", err)
	}

	out, err := run(t, "--config", dir, "watchlist", "show", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var symbols []string
	if err := json.Unmarshal([]byte(out), &symbols); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if strings.Join(symbols, ",") != "HDFCBANK,TCS" {
		t.Errorf("watch-list = %v, want [HDFCBANK TCS]", symbols)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "stocks.txt"))
	if string(data) != "HDFCBANK\nTCS\n" {
		t.Errorf("stocks.txt = %q", data)
	}
}

func TestScanCmd(t *testing.T) {
	dir := testConfigDir(t)
	series, err := store.NewCSVStore(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []models.Bar{
		{Date: day, Open: 10, High: 10, Low: 10, Close: 10},
		{Date: day.AddDate(0, 0, 1), Open: 10, High: 12, Low: 10, Close: 12},
		{Date: day.AddDate(0, 0, 2), Open: 12, High: 15, Low: 12, Close: 15},
	}
	if err := series.Save("TCS", bars); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--config", dir, "scan", "--symbols", "tcs,missing", "--filter-last-close=false", "--json")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var got struct {
		Candidates []struct {
			Line string `json:"line"`
		} `json:"candidates"`
		Failures map[string]string `json:"failures"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %q", out)
	}
	if len(got.Candidates) != 1 || !strings.HasPrefix(got.Candidates[0].Line, "TCS|2-Jan-2024|50.00%") {
		t.Errorf("candidates = %+v", got.Candidates)
	}
	if _, ok := got.Failures["MISSING"]; !ok {
		t.Errorf("failures = %v, want MISSING", got.Failures)
	}

	// The default last-close filter drops a run that already ran away.
	out, err = run(t, "--config", dir, "scan", "--symbols", "TCS")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No results!") {
		t.Errorf("filtered scan output = %q", out)
	}
}
