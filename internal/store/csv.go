package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/models"
)

// csvDate serialises a calendar date as YYYY-MM-DD.
type csvDate struct {
	time.Time
}

func (d csvDate) MarshalCSV() (string, error) {
	return d.Format(models.DateLayout), nil
}

func (d *csvDate) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	// tolerate timestamps written by other tools, e.g. "2024-01-02 00:00:00"
	if len(s) > len(models.DateLayout) {
		s = s[:len(models.DateLayout)]
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// csvRow is one line of a series file.
type csvRow struct {
	Date   csvDate  `csv:"Date"`
	Open   float64  `csv:"Open"`
	High   float64  `csv:"High"`
	Low    float64  `csv:"Low"`
	Close  float64  `csv:"Close"`
	Volume float64  `csv:"Volume"`
	MA     *float64 `csv:"MA,omitempty"`
}

func toRow(b models.Bar) csvRow {
	row := csvRow{
		Date:   csvDate{b.Day()},
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
	if b.HasMA {
		ma := b.MA
		row.MA = &ma
	}
	return row
}

func (r csvRow) bar() models.Bar {
	b := models.Bar{
		Date:   r.Date.Time,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
	if r.MA != nil {
		b.MA, b.HasMA = *r.MA, true
	}
	return b
}

// CSVStore keeps one CSV file per symbol in a directory.
type CSVStore struct {
	dir string
	mu  sync.Mutex // serialises temp-file creation and rename
}

// NewCSVStore creates the data directory if needed.
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &CSVStore{dir: dir}, nil
}

// Dir returns the data directory.
func (s *CSVStore) Dir() string {
	return s.dir
}

// FileSafeSymbol maps a symbol to its file name stem.
func FileSafeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "&", "-")
}

// Path returns the series file for a symbol.
func (s *CSVStore) Path(symbol string) string {
	return filepath.Join(s.dir, FileSafeSymbol(symbol)+".csv")
}

// Exists reports whether a series file is present.
func (s *CSVStore) Exists(symbol string) bool {
	_, err := os.Stat(s.Path(symbol))
	return err == nil
}

// Load reads the whole series for a symbol.
func (s *CSVStore) Load(symbol string) ([]models.Bar, error) {
	data, err := os.ReadFile(s.Path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrSeriesNotFound
		}
		return nil, apperrors.NewStorageError(symbol, "read failed", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperrors.NewStorageError(symbol, "empty file", apperrors.ErrStorageCorrupt)
	}

	var rows []csvRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, apperrors.NewStorageError(symbol, err.Error(), apperrors.ErrStorageCorrupt)
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		if r.Date.IsZero() {
			return nil, apperrors.NewStorageError(symbol, "row without date", apperrors.ErrStorageCorrupt)
		}
		bars = append(bars, r.bar())
	}
	return Normalize(bars), nil
}

// Tail returns at most n most recent bars.
func (s *CSVStore) Tail(symbol string, n int) ([]models.Bar, error) {
	bars, err := s.Load(symbol)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// LastDate returns the date of the most recent stored bar.
func (s *CSVStore) LastDate(symbol string) (time.Time, error) {
	bars, err := s.Load(symbol)
	if err != nil {
		return time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, apperrors.ErrSeriesNotFound
	}
	return bars[len(bars)-1].Date, nil
}

// Save atomically replaces the series file.
func (s *CSVStore) Save(symbol string, bars []models.Bar) error {
	rows := make([]csvRow, len(bars))
	for i, b := range bars {
		rows[i] = toRow(b)
	}
	data, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFileAtomic(s.Path(symbol), data); err != nil {
		return fmt.Errorf("saving %s: %w", symbol, err)
	}
	return nil
}

// WriteFileAtomic replaces path with data. The bytes are written to a
// temporary file in the same directory, synced, then renamed over the target,
// so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing: %w", err)
	}
	return nil
}

// Delete removes a symbol's series file.
func (s *CSVStore) Delete(symbol string) error {
	err := os.Remove(s.Path(symbol))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Symbols lists the file-safe names of all stored series.
func (s *CSVStore) Symbols() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(matches))
	for _, m := range matches {
		symbols = append(symbols, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Normalize sorts bars ascending by date and keeps the last bar seen for
// any repeated date.
func Normalize(bars []models.Bar) []models.Bar {
	byDate := make(map[time.Time]int, len(bars))
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		b.Date = b.Day()
		if i, ok := byDate[b.Date]; ok {
			out[i] = b
			continue
		}
		byDate[b.Date] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Merge unions existing and fresh bars; on a repeated date the fresh bar wins.
func Merge(existing, fresh []models.Bar) []models.Bar {
	all := make([]models.Bar, 0, len(existing)+len(fresh))
	all = append(all, existing...)
	all = append(all, fresh...)
	return Normalize(all)
}
