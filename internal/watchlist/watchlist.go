// Package watchlist reads and writes the plain-text list of symbols to sync
// and scan, one symbol per line.
package watchlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/store"
)

// Load reads the watch-list at path. A missing file or a list without any
// symbol is an error.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stocks file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("opening stocks file: %w", err)
	}
	defer f.Close()

	symbols, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s: %w", path, apperrors.ErrEmptyWatchlist)
	}
	return symbols, nil
}

// Parse reads one symbol per line and normalises the result.
// Lines starting with '#' are comments.
func Parse(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return Normalize(lines), nil
}

// ParseText normalises a newline-separated list such as a form field.
func ParseText(text string) []string {
	symbols, _ := Parse(strings.NewReader(text))
	return symbols
}

// Normalize trims and upper-cases symbols, drops blanks and duplicates, and
// sorts the result.
func Normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Save normalises symbols and atomically rewrites the watch-list at path.
func Save(path string, symbols []string) ([]string, error) {
	symbols = Normalize(symbols)
	if len(symbols) == 0 {
		return nil, apperrors.ErrEmptyWatchlist
	}
	data := strings.Join(symbols, "\n") + "\n"
	if err := store.WriteFileAtomic(path, []byte(data)); err != nil {
		return nil, fmt.Errorf("saving stocks file: %w", err)
	}
	return symbols, nil
}

// Text renders symbols one per line, as shown in the edit forms.
func Text(symbols []string) string {
	return strings.Join(symbols, "\n")
}
