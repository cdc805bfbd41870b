package store

import (
	"time"

	apperrors "v20-scanner/internal/errors"
)

// SyncDataType names a bookkeeping entry in the sync_status table.
type SyncDataType string

const (
	SyncTypeCycle SyncDataType = "cycle"
	SyncTypeScan  SyncDataType = "scan"
)

// DataFreshness describes how current a stored series is.
type DataFreshness struct {
	Symbol   string
	LastDate time.Time
	IsFresh  bool
	Missing  bool
	Corrupt  bool
	Lag      int // calendar days behind the threshold
}

// CheckFreshness reports, per symbol, whether the stored series reaches threshold.
func CheckFreshness(s SeriesStore, symbols []string, threshold time.Time) []DataFreshness {
	out := make([]DataFreshness, 0, len(symbols))
	for _, symbol := range symbols {
		f := DataFreshness{Symbol: symbol}
		last, err := s.LastDate(symbol)
		switch {
		case apperrors.Is(err, apperrors.ErrStorageCorrupt):
			f.Corrupt = true
		case err != nil:
			f.Missing = true
		default:
			f.LastDate = last
			f.IsFresh = !last.Before(threshold)
			if !f.IsFresh {
				f.Lag = int(threshold.Sub(last).Hours() / 24)
			}
		}
		out = append(out, f)
	}
	return out
}

// IsFresh reports whether a symbol's stored series reaches threshold.
// Missing or unreadable series are never fresh.
func IsFresh(s SeriesStore, symbol string, threshold time.Time) bool {
	last, err := s.LastDate(symbol)
	if err != nil {
		return false
	}
	return !last.Before(threshold)
}
