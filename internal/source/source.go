// Package source provides remote daily-history providers.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"v20-scanner/internal/config"
	apperrors "v20-scanner/internal/errors"
	"v20-scanner/internal/models"
	"v20-scanner/pkg/utils"
)

// HistorySource fetches raw daily rows for a symbol over an inclusive date range.
// Implementations return ErrNoDataAvailable when the range holds no trading data
// and a *FetchError when the remote call fails.
type HistorySource interface {
	FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.RawRow, error)
	Name() string
}

// SuspensionChecker reports whether trading in a symbol is suspended or the
// symbol has been delisted. The string is the remote status text.
type SuspensionChecker interface {
	IsSuspended(ctx context.Context, symbol string) (bool, string, error)
}

// New builds the history source named by the sync configuration, wrapped in
// the configured rate limiter.
func New(cfg *config.Config) (HistorySource, error) {
	var src HistorySource
	switch strings.ToLower(cfg.Sync.Source) {
	case "", "nse":
		src = NewNSESource(NSEConfig{
			BaseURL:   cfg.NSE.BaseURL,
			ChunkDays: cfg.NSE.ChunkDays,
			Timeout:   cfg.NSE.Timeout,
			UserAgent: cfg.NSE.UserAgent,
			Retry:     nseRetry(cfg.NSE.Retries),
		})
	case "kite":
		src = NewKiteSource(KiteConfig{
			APIKey:    cfg.Kite.APIKey,
			APISecret: cfg.Kite.APISecret,
			TokenPath: cfg.Kite.TokenPath,
			Exchange:  models.NSE,
		})
	default:
		return nil, fmt.Errorf("unknown history source %q", cfg.Sync.Source)
	}
	if cfg.Sync.RatePerSec > 0 {
		src = NewThrottled(src, cfg.Sync.RatePerSec, cfg.Sync.Burst)
	}
	return src, nil
}

// checkPrices rejects a row whose prices cannot be a trading day: every
// price positive, volume not negative, low <= open, close <= high.
func checkPrices(symbol string, r models.RawRow) error {
	prices := []struct {
		field string
		v     float64
	}{{"open", r.Open}, {"high", r.High}, {"low", r.Low}, {"close", r.Close}}
	for _, p := range prices {
		if p.v <= 0 {
			return apperrors.NewParseError(symbol, p.field, fmt.Sprint(p.v), fmt.Errorf("price must be positive"))
		}
	}
	if r.Volume < 0 {
		return apperrors.NewParseError(symbol, "volume", fmt.Sprint(r.Volume), fmt.Errorf("volume must not be negative"))
	}
	if r.Low > min(r.Open, r.Close) || r.High < max(r.Open, r.Close) {
		return apperrors.NewParseError(symbol, "range",
			fmt.Sprintf("o=%g h=%g l=%g c=%g", r.Open, r.High, r.Low, r.Close),
			fmt.Errorf("open and close must lie within low..high"))
	}
	return nil
}

func nseRetry(attempts int) utils.RetryConfig {
	r := utils.DefaultRetryConfig()
	if attempts > 0 {
		r.MaxAttempts = attempts
	}
	return r
}

// chunk splits [from, to] into consecutive inclusive windows of at most days days.
func chunk(from, to time.Time, days int) [][2]time.Time {
	from, to = models.DayOf(from), models.DayOf(to)
	if to.Before(from) {
		return nil
	}
	if days <= 0 {
		return [][2]time.Time{{from, to}}
	}
	var out [][2]time.Time
	for start := from; !start.After(to); {
		end := start.AddDate(0, 0, days-1)
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{start, end})
		start = end.AddDate(0, 0, 1)
	}
	return out
}
