// Package breakout finds consecutive green-bar runs whose low-to-high range
// clears a margin threshold.
package breakout

import (
	"v20-scanner/internal/models"
)

// Default detector settings, matching the scan form defaults.
const (
	DefaultHistoryWindow         = 10
	DefaultMarginThresholdPct    = 20.0
	DefaultLastCloseThresholdPct = 5.0
)

// Config holds detector thresholds. All percentages are in percent units.
type Config struct {
	MarginThresholdPct          float64
	FilterByLastClose           bool
	LastCloseMarginThresholdPct float64
}

// DefaultConfig returns the default thresholds with the late-entry filter on.
func DefaultConfig() Config {
	return Config{
		MarginThresholdPct:          DefaultMarginThresholdPct,
		FilterByLastClose:           true,
		LastCloseMarginThresholdPct: DefaultLastCloseThresholdPct,
	}
}

// run is the index span [start, end) of one green run plus its extreme bars.
type run struct {
	start, end int
	low, high  int
}

// Detect walks bars (ascending by date) and returns one candidate per
// qualifying green run. Bar 0 never starts a run because the run's prior
// moving average comes from the bar before it.
func Detect(symbol string, bars []models.Bar, cfg Config) []models.BreakoutCandidate {
	n := len(bars)
	if n < 2 {
		return nil
	}
	last := bars[n-1]

	var out []models.BreakoutCandidate
	i := 1
	for i < n {
		if !bars[i].IsGreen() {
			i++
			continue
		}
		r := accumulate(bars, i)
		if c, ok := evaluate(symbol, bars, r, last, cfg); ok {
			out = append(out, c)
		}
		// The bar that ended the run is skipped as well.
		i = r.end + 1
	}
	return out
}

// accumulate extends a run from start while bars stay green, tracking the
// first bar holding the lowest low and the first bar holding the highest high.
func accumulate(bars []models.Bar, start int) run {
	r := run{start: start, end: start + 1, low: start, high: start}
	for r.end < len(bars) && bars[r.end].IsGreen() {
		b := bars[r.end]
		if b.Low < bars[r.low].Low {
			r.low = r.end
		}
		if b.High > bars[r.high].High {
			r.high = r.end
		}
		r.end++
	}
	return r
}

func evaluate(symbol string, bars []models.Bar, r run, last models.Bar, cfg Config) (models.BreakoutCandidate, bool) {
	low, high := bars[r.low], bars[r.high]
	// Margins are undefined against a non-positive price.
	if low.Low <= 0 || last.Close <= 0 {
		return models.BreakoutCandidate{}, false
	}
	margin := pctChange(high.High, low.Low)
	if !(margin > cfg.MarginThresholdPct) {
		return models.BreakoutCandidate{}, false
	}
	if cfg.FilterByLastClose && pctChange(last.Close, low.Low) > cfg.LastCloseMarginThresholdPct {
		return models.BreakoutCandidate{}, false
	}

	prior := bars[r.start-1]
	c := models.BreakoutCandidate{
		Symbol:             symbol,
		RunStartDate:       bars[r.start].Date,
		MarginPct:          margin,
		PriorMA:            prior.MA,
		HasPriorMA:         prior.HasMA,
		LowDate:            low.Date,
		LowPrice:           low.Low,
		HighDate:           high.Date,
		HighPrice:          high.High,
		ProfitPotentialPct: pctChange(high.High, last.Close),
	}
	for j := r.end; j < len(bars); j++ {
		if bars[j].Low <= low.Low {
			c.BuyDate = bars[j].Date
			c.HasBuyDate = true
			break
		}
	}
	return c, true
}

// pctChange returns 100·(a/b − 1).
func pctChange(a, b float64) float64 {
	return 100 * (a/b - 1)
}
