// Package indicators computes moving averages over daily bars.
package indicators

import (
	"errors"
	"fmt"

	"v20-scanner/internal/models"
)

var (
	ErrInsufficientData = errors.New("insufficient data for calculation")
	ErrInvalidPeriod    = errors.New("invalid period")
)

// SMA is a simple moving average of closes over a trailing window that
// includes the current bar.
type SMA struct {
	period int
}

func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Name() string { return fmt.Sprintf("SMA_%d", s.period) }

func (s *SMA) Period() int { return s.period }

// Calculate returns one value per bar from a running window sum. Entries
// before index period-1 are left at zero.
func (s *SMA) Calculate(bars []models.Bar) ([]float64, error) {
	switch {
	case s.period <= 0:
		return nil, ErrInvalidPeriod
	case len(bars) < s.period:
		return nil, fmt.Errorf("%s over %d bars: %w", s.Name(), len(bars), ErrInsufficientData)
	}

	values := make([]float64, len(bars))
	var total float64
	for i, b := range bars {
		total += b.Close
		if i >= s.period {
			total -= bars[i-s.period].Close
		}
		if i >= s.period-1 {
			values[i] = total / float64(s.period)
		}
	}
	return values, nil
}

// ApplyMA returns a copy of bars with MA and HasMA recomputed. Bars before
// the window fills carry no MA.
func ApplyMA(bars []models.Bar, period int) []models.Bar {
	out := make([]models.Bar, len(bars))
	for i, b := range bars {
		b.MA, b.HasMA = 0, false
		out[i] = b
	}

	values, err := NewSMA(period).Calculate(bars)
	if err != nil {
		return out
	}
	for i := period - 1; i < len(out); i++ {
		out[i].MA, out[i].HasMA = values[i], true
	}
	return out
}
