package indicators

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"v20-scanner/internal/models"
)

// barGen generates bars with realistic, internally consistent OHLCV values.
func barGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(models.Bar{}), map[string]gopter.Gen{
		"Open":   gen.Float64Range(100.0, 1000.0),
		"High":   gen.Float64Range(100.0, 1000.0),
		"Low":    gen.Float64Range(100.0, 1000.0),
		"Close":  gen.Float64Range(100.0, 1000.0),
		"Volume": gen.Float64Range(1000, 10000000),
	}).Map(func(b models.Bar) models.Bar {
		b.High = math.Max(b.High, math.Max(b.Open, b.Close))
		b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
		return b
	})
}

// barSliceGen generates an ascending daily series.
func barSliceGen(maxLen int) gopter.Gen {
	return gen.SliceOfN(maxLen, barGen()).Map(func(bars []models.Bar) []models.Bar {
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := range bars {
			bars[i].Date = start.AddDate(0, 0, i)
		}
		return bars
	})
}

func TestProperty_SMAIsAverageOfPrices(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("SMA is the arithmetic mean of closing prices over the period", prop.ForAll(
		func(bars []models.Bar) bool {
			period := 10
			values, err := NewSMA(period).Calculate(bars)
			if err != nil {
				return len(bars) < period
			}

			for i := period - 1; i < len(values); i++ {
				var total float64
				for _, b := range bars[i-period+1 : i+1] {
					total += b.Close
				}
				if math.Abs(values[i]-total/float64(period)) > 0.0001 {
					return false
				}
			}
			return true
		},
		barSliceGen(40),
	))

	properties.Property("running sum stays within rounding of a fresh window sum over long series", prop.ForAll(
		func(bars []models.Bar, period int) bool {
			values, err := NewSMA(period).Calculate(bars)
			if err != nil {
				return len(bars) < period
			}
			for i := period - 1; i < len(values); i++ {
				var total float64
				for _, b := range bars[i-period+1 : i+1] {
					total += b.Close
				}
				if math.Abs(values[i]-total/float64(period)) > 1e-6 {
					return false
				}
			}
			return true
		},
		barSliceGen(600),
		gen.IntRange(1, 250),
	))

	properties.Property("ApplyMA defines MA exactly from index period-1", prop.ForAll(
		func(bars []models.Bar, period int) bool {
			out := ApplyMA(bars, period)
			if len(out) != len(bars) {
				return false
			}
			for i, b := range out {
				if b.HasMA != (i >= period-1) {
					return false
				}
				if b.Close != bars[i].Close || !b.Date.Equal(bars[i].Date) {
					return false
				}
			}
			return true
		},
		barSliceGen(60),
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

func TestSMA_RejectsBadInput(t *testing.T) {
	bars := make([]models.Bar, 3)
	if _, err := NewSMA(0).Calculate(bars); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("period 0: err = %v, want ErrInvalidPeriod", err)
	}
	if _, err := NewSMA(4).Calculate(bars); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("short series: err = %v, want ErrInsufficientData", err)
	}
	if got := ApplyMA(bars, 4); len(got) != 3 || got[2].HasMA {
		t.Errorf("ApplyMA on a short series = %+v", got)
	}
}

func TestApplyMA_IncludesCurrentBar(t *testing.T) {
	bars := make([]models.Bar, 5)
	for i := range bars {
		bars[i] = models.Bar{Close: float64(i + 1)}
	}
	// stale values are cleared
	bars[0].MA, bars[0].HasMA = 99, true

	out := ApplyMA(bars, 3)

	want := []struct {
		ma  float64
		has bool
	}{{0, false}, {0, false}, {2, true}, {3, true}, {4, true}}
	for i, w := range want {
		if out[i].HasMA != w.has || math.Abs(out[i].MA-w.ma) > 1e-12 {
			t.Errorf("bar %d: MA=%v HasMA=%v, want %v %v", i, out[i].MA, out[i].HasMA, w.ma, w.has)
		}
	}
	if bars[0].MA != 99 {
		t.Error("input mutated")
	}
}
