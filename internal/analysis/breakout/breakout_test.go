package breakout

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"v20-scanner/internal/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// series builds consecutive daily bars from (open, close) pairs with the
// low and high at the body's ends.
func series(oc ...[2]float64) []models.Bar {
	bars := make([]models.Bar, len(oc))
	for i, p := range oc {
		bars[i] = models.Bar{
			Date:  day0.AddDate(0, 0, i),
			Open:  p[0],
			Close: p[1],
			Low:   math.Min(p[0], p[1]),
			High:  math.Max(p[0], p[1]),
		}
	}
	return bars
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDetect_GreenRunAboveThreshold(t *testing.T) {
	bars := series(
		[2]float64{10, 10}, // neutral lead-in
		[2]float64{10, 12},
		[2]float64{12, 15},
		[2]float64{15, 11},
		[2]float64{11, 11.5},
	)
	bars[0].MA, bars[0].HasMA = 9.5, true

	got := Detect("TCS", bars, Config{MarginThresholdPct: 10})
	if len(got) != 1 {
		t.Fatalf("Detect() returned %d candidates, want 1: %v", len(got), got)
	}
	c := got[0]
	if !c.RunStartDate.Equal(bars[1].Date) {
		t.Errorf("run start = %s, want %s", c.RunStartDate, bars[1].Date)
	}
	if !approx(c.MarginPct, 50) {
		t.Errorf("margin = %v, want 50", c.MarginPct)
	}
	if c.LowPrice != 10 || !c.LowDate.Equal(bars[1].Date) {
		t.Errorf("low = %v on %s", c.LowPrice, c.LowDate)
	}
	if c.HighPrice != 15 || !c.HighDate.Equal(bars[2].Date) {
		t.Errorf("high = %v on %s", c.HighPrice, c.HighDate)
	}
	if !c.HasPriorMA || c.PriorMA != 9.5 {
		t.Errorf("prior MA = %v (%v), want 9.5", c.PriorMA, c.HasPriorMA)
	}
	if !approx(c.ProfitPotentialPct, 100*(15/11.5-1)) {
		t.Errorf("profit potential = %v", c.ProfitPotentialPct)
	}
	if c.HasBuyDate {
		t.Errorf("buy date = %s, want unset", c.BuyDate)
	}
	if c.String() != "TCS|2-Jan-2024|50.00%|9.50|2-Jan-2024|10.00|3-Jan-2024|15.00" {
		t.Errorf("String() = %q", c.String())
	}
}

func TestDetect_BuyDateIsFirstRetestOfLow(t *testing.T) {
	bars := series(
		[2]float64{10, 10},
		[2]float64{10, 13},
		[2]float64{13, 11},
		[2]float64{11, 10.5},
		[2]float64{10.5, 9.8},
		[2]float64{9.8, 9.5},
	)
	got := Detect("INFY", bars, Config{MarginThresholdPct: 20})
	if len(got) != 1 {
		t.Fatalf("Detect() returned %d candidates, want 1", len(got))
	}
	if !got[0].HasBuyDate || !got[0].BuyDate.Equal(bars[4].Date) {
		t.Errorf("buy date = %s (%v), want %s", got[0].BuyDate, got[0].HasBuyDate, bars[4].Date)
	}
	if got[0].HasPriorMA {
		t.Error("prior MA reported for a bar without one")
	}
}

func TestDetect_LateEntryFilter(t *testing.T) {
	bars := series(
		[2]float64{10, 10},
		[2]float64{10, 12},
		[2]float64{12, 15},
		[2]float64{15, 11},
		[2]float64{11, 11.5},
	)
	// Last close 11.5 is 15% above the run low of 10.
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"filter off", Config{MarginThresholdPct: 10}, 1},
		{"close too far above low", Config{MarginThresholdPct: 10, FilterByLastClose: true, LastCloseMarginThresholdPct: 5}, 0},
		{"close within margin", Config{MarginThresholdPct: 10, FilterByLastClose: true, LastCloseMarginThresholdPct: 20}, 1},
		{"boundary is inclusive", Config{MarginThresholdPct: 10, FilterByLastClose: true, LastCloseMarginThresholdPct: 100 * (11.5/10 - 1)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect("X", bars, tt.cfg); len(got) != tt.want {
				t.Errorf("Detect() = %d candidates, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDetect_IgnoresRunWithZeroLow(t *testing.T) {
	bars := series([2]float64{10, 10}, [2]float64{10, 12}, [2]float64{12, 15})
	bars[1].Low = 0

	got := Detect("X", bars, Config{MarginThresholdPct: 10})
	if len(got) != 0 {
		t.Fatalf("Detect() = %+v, want no candidate from a zero low", got)
	}
	for _, c := range got {
		if math.IsInf(c.MarginPct, 0) {
			t.Error("infinite margin reported")
		}
	}
}

func TestDetect_ThresholdIsStrict(t *testing.T) {
	bars := series([2]float64{10, 10}, [2]float64{10, 12}, [2]float64{12, 11})
	if got := Detect("X", bars, Config{MarginThresholdPct: 20}); len(got) != 0 {
		t.Errorf("margin equal to threshold accepted: %v", got)
	}
	if got := Detect("X", bars, Config{MarginThresholdPct: 19.9}); len(got) != 1 {
		t.Errorf("margin above threshold rejected")
	}
}

func TestDetect_EdgeCases(t *testing.T) {
	t.Run("short series", func(t *testing.T) {
		if got := Detect("X", nil, Config{}); got != nil {
			t.Errorf("Detect(nil) = %v", got)
		}
		if got := Detect("X", series([2]float64{1, 5}), Config{}); got != nil {
			t.Errorf("Detect(1 bar) = %v", got)
		}
	})

	t.Run("first bar never starts a run", func(t *testing.T) {
		bars := series([2]float64{1, 5}, [2]float64{5, 4})
		if got := Detect("X", bars, Config{MarginThresholdPct: 10}); len(got) != 0 {
			t.Errorf("bar 0 produced %v", got)
		}
	})

	t.Run("single green bar is evaluated", func(t *testing.T) {
		bars := series([2]float64{10, 10}, [2]float64{10, 13}, [2]float64{13, 12})
		got := Detect("X", bars, Config{MarginThresholdPct: 25})
		if len(got) != 1 || !approx(got[0].MarginPct, 30) {
			t.Errorf("Detect() = %v, want one 30%% run", got)
		}
	})

	t.Run("run reaching end of series", func(t *testing.T) {
		bars := series([2]float64{10, 10}, [2]float64{10, 12}, [2]float64{12, 14})
		got := Detect("X", bars, Config{MarginThresholdPct: 10})
		if len(got) != 1 || got[0].HasBuyDate {
			t.Errorf("Detect() = %v", got)
		}
		if !approx(got[0].ProfitPotentialPct, 0) {
			t.Errorf("profit potential = %v, want 0", got[0].ProfitPotentialPct)
		}
	})

	t.Run("ties keep the earliest extreme bar", func(t *testing.T) {
		bars := series([2]float64{9, 9}, [2]float64{10, 12}, [2]float64{10, 12}, [2]float64{12, 11})
		got := Detect("X", bars, Config{MarginThresholdPct: 10})
		if len(got) != 1 {
			t.Fatalf("Detect() = %v", got)
		}
		if !got[0].LowDate.Equal(bars[1].Date) || !got[0].HighDate.Equal(bars[1].Date) {
			t.Errorf("low %s high %s, want both on %s", got[0].LowDate, got[0].HighDate, bars[1].Date)
		}
	})

	t.Run("separate runs", func(t *testing.T) {
		bars := series(
			[2]float64{10, 10},
			[2]float64{10, 13}, [2]float64{13, 12},
			[2]float64{12, 12},
			[2]float64{12, 16}, [2]float64{16, 15},
		)
		got := Detect("X", bars, Config{MarginThresholdPct: 20})
		if len(got) != 2 {
			t.Fatalf("Detect() = %d candidates, want 2", len(got))
		}
		if !got[1].RunStartDate.Equal(bars[4].Date) {
			t.Errorf("second run start = %s", got[1].RunStartDate)
		}
	})
}

func barGen() gopter.Gen {
	return gen.Struct(reflect.TypeOf(models.Bar{}), map[string]gopter.Gen{
		"Open":  gen.Float64Range(50, 150),
		"High":  gen.Float64Range(50, 150),
		"Low":   gen.Float64Range(50, 150),
		"Close": gen.Float64Range(50, 150),
	}).Map(func(b models.Bar) models.Bar {
		b.High = math.Max(b.High, math.Max(b.Open, b.Close))
		b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
		return b
	})
}

func seriesGen(n int) gopter.Gen {
	return gen.SliceOfN(n, barGen()).Map(func(bars []models.Bar) []models.Bar {
		for i := range bars {
			bars[i].Date = day0.AddDate(0, 0, i)
		}
		return bars
	})
}

func TestProperty_DetectorInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	index := func(bars []models.Bar, d time.Time) int {
		for i, b := range bars {
			if b.Date.Equal(d) {
				return i
			}
		}
		return -1
	}

	properties.Property("every candidate clears the margin and starts a green run", prop.ForAll(
		func(bars []models.Bar, threshold float64) bool {
			for _, c := range Detect("P", bars, Config{MarginThresholdPct: threshold}) {
				i := index(bars, c.RunStartDate)
				if i < 1 || !bars[i].IsGreen() {
					return false
				}
				if !(c.MarginPct > threshold) || c.HighPrice < c.LowPrice {
					return false
				}
				if c.HasBuyDate && (c.BuyDate.Before(c.HighDate) || bars[index(bars, c.BuyDate)].Low > c.LowPrice) {
					return false
				}
			}
			return true
		},
		seriesGen(30),
		gen.Float64Range(0, 40),
	))

	properties.Property("the late-entry filter only removes candidates", prop.ForAll(
		func(bars []models.Bar, limit float64) bool {
			all := Detect("P", bars, Config{MarginThresholdPct: 5})
			filtered := Detect("P", bars, Config{MarginThresholdPct: 5, FilterByLastClose: true, LastCloseMarginThresholdPct: limit})
			if len(filtered) > len(all) {
				return false
			}
			last := bars[len(bars)-1].Close
			j := 0
			for _, c := range all {
				kept := 100*(last/c.LowPrice-1) <= limit
				if kept {
					if j >= len(filtered) || !filtered[j].RunStartDate.Equal(c.RunStartDate) {
						return false
					}
					j++
				}
			}
			return j == len(filtered)
		},
		seriesGen(30),
		gen.Float64Range(0, 30),
	))

	properties.Property("run starts are strictly increasing", prop.ForAll(
		func(bars []models.Bar) bool {
			got := Detect("P", bars, Config{})
			for i := 1; i < len(got); i++ {
				if !got[i].RunStartDate.After(got[i-1].RunStartDate) {
					return false
				}
			}
			return true
		},
		seriesGen(40),
	))

	properties.TestingRun(t)
}
