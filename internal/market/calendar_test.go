package market

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func istNoon(s string) time.Time {
	d := day(s)
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, IndiaLocation)
}

func TestFreshnessThreshold(t *testing.T) {
	cal := NewCalendar(IndiaLocation)

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"saturday resolves to friday", istNoon("2025-03-22"), "2025-03-21"},
		{"saturday after holiday friday", istNoon("2025-03-15"), "2025-03-13"},
		{"monday skips weekend", istNoon("2025-03-24"), "2025-03-21"},
		{"monday after holiday friday", istNoon("2025-03-17"), "2025-03-13"},
		{"midweek", istNoon("2025-03-20"), "2025-03-19"},
		// 20:00 UTC on Friday is already Saturday in Kolkata
		{"utc evening crosses into saturday", time.Date(2025, 3, 21, 20, 0, 0, 0, time.UTC), "2025-03-21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cal.FreshnessThreshold(tt.now, zerolog.Nop())
			if got.Format("2006-01-02") != tt.want {
				t.Errorf("FreshnessThreshold(%s) = %s, want %s", tt.now, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestFreshnessThreshold_FallsBackToNow(t *testing.T) {
	cal := NewCalendar(IndiaLocation)
	for _, d := range []string{"2025-06-09", "2025-06-10", "2025-06-11", "2025-06-12", "2025-06-13"} {
		cal.AddHoliday(day(d), "test")
	}

	now := istNoon("2025-06-14")
	got, ok := cal.PreviousTradingDay(now)
	if ok {
		t.Fatalf("PreviousTradingDay() ok = true, want fallback")
	}
	if !got.Equal(day("2025-06-14")) {
		t.Errorf("fallback = %s, want 2025-06-14", got)
	}
	if th := cal.FreshnessThreshold(now, zerolog.Nop()); !th.Equal(got) {
		t.Errorf("FreshnessThreshold() = %s, want %s", th, got)
	}
}

func TestAddHolidayStrings(t *testing.T) {
	cal := NewCalendar(nil)
	if err := cal.AddHolidayStrings([]string{"2030-01-01"}); err != nil {
		t.Fatalf("AddHolidayStrings() error = %v", err)
	}
	if !cal.IsHoliday(day("2030-01-01")) {
		t.Error("configured holiday not recognised")
	}
	if err := cal.AddHolidayStrings([]string{"01/01/2030"}); err == nil {
		t.Error("expected error for malformed date")
	}
}

// TestProperty_ThresholdIsRecentTradingDay verifies the threshold is a trading
// day strictly before today and at most MaxLookbackDays back.
func TestProperty_ThresholdIsRecentTradingDay(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cal := NewCalendar(IndiaLocation)
	base := istNoon("2024-01-01")

	properties.Property("threshold is a trading day within the lookback window", prop.ForAll(
		func(offset int) bool {
			now := base.AddDate(0, 0, offset)
			today := cal.Today(now)
			th, ok := cal.PreviousTradingDay(now)
			if !ok {
				return th.Equal(today)
			}
			if !cal.IsTradingDay(th) || !th.Before(today) {
				return false
			}
			if today.Sub(th) > MaxLookbackDays*24*time.Hour {
				return false
			}
			// nothing between th and today is a trading day
			for d := th.AddDate(0, 0, 1); d.Before(today); d = d.AddDate(0, 0, 1) {
				if cal.IsTradingDay(d) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 3*365),
	))

	properties.TestingRun(t)
}
