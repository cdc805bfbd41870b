// Package market provides the NSE trading calendar.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"v20-scanner/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MaxLookbackDays bounds the walk back to the previous trading day.
const MaxLookbackDays = 5

// Calendar answers trading-day questions for the exchange.
// Dates are compared by calendar day in the exchange's time zone.
type Calendar struct {
	mu       sync.RWMutex
	loc      *time.Location
	holidays map[string]string // Date string -> holiday name
}

// NewCalendar creates a calendar preloaded with the known NSE holidays.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = IndiaLocation
	}
	c := &Calendar{
		loc:      loc,
		holidays: make(map[string]string, len(nseHolidays)),
	}
	for date, name := range nseHolidays {
		c.holidays[date] = name
	}
	return c
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// AddHoliday adds a market holiday.
func (c *Calendar) AddHoliday(date time.Time, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holidays[date.Format(models.DateLayout)] = name
}

// AddHolidayStrings adds holidays given as YYYY-MM-DD strings.
func (c *Calendar) AddHolidayStrings(dates []string) error {
	for _, s := range dates {
		d, err := time.Parse(models.DateLayout, s)
		if err != nil {
			return err
		}
		c.AddHoliday(d, "configured")
	}
	return nil
}

// Holidays returns all holiday dates in ascending order.
func (c *Calendar) Holidays() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.holidays))
	for d := range c.holidays {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Today returns the current calendar day in the exchange's time zone.
func (c *Calendar) Today(now time.Time) time.Time {
	return models.DayOf(now.In(c.loc))
}

// IsHoliday checks if a calendar day is a market holiday.
func (c *Calendar) IsHoliday(day time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.holidays[day.Format(models.DateLayout)]
	return ok
}

// IsTradingDay reports whether the calendar day is neither a weekend nor a holiday.
func (c *Calendar) IsTradingDay(day time.Time) bool {
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(day)
}

// PreviousTradingDay walks back from the day before from, up to MaxLookbackDays
// calendar days. If no trading day is found it returns from's day and false.
func (c *Calendar) PreviousTradingDay(from time.Time) (time.Time, bool) {
	day := c.Today(from)
	for i := 1; i <= MaxLookbackDays; i++ {
		candidate := day.AddDate(0, 0, -i)
		if c.IsTradingDay(candidate) {
			return candidate, true
		}
	}
	return day, false
}

// FreshnessThreshold returns the date a stored series must reach to count as
// up to date. Falling back to now is logged but not an error.
func (c *Calendar) FreshnessThreshold(now time.Time, logger zerolog.Logger) time.Time {
	day, ok := c.PreviousTradingDay(now)
	if !ok {
		logger.Warn().
			Str("from", day.Format(models.DateLayout)).
			Int("lookback_days", MaxLookbackDays).
			Msg("No trading day found in lookback window, using today as freshness threshold")
	}
	return day
}

// nseHolidays lists exchange holidays that fall on weekdays.
var nseHolidays = map[string]string{
	// 2024
	"2024-01-22": "Special Holiday",
	"2024-01-26": "Republic Day",
	"2024-03-08": "Maha Shivaratri",
	"2024-03-25": "Holi",
	"2024-03-29": "Good Friday",
	"2024-04-11": "Id-Ul-Fitr",
	"2024-04-17": "Ram Navami",
	"2024-05-01": "Maharashtra Day",
	"2024-05-20": "General Elections",
	"2024-06-17": "Bakri Id",
	"2024-07-17": "Muharram",
	"2024-08-15": "Independence Day",
	"2024-10-02": "Mahatma Gandhi Jayanti",
	"2024-11-01": "Diwali Laxmi Pujan",
	"2024-11-15": "Guru Nanak Jayanti",
	"2024-11-20": "Maharashtra Assembly Elections",
	"2024-12-25": "Christmas",

	// 2025
	"2025-02-26": "Maha Shivaratri",
	"2025-03-14": "Holi",
	"2025-03-31": "Id-Ul-Fitr",
	"2025-04-10": "Mahavir Jayanti",
	"2025-04-14": "Dr. Ambedkar Jayanti",
	"2025-04-18": "Good Friday",
	"2025-05-01": "Maharashtra Day",
	"2025-08-15": "Independence Day",
	"2025-08-27": "Ganesh Chaturthi",
	"2025-10-02": "Mahatma Gandhi Jayanti",
	"2025-10-21": "Diwali Laxmi Pujan",
	"2025-10-22": "Diwali Balipratipada",
	"2025-11-05": "Guru Nanak Jayanti",
	"2025-12-25": "Christmas",

	// 2026
	"2026-01-26": "Republic Day",
	"2026-03-03": "Holi",
	"2026-03-26": "Ram Navami",
	"2026-03-31": "Mahavir Jayanti",
	"2026-04-03": "Good Friday",
	"2026-04-14": "Dr. Ambedkar Jayanti",
	"2026-05-01": "Maharashtra Day",
	"2026-05-28": "Bakri Id",
	"2026-06-26": "Muharram",
	"2026-09-14": "Ganesh Chaturthi",
	"2026-10-02": "Mahatma Gandhi Jayanti",
	"2026-10-20": "Dussehra",
	"2026-11-10": "Diwali Balipratipada",
	"2026-11-24": "Guru Nanak Jayanti",
	"2026-12-25": "Christmas",
}
