package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"v20-scanner/internal/market"
	"v20-scanner/internal/models"
)

// FormatIndianCurrency renders an amount as rupees with two decimals and
// lakh/crore grouping, e.g. ₹1,23,45,678.90.
func FormatIndianCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
	}
	return sign + "₹" + groupIndian(math.Abs(amount))
}

// FormatPrice is FormatIndianCurrency without the rupee sign.
func FormatPrice(price float64) string {
	return strings.Replace(FormatIndianCurrency(price), "₹", "", 1)
}

// groupIndian puts a comma before the last three integer digits and then
// between every pair to the left.
func groupIndian(v float64) string {
	whole, frac, _ := strings.Cut(decimal.NewFromFloat(v).StringFixed(2), ".")

	head, tail := "", whole
	if len(whole) > 3 {
		head, tail = whole[:len(whole)-3], whole[len(whole)-3:]
	}
	var pairs []string
	for len(head) > 2 {
		pairs = append([]string{head[len(head)-2:]}, pairs...)
		head = head[:len(head)-2]
	}
	if head != "" {
		pairs = append([]string{head}, pairs...)
	}
	return strings.Join(append(pairs, tail), ",") + "." + frac
}

// FormatPercent prints two decimals with an explicit + on gains.
func FormatPercent(value float64) string {
	if value > 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

var volumeUnits = []struct {
	size   float64
	suffix string
}{
	{1e7, "Cr"},
	{1e5, "L"},
	{1e3, "K"},
}

// FormatVolume shortens large volumes to crores, lakhs or thousands.
// Split-adjusted volumes may be fractional and are rounded.
func FormatVolume(volume float64) string {
	for _, u := range volumeUnits {
		if math.Abs(volume) >= u.size {
			return fmt.Sprintf("%.2f %s", volume/u.size, u.suffix)
		}
	}
	return fmt.Sprintf("%.0f", volume)
}

// FormatDate prints a bar date in the report layout, e.g. 4-Mar-2024.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(models.DisplayDateLayout)
}

// FormatDateTime prints a timestamp in exchange time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(market.IndiaLocation).Format("02-Jan-2006 15:04:05")
}

// FormatDuration keeps the two most significant units.
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", secs)
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", secs/3600, secs/60%60)
	}
	return fmt.Sprintf("%dd %dh", secs/86400, secs/3600%24)
}

// TruncateString shortens s to maxLen bytes, ending in "..." when there is
// room for it.
func TruncateString(s string, maxLen int) string {
	switch {
	case len(s) <= maxLen:
		return s
	case maxLen <= 3:
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
