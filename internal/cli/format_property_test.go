package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var indianGrouping = regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

func TestProperty_IndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rupee prefix, two decimals and Indian grouping", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatIndianCurrency(amount)
			prefix := "₹"
			if amount < 0 {
				prefix = "-₹"
			}
			if !strings.HasPrefix(formatted, prefix) {
				t.Logf("FormatIndianCurrency(%f) = %s", amount, formatted)
				return false
			}
			intPart, decPart, ok := strings.Cut(strings.TrimPrefix(formatted, prefix), ".")
			return ok && len(decPart) == 2 && indianGrouping.MatchString(intPart)
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("grouping preserves the value", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatPrice(amount)
			parsed, err := strconv.ParseFloat(strings.ReplaceAll(formatted, ",", ""), 64)
			if err != nil {
				return false
			}
			return math.Abs(parsed-math.Round(amount*100)/100) <= 0.01
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatVolume uses the right unit", prop.ForAll(
		func(volume float64) bool {
			formatted := FormatVolume(volume)
			switch {
			case volume >= 10000000:
				return strings.HasSuffix(formatted, " Cr")
			case volume >= 100000:
				return strings.HasSuffix(formatted, " L")
			case volume >= 1000:
				return strings.HasSuffix(formatted, " K")
			}
			return !strings.Contains(formatted, " ")
		},
		gen.Float64Range(0, 1e12),
	))

	properties.TestingRun(t)
}

func TestIndianNumberFormatExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "₹0.00"},
		{1000, "₹1,000.00"},
		{100000, "₹1,00,000.00"},
		{10000000, "₹1,00,00,000.00"},
		{-1234.56, "-₹1,234.56"},
		{12345678.90, "₹1,23,45,678.90"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if result := FormatIndianCurrency(tc.amount); result != tc.expected {
				t.Errorf("FormatIndianCurrency(%f) = %s, want %s", tc.amount, result, tc.expected)
			}
		})
	}
}

func TestFormatExamples(t *testing.T) {
	testCases := []struct {
		got, want string
	}{
		{FormatPercent(0), "0.00%"},
		{FormatPercent(1.5), "+1.50%"},
		{FormatPercent(-2.5), "-2.50%"},
		{FormatPrice(3521.4), "3,521.40"},
		{FormatVolume(2500000), "25.00 L"},
		{FormatVolume(512.6), "513"},
		{FormatDate(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)), "4-Mar-2024"},
		{FormatDate(time.Time{}), "-"},
		{FormatDuration(90 * time.Second), "1m 30s"},
		{TruncateString("BAJAJ-AUTO", 8), "BAJAJ..."},
	}

	for _, tc := range testCases {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}
