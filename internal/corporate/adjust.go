package corporate

import (
	"sort"
	"time"

	"v20-scanner/internal/models"
)

// Adjust rescales bars for the given actions and returns a new slice.
// Actions are applied in ascending effective-date order (stable for ties);
// each divides OHLC and multiplies volume of every bar strictly before its
// effective date. The input slice is not modified.
func Adjust(bars []models.Bar, actions []models.CorporateAction) []models.Bar {
	adjusted := make([]models.Bar, len(bars))
	copy(adjusted, bars)
	if len(bars) == 0 || len(actions) == 0 {
		return adjusted
	}

	sorted := make([]models.CorporateAction, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveDate.Before(sorted[j].EffectiveDate)
	})

	for _, action := range sorted {
		if !usableRatio(action.Ratio) {
			continue
		}
		for i := range adjusted {
			if !adjusted[i].Date.Before(action.EffectiveDate) {
				continue
			}
			adjusted[i].Open /= action.Ratio
			adjusted[i].High /= action.Ratio
			adjusted[i].Low /= action.Ratio
			adjusted[i].Close /= action.Ratio
			adjusted[i].Volume *= action.Ratio
		}
	}
	return adjusted
}

// AdjustRows converts raw rows to adjusted bars, ascending by date. It
// returns the actions that were found in the rows' annotations.
func AdjustRows(rows []models.RawRow) ([]models.Bar, []models.CorporateAction) {
	bars := make([]models.Bar, len(rows))
	for i, row := range rows {
		bars[i] = row.Bar()
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})

	actions := Collect(rows)
	return Adjust(bars, actions), actions
}

// After returns the actions whose effective date is strictly after t.
func After(actions []models.CorporateAction, t time.Time) []models.CorporateAction {
	var out []models.CorporateAction
	for _, a := range actions {
		if a.EffectiveDate.After(t) {
			out = append(out, a)
		}
	}
	return out
}
