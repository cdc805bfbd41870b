// Package corporate parses split/bonus annotations and rescales price history
// so that every bar is expressed on the latest share basis.
package corporate

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"v20-scanner/internal/models"
)

var (
	splitPattern = regexp.MustCompile(`From Rs ([\d.]+)[^\d]+To (?:Re|Rs) ([\d.]+)`)
	bonusPattern = regexp.MustCompile(`Bonus (\d+):(\d+)`)
)

// ErrUnsupportedPayload is returned for annotation payloads of an unknown shape.
var ErrUnsupportedPayload = errors.New("unsupported corporate action payload")

// exDateLayouts are the ex-date formats seen in exchange payloads.
var exDateLayouts = []string{
	"02-Jan-2006",
	"2-Jan-2006",
	models.DateLayout,
	"02-01-2006",
	"02 Jan 2006",
	time.RFC3339,
}

// DecodeAnnotations turns a raw corporate-action payload into typed entries.
// The payload may be null, an empty string, a single object, a list of
// objects, or a string holding one of those (JSON or single-quoted literal).
// Anything else yields an error and no entries.
func DecodeAnnotations(raw json.RawMessage) ([]models.RawAnnotation, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == `""` || trimmed == "[]" || trimmed == "{}" {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var list []models.RawAnnotation
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return nil, err
		}
		return compact(list), nil
	case '{':
		var one models.RawAnnotation
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, err
		}
		return compact([]models.RawAnnotation{one}), nil
	case '"':
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return nil, err
		}
		return decodeLiteral(inner)
	default:
		return nil, ErrUnsupportedPayload
	}
}

// decodeLiteral handles a payload that arrived as a string. Single-quoted
// literals are normalised to JSON; nothing is evaluated.
func decodeLiteral(s string) ([]models.RawAnnotation, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "nan" || s == "None" || s == "-" {
		return nil, nil
	}
	if s[0] != '[' && s[0] != '{' {
		return nil, ErrUnsupportedPayload
	}
	anns, err := DecodeAnnotations(json.RawMessage(s))
	if err == nil {
		return anns, nil
	}
	if strings.Contains(s, `"`) {
		return nil, err
	}
	return DecodeAnnotations(json.RawMessage(strings.ReplaceAll(s, "'", `"`)))
}

func compact(list []models.RawAnnotation) []models.RawAnnotation {
	out := list[:0]
	for _, a := range list {
		if strings.TrimSpace(a.Subject) == "" || strings.TrimSpace(a.ExDate) == "" {
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseExDate parses an ex-date in any of the known layouts.
func ParseExDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range exDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.DayOf(t), true
		}
	}
	return time.Time{}, false
}

// ParseAction converts one annotation into a corporate action. It returns
// false for anything that is not a split or bonus with a usable ratio.
func ParseAction(a models.RawAnnotation) (models.CorporateAction, bool) {
	if a.Subject == "" || a.ExDate == "" {
		return models.CorporateAction{}, false
	}
	effective, ok := ParseExDate(a.ExDate)
	if !ok {
		return models.CorporateAction{}, false
	}

	var (
		kind  models.CorporateActionKind
		ratio float64
	)
	switch {
	case strings.Contains(a.Subject, "Face Value Split"):
		m := splitPattern.FindStringSubmatch(a.Subject)
		if m == nil {
			return models.CorporateAction{}, false
		}
		from, err1 := faceValue(m[1])
		to, err2 := faceValue(m[2])
		if err1 != nil || err2 != nil || !from.IsPositive() || !to.IsPositive() {
			return models.CorporateAction{}, false
		}
		kind, ratio = models.ActionSplit, from.Div(to).InexactFloat64()
	case strings.Contains(a.Subject, "Bonus"):
		m := bonusPattern.FindStringSubmatch(a.Subject)
		if m == nil {
			return models.CorporateAction{}, false
		}
		bonus, err1 := strconv.Atoi(m[1])
		held, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || held <= 0 || bonus < 0 {
			return models.CorporateAction{}, false
		}
		kind, ratio = models.ActionBonus, float64(bonus+held)/float64(held)
	default:
		return models.CorporateAction{}, false
	}

	if !usableRatio(ratio) {
		return models.CorporateAction{}, false
	}
	return models.CorporateAction{
		Kind:          kind,
		EffectiveDate: effective,
		Ratio:         ratio,
		Subject:       a.Subject,
	}, true
}

func faceValue(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimRight(s, "."))
}

func usableRatio(r float64) bool {
	return r > 0 && r != 1
}

// Collect parses the annotations of every row into a de-duplicated action
// list. Entries that fail to parse are dropped.
func Collect(rows []models.RawRow) []models.CorporateAction {
	type key struct {
		kind  models.CorporateActionKind
		date  time.Time
		ratio float64
	}
	seen := make(map[key]bool)

	var actions []models.CorporateAction
	for _, row := range rows {
		for _, ann := range row.Annotations {
			action, ok := ParseAction(ann)
			if !ok {
				continue
			}
			k := key{action.Kind, action.EffectiveDate, action.Ratio}
			if seen[k] {
				continue
			}
			seen[k] = true
			actions = append(actions, action)
		}
	}
	return actions
}
