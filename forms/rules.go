// forms/rules.go
package forms

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"leaseexit/models"
)

const dateLayout = "2006-01-02"

// now is replaced in tests.
var now = time.Now

var patternCache sync.Map // pattern -> *regexp.Regexp

func compilePattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("^(?:" + p + ")$")
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

// checkRules applies f.Rules to a value that already passed the type check.
func checkRules(f models.FieldSpec, value interface{}) string {
	r := f.Rules
	if r == nil {
		return ""
	}
	switch f.Type {
	case models.FieldText, models.FieldTextarea, models.FieldEmail, "":
		s, _ := value.(string)
		return checkTextRules(f, r, s)
	case models.FieldNumber:
		n, _ := numberValue(value)
		return checkNumberRules(f, r, n)
	case models.FieldDate:
		d, _ := dateValue(value)
		return checkDateRules(f, r, d)
	}
	return ""
}

func checkTextRules(f models.FieldSpec, r *models.FieldRules, s string) string {
	n := utf8.RuneCountInString(s)
	if r.MinLength != nil && n < *r.MinLength {
		return fmt.Sprintf("%s must be at least %d characters", label(f), *r.MinLength)
	}
	if r.MaxLength != nil && n > *r.MaxLength {
		return fmt.Sprintf("%s must be at most %d characters", label(f), *r.MaxLength)
	}
	if r.Pattern != "" {
		re, err := compilePattern(r.Pattern)
		if err != nil || !re.MatchString(s) {
			if r.ErrorMessage != "" {
				return r.ErrorMessage
			}
			return fmt.Sprintf("%s has an invalid format", label(f))
		}
	}
	return ""
}

func checkNumberRules(f models.FieldSpec, r *models.FieldRules, n float64) string {
	if r.Integer && n != math.Trunc(n) {
		return fmt.Sprintf("%s must be a whole number", label(f))
	}
	if r.Min != nil && n < *r.Min {
		return fmt.Sprintf("%s must be at least %s", label(f), formatNumber(*r.Min))
	}
	if r.Max != nil && n > *r.Max {
		return fmt.Sprintf("%s must be at most %s", label(f), formatNumber(*r.Max))
	}
	return ""
}

func checkDateRules(f models.FieldSpec, r *models.FieldRules, d time.Time) string {
	if r.MinDate != "" {
		if lo, err := time.Parse(dateLayout, r.MinDate); err == nil && d.Before(lo) {
			return fmt.Sprintf("%s must be on or after %s", label(f), r.MinDate)
		}
	}
	if r.MaxDate != "" {
		if hi, err := time.Parse(dateLayout, r.MaxDate); err == nil && d.After(hi) {
			return fmt.Sprintf("%s must be on or before %s", label(f), r.MaxDate)
		}
	}
	today := truncateDay(now())
	if r.Future && d.Before(today) {
		return fmt.Sprintf("%s must not be in the past", label(f))
	}
	if r.Past && d.After(today) {
		return fmt.Sprintf("%s must not be in the future", label(f))
	}
	return ""
}

// checkRuleSpec rejects rules that can never be satisfied or do not parse.
func checkRuleSpec(f models.FieldSpec) error {
	r := f.Rules
	if r == nil {
		return nil
	}
	if r.MinLength != nil && *r.MinLength < 0 {
		return fmt.Errorf("field %s: min_length is negative", f.Name)
	}
	if r.MaxLength != nil && *r.MaxLength < 0 {
		return fmt.Errorf("field %s: max_length is negative", f.Name)
	}
	if r.MinLength != nil && r.MaxLength != nil && *r.MinLength > *r.MaxLength {
		return fmt.Errorf("field %s: min_length exceeds max_length", f.Name)
	}
	if r.Pattern != "" {
		if _, err := compilePattern(r.Pattern); err != nil {
			return fmt.Errorf("field %s: bad pattern: %w", f.Name, err)
		}
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("field %s: min exceeds max", f.Name)
	}
	var lo, hi time.Time
	var err error
	if r.MinDate != "" {
		if lo, err = time.Parse(dateLayout, r.MinDate); err != nil {
			return fmt.Errorf("field %s: min_date must be YYYY-MM-DD", f.Name)
		}
	}
	if r.MaxDate != "" {
		if hi, err = time.Parse(dateLayout, r.MaxDate); err != nil {
			return fmt.Errorf("field %s: max_date must be YYYY-MM-DD", f.Name)
		}
	}
	if r.MinDate != "" && r.MaxDate != "" && lo.After(hi) {
		return fmt.Errorf("field %s: min_date is after max_date", f.Name)
	}
	if r.Future && r.Past {
		return fmt.Errorf("field %s: future and past are exclusive", f.Name)
	}
	return nil
}

// numberValue reports v as a finite float64.
func numberValue(v interface{}) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int32:
		n = float64(t)
	case int64:
		n = float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// dateValue parses YYYY-MM-DD or RFC 3339 and drops the time of day.
func dateValue(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return truncateDay(t), true
	case string:
		s := strings.TrimSpace(t)
		if d, err := time.Parse(dateLayout, s); err == nil {
			return d, true
		}
		if d, err := time.Parse(time.RFC3339, s); err == nil {
			return truncateDay(d), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
