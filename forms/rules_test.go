package forms

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaseexit/models"
)

func intp(n int) *int { return &n }
func floatp(f float64) *float64 { return &f }

func fixedToday(t *testing.T, day string) {
	t.Helper()
	d, err := time.Parse(dateLayout, day)
	require.NoError(t, err)
	prev := now
	now = func() time.Time { return d.Add(15 * time.Hour) }
	t.Cleanup(func() { now = prev })
}

func TestValidateTemplate_Rules(t *testing.T) {
	fixedToday(t, "2026-10-17")

	tests := []struct {
		name   string
		field  models.FieldSpec
		value  interface{}
		reason string
	}{
		{
			name:   "min length",
			field:  models.FieldSpec{Name: "ref", Type: models.FieldText, Rules: &models.FieldRules{MinLength: intp(3)}},
			value:  "ab",
			reason: "ref must be at least 3 characters",
		},
		{
			name:  "max length counts runes",
			field: models.FieldSpec{Name: "ref", Type: models.FieldText, Rules: &models.FieldRules{MaxLength: intp(4)}},
			value: "ünïç",
		},
		{
			name:   "max length",
			field:  models.FieldSpec{Name: "ref", Label: "Reference", Type: models.FieldText, Rules: &models.FieldRules{MaxLength: intp(4)}},
			value:  "abcde",
			reason: "Reference must be at most 4 characters",
		},
		{
			name:  "pattern match",
			field: models.FieldSpec{Name: "lease_id", Type: models.FieldText, Rules: &models.FieldRules{Pattern: `L-\d+`}},
			value: "L-100",
		},
		{
			name:   "pattern must match whole value",
			field:  models.FieldSpec{Name: "lease_id", Type: models.FieldText, Rules: &models.FieldRules{Pattern: `L-\d+`}},
			value:  "L-100x",
			reason: "lease_id has an invalid format",
		},
		{
			name: "pattern custom message",
			field: models.FieldSpec{Name: "lease_id", Type: models.FieldText, Rules: &models.FieldRules{
				Pattern: `L-\d+`, ErrorMessage: "Lease ID looks like L-123",
			}},
			value:  "100",
			reason: "Lease ID looks like L-123",
		},
		{
			name:   "number below min",
			field:  models.FieldSpec{Name: "cost", Type: models.FieldNumber, Rules: &models.FieldRules{Min: floatp(0)}},
			value:  -1,
			reason: "cost must be at least 0",
		},
		{
			name:   "number above max from string",
			field:  models.FieldSpec{Name: "cost", Type: models.FieldNumber, Rules: &models.FieldRules{Max: floatp(1000.5)}},
			value:  "1000.75",
			reason: "cost must be at most 1000.5",
		},
		{
			name:   "integer",
			field:  models.FieldSpec{Name: "units", Type: models.FieldNumber, Rules: &models.FieldRules{Integer: true}},
			value:  2.5,
			reason: "units must be a whole number",
		},
		{
			name:  "integer accepts whole float",
			field: models.FieldSpec{Name: "units", Type: models.FieldNumber, Rules: &models.FieldRules{Integer: true}},
			value: 3.0,
		},
		{
			name:   "before min date",
			field:  models.FieldSpec{Name: "start", Type: models.FieldDate, Rules: &models.FieldRules{MinDate: "2026-01-01"}},
			value:  "2025-12-31",
			reason: "start must be on or after 2026-01-01",
		},
		{
			name:  "min date inclusive",
			field: models.FieldSpec{Name: "start", Type: models.FieldDate, Rules: &models.FieldRules{MinDate: "2026-01-01"}},
			value: "2026-01-01",
		},
		{
			name:   "after max date",
			field:  models.FieldSpec{Name: "start", Type: models.FieldDate, Rules: &models.FieldRules{MaxDate: "2026-06-30"}},
			value:  "2026-07-01T08:00:00Z",
			reason: "start must be on or before 2026-06-30",
		},
		{
			name:   "future rejects yesterday",
			field:  models.FieldSpec{Name: "exit_date", Type: models.FieldDate, Rules: &models.FieldRules{Future: true}},
			value:  "2026-10-16",
			reason: "exit_date must not be in the past",
		},
		{
			name:  "future accepts today",
			field: models.FieldSpec{Name: "exit_date", Type: models.FieldDate, Rules: &models.FieldRules{Future: true}},
			value: "2026-10-17",
		},
		{
			name:   "past rejects tomorrow",
			field:  models.FieldSpec{Name: "signed_on", Type: models.FieldDate, Rules: &models.FieldRules{Past: true}},
			value:  "2026-10-18",
			reason: "signed_on must not be in the future",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := models.FormTemplate{FormType: "t", Fields: []models.FieldSpec{tt.field}}
			res := ValidateTemplate(tmpl, map[string]interface{}{tt.field.Name: tt.value})
			if tt.reason == "" {
				assert.True(t, res.Valid, res.Errors)
				return
			}
			assert.False(t, res.Valid)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.field.Name, res.Errors[0].Field)
			assert.Equal(t, tt.reason, res.Errors[0].Reason)
		})
	}
}

func TestValidateTemplate_RulesSkipWrongType(t *testing.T) {
	tmpl := models.FormTemplate{FormType: "t", Fields: []models.FieldSpec{
		{Name: "cost", Type: models.FieldNumber, Rules: &models.FieldRules{Min: floatp(0)}},
	}}
	res := ValidateTemplate(tmpl, map[string]interface{}{"cost": "abc"})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "cost must be a number", res.Errors[0].Reason)
}

func TestExitDateMustNotBeInThePast(t *testing.T) {
	fixedToday(t, "2026-10-17")
	r := newTestRegistry(t)

	res, err := r.Validate("initial_submission", map[string]interface{}{
		"lease_id":         "L-100",
		"property_address": "1 Main St",
		"exit_date":        "2026-10-01",
		"reason_for_exit":  "Consolidation",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "exit_date", res.Errors[0].Field)
}

func TestIsNumberRejectsNonFinite(t *testing.T) {
	for _, v := range []interface{}{"NaN", "nan", "Inf", "-Inf", "+infinity", math.NaN(), math.Inf(1), float32(math.Inf(-1))} {
		assert.False(t, isNumber(v), "%v", v)
	}
	for _, v := range []interface{}{"42", " -3.5 ", 7, int64(9), 1e6} {
		assert.True(t, isNumber(v), "%v", v)
	}

	tmpl := models.FormTemplate{FormType: "t", Fields: []models.FieldSpec{{Name: "cost", Type: models.FieldNumber}}}
	res := ValidateTemplate(tmpl, map[string]interface{}{"cost": "NaN"})
	assert.False(t, res.Valid)
}

func TestCheckTemplate_Rules(t *testing.T) {
	tests := []struct {
		name  string
		rules models.FieldRules
		ok    bool
	}{
		{"valid", models.FieldRules{MinLength: intp(1), MaxLength: intp(10), Pattern: `[A-Z]+`}, true},
		{"bad pattern", models.FieldRules{Pattern: `(`}, false},
		{"negative length", models.FieldRules{MinLength: intp(-1)}, false},
		{"min length over max", models.FieldRules{MinLength: intp(5), MaxLength: intp(2)}, false},
		{"min over max", models.FieldRules{Min: floatp(10), Max: floatp(1)}, false},
		{"bad min date", models.FieldRules{MinDate: "01/01/2026"}, false},
		{"min date after max date", models.FieldRules{MinDate: "2027-01-01", MaxDate: "2026-01-01"}, false},
		{"future and past", models.FieldRules{Future: true, Past: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := tt.rules
			tmpl := models.FormTemplate{
				FormType: "t",
				Role:     models.RoleAdvisory,
				Fields:   []models.FieldSpec{{Name: "f", Type: models.FieldText, Rules: &rules}},
			}
			err := CheckTemplate(tmpl)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
