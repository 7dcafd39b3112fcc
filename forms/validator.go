// forms/validator.go
package forms

import (
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"

	"leaseexit/models"
)

// FieldError is one field level problem.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Result is the outcome of validating form data. Invalid input is reported
// here, never as an error.
type Result struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors"`
	Warnings []FieldError `json:"warnings"`
}

// ValidateTemplate checks data against the fields of tmpl. Fields are checked in
// declaration order so results are stable.
func ValidateTemplate(tmpl models.FormTemplate, data map[string]interface{}) Result {
	result := Result{
		Valid:    true,
		Errors:   []FieldError{},
		Warnings: []FieldError{},
	}

	declared := make(map[string]bool, len(tmpl.Fields))
	for _, f := range tmpl.Fields {
		declared[f.Name] = true
		value := data[f.Name]

		if isEmpty(value) {
			if f.Required {
				result.Valid = false
				result.Errors = append(result.Errors, FieldError{
					Field:  f.Name,
					Reason: fmt.Sprintf("%s is required", label(f)),
				})
			}
			continue
		}

		reason := checkType(f, value)
		if reason == "" {
			reason = checkRules(f, value)
		}
		if reason != "" {
			result.Valid = false
			result.Errors = append(result.Errors, FieldError{Field: f.Name, Reason: reason})
		}
	}

	extra := make([]string, 0)
	for name := range data {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		result.Warnings = append(result.Warnings, FieldError{
			Field:  name,
			Reason: fmt.Sprintf("field %q is not part of form %s", name, tmpl.FormType),
		})
	}

	return result
}

func label(f models.FieldSpec) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func checkType(f models.FieldSpec, value interface{}) string {
	switch f.Type {
	case models.FieldText, models.FieldTextarea, "":
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("%s must be text", label(f))
		}
	case models.FieldEmail:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("%s must be an email address", label(f))
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Sprintf("%s must be a valid email address", label(f))
		}
	case models.FieldNumber:
		if !isNumber(value) {
			return fmt.Sprintf("%s must be a number", label(f))
		}
	case models.FieldDate:
		if !isDate(value) {
			return fmt.Sprintf("%s must be a date (YYYY-MM-DD)", label(f))
		}
	case models.FieldSelect:
		s, ok := value.(string)
		if !ok || !containsString(f.Options, s) {
			return fmt.Sprintf("%s must be one of: %s", label(f), strings.Join(f.Options, ", "))
		}
	case models.FieldBoolean:
		switch t := value.(type) {
		case bool:
		case string:
			if _, err := strconv.ParseBool(t); err != nil {
				return fmt.Sprintf("%s must be true or false", label(f))
			}
		default:
			return fmt.Sprintf("%s must be true or false", label(f))
		}
	case models.FieldFile:
		if !isFileList(value) {
			return fmt.Sprintf("%s must be a file reference or a list of file references", label(f))
		}
	default:
		return fmt.Sprintf("%s has unsupported type %q", label(f), f.Type)
	}
	return ""
}

func isNumber(v interface{}) bool {
	_, ok := numberValue(v)
	return ok
}

func isDate(v interface{}) bool {
	_, ok := dateValue(v)
	return ok
}

func isFileList(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return true
	case []string:
		return true
	case []interface{}:
		for _, item := range t {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return false
			}
		}
		return true
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
