// models/form_template.go
package models

import (
	"time"
)

// Field types understood by the form registry.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldEmail    = "email"
	FieldNumber   = "number"
	FieldDate     = "date"
	FieldSelect   = "select"
	FieldBoolean  = "boolean"
	FieldFile     = "file"
)

type FieldSpec struct {
	Name     string      `bson:"name" json:"name" yaml:"name"`
	Label    string      `bson:"label,omitempty" json:"label,omitempty" yaml:"label,omitempty"`
	Type     string      `bson:"type" json:"type" yaml:"type"`
	Required bool        `bson:"required" json:"required" yaml:"required"`
	Options  []string    `bson:"options,omitempty" json:"options,omitempty" yaml:"options,omitempty"`
	Rules    *FieldRules `bson:"rules,omitempty" json:"rules,omitempty" yaml:"rules,omitempty"`
}

// FieldRules narrows what a typed value may be. Length and pattern rules apply
// to text values, Min/Max/Integer to numbers and the date rules to dates.
// Dates are YYYY-MM-DD.
type FieldRules struct {
	MinLength *int   `bson:"minLength,omitempty" json:"minLength,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int   `bson:"maxLength,omitempty" json:"maxLength,omitempty" yaml:"max_length,omitempty"`
	Pattern   string `bson:"pattern,omitempty" json:"pattern,omitempty" yaml:"pattern,omitempty"`
	// ErrorMessage replaces the default reason when Pattern does not match.
	ErrorMessage string   `bson:"errorMessage,omitempty" json:"errorMessage,omitempty" yaml:"error_message,omitempty"`
	Min          *float64 `bson:"min,omitempty" json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64 `bson:"max,omitempty" json:"max,omitempty" yaml:"max,omitempty"`
	Integer      bool     `bson:"integer,omitempty" json:"integer,omitempty" yaml:"integer,omitempty"`
	MinDate      string   `bson:"minDate,omitempty" json:"minDate,omitempty" yaml:"min_date,omitempty"`
	MaxDate      string   `bson:"maxDate,omitempty" json:"maxDate,omitempty" yaml:"max_date,omitempty"`
	Future       bool     `bson:"future,omitempty" json:"future,omitempty" yaml:"future,omitempty"`
	Past         bool     `bson:"past,omitempty" json:"past,omitempty" yaml:"past,omitempty"`
}

// FormTemplate is read-only reference data keyed by form type.
type FormTemplate struct {
	FormType  string      `bson:"formType" json:"formType" yaml:"form_type"`
	Title     string      `bson:"title,omitempty" json:"title,omitempty" yaml:"title,omitempty"`
	Role      Role        `bson:"role" json:"role" yaml:"role"`
	Fields    []FieldSpec `bson:"fields" json:"fields" yaml:"fields"`
	UpdatedAt time.Time   `bson:"updatedAt,omitempty" json:"updatedAt,omitempty" yaml:"-"`
}
