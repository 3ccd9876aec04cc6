package schema

import (
	"errors"
	"strings"
)

// ReasonRequired is the reason recorded for a required key that was not supplied.
const ReasonRequired = "field required"

// ReasonNotFinite is the reason recorded for NaN and infinite numbers.
const ReasonNotFinite = "must be a finite number"

// FieldError names one field and the rule it broke. Nested fields use dotted
// paths with list indexes, e.g. "words[2].probability".
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports every field of a record that failed validation.
type ValidationError struct {
	Entity string       `json:"entity"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid " + e.Entity + ": " + strings.Join(parts, "; ")
}

// Has reports whether field failed validation.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Missing lists the required fields that were absent.
func (e *ValidationError) Missing() []string {
	var out []string
	for _, f := range e.Fields {
		if f.Reason == ReasonRequired {
			out = append(out, f.Field)
		}
	}
	return out
}

// newValidationError drops repeated field errors, which nested records can
// report both through their parent and through their own rules.
func newValidationError(entity string, fields []FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[FieldError]bool, len(fields))
	out := make([]FieldError, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return &ValidationError{Entity: entity, Fields: out}
}

func joinPath(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	case strings.HasPrefix(field, "["):
		return prefix + field
	default:
		return prefix + "." + field
	}
}

func prefixed(prefix string, fields []FieldError) []FieldError {
	out := make([]FieldError, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldError{Field: joinPath(prefix, f.Field), Reason: f.Reason})
	}
	return out
}

// nested turns err into field errors under prefix, keeping the inner paths of
// a ValidationError.
func nested(prefix string, err error) []FieldError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return prefixed(prefix, verr.Fields)
	}
	return []FieldError{{Field: prefix, Reason: err.Error()}}
}
