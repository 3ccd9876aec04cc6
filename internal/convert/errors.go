package convert

import (
	"errors"

	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

// ConversionError reports a native object that could not be converted.
// Path locates it within a run result ("segments[4]", "info") and is empty
// for single-object conversions.
type ConversionError struct {
	Entity string
	Path   string
	Err    error
}

func (e *ConversionError) Error() string {
	where := e.Entity
	if e.Path != "" {
		where += " at " + e.Path
	}
	return "convert " + where + ": " + e.Err.Error()
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Fields returns the offending fields when the cause is a validation failure.
func (e *ConversionError) Fields() []schema.FieldError {
	var verr *schema.ValidationError
	if !errors.As(e.Err, &verr) {
		return nil
	}
	return append([]schema.FieldError(nil), verr.Fields...)
}

// Missing lists the required attributes the native object lacked.
func (e *ConversionError) Missing() []string {
	var verr *schema.ValidationError
	if !errors.As(e.Err, &verr) {
		return nil
	}
	return verr.Missing()
}
