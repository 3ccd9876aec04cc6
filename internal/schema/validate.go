package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct applies the `validate` tags of v and its nested records, and
// rejects non-finite floats anywhere in v. A rule failing on a field that is
// already non-finite is not reported again.
func checkStruct(v any) []FieldError {
	out := nonFinite(reflect.ValueOf(v), "", nil)
	err := structValidator.Struct(v)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return append(out, FieldError{Reason: err.Error()})
	}
	seen := make(map[string]bool, len(out))
	for _, f := range out {
		seen[f.Field] = true
	}
	for _, fe := range verrs {
		if field := fieldPath(fe.Namespace()); !seen[field] {
			out = append(out, FieldError{Field: field, Reason: ruleReason(fe)})
		}
	}
	return out
}

// nonFinite collects NaN and infinite floats below v, unexported union
// fields included. Fields tagged `schema:"unbounded"` may hold +Inf.
func nonFinite(v reflect.Value, path string, out []FieldError) []FieldError {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			out = append(out, FieldError{Field: path, Reason: ReasonNotFinite})
		}
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			out = nonFinite(v.Elem(), path, out)
		}
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			out = nonFinite(v.Index(i), fmt.Sprintf("%s[%d]", path, i), out)
		}
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			sf, fv := t.Field(i), v.Field(i)
			if sf.Tag.Get("schema") == "unbounded" && fv.CanFloat() && math.IsInf(fv.Float(), 1) {
				continue
			}
			key := path
			if name, _, _ := strings.Cut(sf.Tag.Get("json"), ","); name != "" && name != "-" {
				key = joinPath(path, name)
			}
			out = nonFinite(fv, key, out)
		}
	}
	return out
}

// fieldPath drops the Go type and embedded struct names from a validator
// namespace, leaving the snake_case keys: "WhisperOptions.BaseOptions.beam_size"
// becomes "beam_size".
func fieldPath(namespace string) string {
	var keep []string
	for _, part := range strings.Split(namespace, ".") {
		if part == "" || unicode.IsUpper([]rune(part)[0]) {
			continue
		}
		keep = append(keep, part)
	}
	return strings.Join(keep, ".")
}

func ruleReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return ReasonRequired
	case "gte":
		return "must be >= " + fe.Param()
	case "gt":
		return "must be > " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "lt":
		return "must be < " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "ltefield":
		return "must not exceed " + snake(fe.Param())
	default:
		return "violates " + fe.Tag()
	}
}

func snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
