package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// decoder reads a plain mapping into a record, collecting a FieldError for
// every key it cannot use instead of stopping at the first one.
type decoder struct {
	src   map[string]any
	known map[string]bool
	errs  []FieldError
}

func newDecoder(src map[string]any) *decoder {
	return &decoder{src: src, known: make(map[string]bool, len(src))}
}

func (d *decoder) take(key string) (any, bool) {
	d.known[key] = true
	v, ok := d.src[key]
	return v, ok
}

func (d *decoder) fail(key, reason string) {
	d.errs = append(d.errs, FieldError{Field: key, Reason: reason})
}

func (d *decoder) require(keys ...string) {
	for _, key := range keys {
		if _, ok := d.src[key]; !ok {
			d.fail(key, ReasonRequired)
		}
	}
}

func (d *decoder) float(key string, dst *float64) {
	d.with(key, false, func(v any) error {
		f, err := asFloat(v)
		if err == nil {
			*dst = f
		}
		return err
	})
}

// limit decodes a float that may be +Inf for no limit.
func (d *decoder) limit(key string, dst *float64) {
	d.with(key, false, func(v any) error {
		f, err := asNumber(v)
		if err == nil && math.IsInf(f, 1) {
			*dst = f
			return nil
		}
		if f, err = asFloat(v); err == nil {
			*dst = f
		}
		return err
	})
}

func (d *decoder) floatPtr(key string, dst **float64) {
	d.with(key, true, func(v any) error {
		if v == nil {
			*dst = nil
			return nil
		}
		f, err := asFloat(v)
		if err == nil {
			*dst = &f
		}
		return err
	})
}

func (d *decoder) int(key string, dst *int) {
	d.with(key, false, func(v any) error {
		n, err := asInt(v)
		if err == nil {
			*dst = n
		}
		return err
	})
}

func (d *decoder) intPtr(key string, dst **int) {
	d.with(key, true, func(v any) error {
		if v == nil {
			*dst = nil
			return nil
		}
		n, err := asInt(v)
		if err == nil {
			*dst = &n
		}
		return err
	})
}

func (d *decoder) bool(key string, dst *bool) {
	d.with(key, false, func(v any) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("must be a boolean, got %s", kindOf(v))
		}
		*dst = b
		return nil
	})
}

func (d *decoder) string(key string, dst *string) {
	d.with(key, false, func(v any) error {
		s, err := asString(v)
		if err == nil {
			*dst = s
		}
		return err
	})
}

func (d *decoder) stringPtr(key string, dst **string) {
	d.with(key, true, func(v any) error {
		if v == nil {
			*dst = nil
			return nil
		}
		s, err := asString(v)
		if err == nil {
			*dst = &s
		}
		return err
	})
}

// ints decodes a list of integers. A nullable list keeps null distinct from
// the empty list.
func (d *decoder) ints(key string, dst *[]int, nullable bool) {
	d.with(key, nullable, func(v any) error {
		if v == nil {
			*dst = nil
			return nil
		}
		list, err := asInts(v)
		if err == nil {
			*dst = list
		}
		return err
	})
}

func (d *decoder) floats(key string, dst *[]float64) {
	d.with(key, false, func(v any) error {
		list, err := asFloats(v)
		if err == nil {
			*dst = list
		}
		return err
	})
}

// with runs fn on the value stored under key, if any. Nested validation
// failures keep their inner paths below key.
func (d *decoder) with(key string, nullable bool, fn func(any) error) {
	v, ok := d.take(key)
	if !ok {
		return
	}
	if v == nil && !nullable {
		d.fail(key, "must not be null")
		return
	}
	if err := fn(v); err != nil {
		d.errs = append(d.errs, nested(key, err)...)
	}
}

// done reports unknown keys, decode failures and rule violations as one
// ValidationError. Rule violations under a key that already failed to decode
// are dropped since they only describe the fallback value.
func (d *decoder) done(entity string, rules []FieldError) error {
	var unknown []string
	for key := range d.src {
		if !d.known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	fields := make([]FieldError, 0, len(unknown)+len(d.errs)+len(rules))
	for _, key := range unknown {
		fields = append(fields, FieldError{Field: key, Reason: "unknown field"})
	}
	fields = append(fields, d.errs...)
	for _, r := range rules {
		if !d.covers(r.Field) {
			fields = append(fields, r)
		}
	}
	return newValidationError(entity, fields)
}

func (d *decoder) covers(field string) bool {
	for _, e := range d.errs {
		if field == e.Field || strings.HasPrefix(field, e.Field+".") || strings.HasPrefix(field, e.Field+"[") {
			return true
		}
	}
	return false
}

func kindOf(v any) string {
	if v == nil {
		return "null"
	}
	if _, ok := v.(json.Number); ok {
		return "number"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "number"
	default:
		return reflect.TypeOf(v).String()
	}
}

func isNumber(v any) bool {
	return v != nil && kindOf(v) == "number"
}

// asFloat accepts finite numbers only.
func asFloat(v any) (float64, error) {
	f, err := asNumber(v)
	if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return 0, errors.New(ReasonNotFinite)
	}
	return f, err
}

func asNumber(v any) (float64, error) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("must be a number, got %q", n.String())
		}
		return f, nil
	}
	if v != nil {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return rv.Float(), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return float64(rv.Uint()), nil
		}
	}
	return 0, fmt.Errorf("must be a number, got %s", kindOf(v))
}

const minInt = float64(math.MinInt)

// asInt accepts any integer kind and floats with no fractional part, which is
// how JSON and YAML decoders hand integers over.
func asInt(v any) (int, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
	}
	if v != nil {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return int(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if u := rv.Uint(); u <= math.MaxInt {
				return int(u), nil
			}
			return 0, fmt.Errorf("must be an integer, got %v", v)
		}
	}
	if isNumber(v) {
		f, err := asNumber(v)
		if err == nil && f == math.Trunc(f) && f >= minInt && f < -minInt {
			return int(f), nil
		}
		return 0, fmt.Errorf("must be an integer, got %v", v)
	}
	return 0, fmt.Errorf("must be an integer, got %s", kindOf(v))
}

func asString(v any) (string, error) {
	if v != nil && kindOf(v) == "string" {
		return reflect.ValueOf(v).String(), nil
	}
	return "", fmt.Errorf("must be a string, got %s", kindOf(v))
}

// asList accepts slices and fixed-size arrays alike.
func asList(v any) ([]any, error) {
	if v != nil {
		if list, ok := v.([]any); ok {
			return list, nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = rv.Index(i).Interface()
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("must be a list, got %s", kindOf(v))
}

func asMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	if v != nil {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = iter.Value().Interface()
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("must be an object, got %s", kindOf(v))
}

func asInts(v any) ([]int, error) {
	items, err := asList(v)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(items))
	for i, item := range items {
		n, err := asInt(item)
		if err != nil {
			return nil, fmt.Errorf("item %d %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func asFloats(v any) ([]float64, error) {
	items, err := asList(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(items))
	for i, item := range items {
		f, err := asFloat(item)
		if err != nil {
			return nil, fmt.Errorf("item %d %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}
