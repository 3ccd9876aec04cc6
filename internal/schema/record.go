package schema

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
)

// Record is any schema value with a plain-mapping form.
type Record interface {
	ToMap() map[string]any
}

// Request is a request-side preset handed to the engine as keyword arguments.
type Request interface {
	Record
	Validate() error
	// Batched reports whether the preset targets the batched pipeline.
	Batched() bool
}

// Diff returns the keys whose plain values differ between a and b, mapped to
// b's value. Nested records compare by their plain mappings.
func Diff[T Record](a, b T) map[string]any {
	before, after := a.ToMap(), b.ToMap()
	out := make(map[string]any)
	for key, v := range after {
		if w, ok := before[key]; !ok || !reflect.DeepEqual(w, v) {
			out[key] = v
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			out[key] = nil
		}
	}
	return out
}

// Equal reports whether a and b have the same plain mapping.
func Equal[T Record](a, b T) bool {
	return len(Diff(a, b)) == 0
}

// Ptr returns a pointer to v, for filling nullable fields.
func Ptr[T any](v T) *T {
	return &v
}

func marshalRecord(r Record) ([]byte, error) {
	return json.Marshal(jsonSafe(r.ToMap()))
}

func unmarshalRecord[T any](data []byte, build func(map[string]any) (T, error), dst *T) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	v, err := build(m)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// JSONSafe returns a copy of m without the non-finite floats JSON cannot
// encode, at any depth.
func JSONSafe(m map[string]any) map[string]any {
	out, _ := jsonSafe(m).(map[string]any)
	return out
}

// jsonSafe drops non-finite floats from mappings, which JSON cannot encode.
// Validation only lets +Inf through on unbounded limits, whose default is
// +Inf, so decoding restores the dropped value.
func jsonSafe(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			if f, ok := item.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
				continue
			}
			out[k] = jsonSafe(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonSafe(item)
		}
		return out
	default:
		return v
	}
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func intsOrNil(v []int) any {
	if v == nil {
		return nil
	}
	return append(make([]int, 0, len(v)), v...)
}
