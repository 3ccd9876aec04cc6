package convert

import (
	"reflect"
	"strings"

	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

// Object is a read-only view of an engine-native result object.
type Object interface {
	// Attr returns the attribute stored under name and whether it exists.
	Attr(name string) (any, bool)
}

// Attrs is an Object backed by a map.
type Attrs map[string]any

func (a Attrs) Attr(name string) (any, bool) {
	v, ok := a[name]
	return v, ok
}

// Struct exposes the exported fields of a struct, or pointer to struct, by
// their json tag name (the Go field name when untagged). Embedded struct
// fields are promoted. Nil pointers and nil slices read as null.
func Struct(v any) Object {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Attrs(nil)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return Attrs(nil)
	}
	return structObject{v: rv, fields: fieldsOf(rv.Type())}
}

type structObject struct {
	v      reflect.Value
	fields map[string][]int
}

func (s structObject) Attr(name string) (any, bool) {
	index, ok := s.fields[name]
	if !ok {
		return nil, false
	}
	f, err := s.v.FieldByIndexErr(index)
	if err != nil {
		return nil, true
	}
	return fieldValue(f), true
}

func fieldsOf(t reflect.Type) map[string][]int {
	out := make(map[string][]int)
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous && f.Type.Kind() == reflect.Struct {
			continue
		}
		name := f.Name
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}
		out[name] = f.Index
	}
	return out
}

func fieldValue(f reflect.Value) any {
	switch f.Kind() {
	case reflect.Pointer:
		if f.IsNil() {
			return nil
		}
		if f.Elem().Kind() != reflect.Struct {
			return f.Elem().Interface()
		}
	case reflect.Interface, reflect.Slice, reflect.Map:
		if f.IsNil() {
			return nil
		}
	}
	return f.Interface()
}

// asObject reports whether v is a native object: an Object, or a struct that
// is not itself a schema record.
func asObject(v any) (Object, bool) {
	if v == nil {
		return nil, false
	}
	if obj, ok := v.(Object); ok {
		return obj, true
	}
	if _, ok := v.(schema.Record); ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	return Struct(v), true
}

// shape names the attributes read from a native object and the shapes of
// nested objects, which are flattened to plain mappings.
type shape struct {
	keys   []string
	nested map[string]shape
}

var (
	wordShape    = shape{keys: schema.WordKeys()}
	vadShape     = shape{keys: schema.VADOptionsKeys()}
	clipShape    = shape{keys: []string{"start", "end"}}
	segmentShape = shape{keys: schema.SegmentKeys(), nested: map[string]shape{"words": wordShape}}
)

var optionsShape = shape{
	keys: schema.TranscriptionOptionsKeys(),
	nested: map[string]shape{
		"vad_parameters":  vadShape,
		"clip_timestamps": clipShape,
	},
}

var infoShape = shape{
	keys: schema.TranscriptionInfoKeys(),
	nested: map[string]shape{
		"transcription_options": optionsShape,
		"vad_options":           vadShape,
	},
}

// flatten reads the declared attributes of src. Missing attributes stay
// missing so the schema reports them as required.
func (sh shape) flatten(src Object) map[string]any {
	m := make(map[string]any, len(sh.keys))
	for _, key := range sh.keys {
		v, ok := src.Attr(key)
		if !ok {
			continue
		}
		if inner, ok := sh.nested[key]; ok {
			v = inner.value(v)
		}
		m[key] = plain(v)
	}
	return m
}

// value flattens v when it is a native object, or each element when it is a
// list of them.
func (sh shape) value(v any) any {
	if r, ok := v.(schema.Record); ok {
		return r.ToMap()
	}
	if obj, ok := asObject(v); ok {
		return sh.flatten(obj)
	}
	if v == nil || reflect.TypeOf(v).Kind() == reflect.String {
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return v
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = sh.value(rv.Index(i).Interface())
	}
	return out
}

// plain turns fixed-size arrays, which is how engines hand over tuples, into
// ordered lists.
func plain(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array {
		return v
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = plain(rv.Index(i).Interface())
	}
	return out
}
