package schema

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Temperature is either one sampling temperature or an ordered fallback
// ladder tried in turn. The two shapes never convert into each other.
type Temperature struct {
	values []float64
	single bool
}

// SingleTemperature returns a scalar temperature.
func SingleTemperature(t float64) Temperature {
	return Temperature{values: []float64{t}, single: true}
}

// TemperatureLadder returns a fallback ladder.
func TemperatureLadder(ts ...float64) Temperature {
	return Temperature{values: append(make([]float64, 0, len(ts)), ts...)}
}

func defaultTemperature() Temperature {
	return TemperatureLadder(0.0, 0.2, 0.4, 0.6, 0.8, 1.0)
}

// Single returns the scalar value when t is a single temperature.
func (t Temperature) Single() (float64, bool) {
	if !t.single {
		return 0, false
	}
	return t.values[0], true
}

// Ladder returns a copy of the fallback ladder when t is a ladder.
func (t Temperature) Ladder() ([]float64, bool) {
	if t.single || t.values == nil {
		return nil, false
	}
	return append([]float64(nil), t.values...), true
}

// Values returns the temperatures the engine will try, in order.
func (t Temperature) Values() []float64 {
	return append([]float64(nil), t.values...)
}

func (t Temperature) plain() any {
	switch {
	case t.single:
		return t.values[0]
	case t.values == nil:
		return nil
	default:
		return append(make([]float64, 0, len(t.values)), t.values...)
	}
}

func (t Temperature) rules(key string) []FieldError {
	switch {
	case t.values == nil:
		return []FieldError{{Field: key, Reason: ReasonRequired}}
	case !t.single && len(t.values) == 0:
		return []FieldError{{Field: key, Reason: "must not be empty"}}
	}
	var out []FieldError
	for i, v := range t.values {
		if v < 0 {
			field := key
			if !t.single {
				field = fmt.Sprintf("%s[%d]", key, i)
			}
			out = append(out, FieldError{Field: field, Reason: "must be >= 0"})
		}
	}
	return out
}

func decodeTemperature(v any) (Temperature, error) {
	if isNumber(v) {
		f, err := asFloat(v)
		if err != nil {
			return Temperature{}, err
		}
		return SingleTemperature(f), nil
	}
	if _, err := asList(v); err != nil {
		return Temperature{}, fmt.Errorf("must be a number or a list of numbers, got %s", kindOf(v))
	}
	values, err := asFloats(v)
	if err != nil {
		return Temperature{}, err
	}
	return Temperature{values: values}, nil
}

type promptKind uint8

const (
	promptNone promptKind = iota
	promptText
	promptTokens
)

// Prompt is the initial prompt: free text, pre-tokenized ids, or absent (the
// zero value).
type Prompt struct {
	kind   promptKind
	text   string
	tokens []int
}

// TextPrompt returns a text prompt.
func TextPrompt(s string) Prompt {
	return Prompt{kind: promptText, text: s}
}

// TokenPrompt returns a prompt of token ids.
func TokenPrompt(ids ...int) Prompt {
	return Prompt{kind: promptTokens, tokens: append(make([]int, 0, len(ids)), ids...)}
}

// IsZero reports whether no prompt is set.
func (p Prompt) IsZero() bool { return p.kind == promptNone }

// Text returns the prompt text.
func (p Prompt) Text() (string, bool) { return p.text, p.kind == promptText }

// Tokens returns a copy of the prompt token ids.
func (p Prompt) Tokens() ([]int, bool) {
	if p.kind != promptTokens {
		return nil, false
	}
	return append(make([]int, 0, len(p.tokens)), p.tokens...), true
}

func (p Prompt) plain() any {
	switch p.kind {
	case promptText:
		return p.text
	case promptTokens:
		return append(make([]int, 0, len(p.tokens)), p.tokens...)
	default:
		return nil
	}
}

func decodePrompt(v any) (Prompt, error) {
	if v == nil {
		return Prompt{}, nil
	}
	if s, err := asString(v); err == nil {
		return TextPrompt(s), nil
	}
	if _, err := asList(v); err != nil {
		return Prompt{}, fmt.Errorf("must be a string or a list of token ids, got %s", kindOf(v))
	}
	ids, err := asInts(v)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{kind: promptTokens, tokens: ids}, nil
}

// ClipRange is one structured clip window in seconds.
type ClipRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type clipKind uint8

const (
	clipNone clipKind = iota
	clipText
	clipRanges
	clipSeconds
)

func (k clipKind) String() string {
	switch k {
	case clipText:
		return "string"
	case clipRanges:
		return "list of ranges"
	case clipSeconds:
		return "list of seconds"
	default:
		return "null"
	}
}

// ClipTimestamps restricts which parts of the audio are processed. It is a
// comma-separated string of seconds, a list of structured ranges, a list of
// seconds, or absent (the zero value). Each preset accepts a subset of these.
type ClipTimestamps struct {
	kind    clipKind
	text    string
	ranges  []ClipRange
	seconds []float64
}

// ClipText returns clip timestamps in the engine's "start,end,..." form.
func ClipText(s string) ClipTimestamps {
	return ClipTimestamps{kind: clipText, text: s}
}

// ClipRangeList returns structured clip ranges.
func ClipRangeList(ranges ...ClipRange) ClipTimestamps {
	return ClipTimestamps{kind: clipRanges, ranges: append(make([]ClipRange, 0, len(ranges)), ranges...)}
}

// ClipSecondList returns clip boundaries in seconds.
func ClipSecondList(seconds ...float64) ClipTimestamps {
	return ClipTimestamps{kind: clipSeconds, seconds: append(make([]float64, 0, len(seconds)), seconds...)}
}

// IsZero reports whether no clip timestamps are set.
func (c ClipTimestamps) IsZero() bool { return c.kind == clipNone }

// Text returns the string form.
func (c ClipTimestamps) Text() (string, bool) { return c.text, c.kind == clipText }

// Ranges returns a copy of the structured ranges.
func (c ClipTimestamps) Ranges() ([]ClipRange, bool) {
	if c.kind != clipRanges {
		return nil, false
	}
	return append([]ClipRange(nil), c.ranges...), true
}

// Seconds returns a copy of the boundaries in seconds.
func (c ClipTimestamps) Seconds() ([]float64, bool) {
	if c.kind != clipSeconds {
		return nil, false
	}
	return append([]float64(nil), c.seconds...), true
}

// plain gives both empty list kinds the same form; decodeClip picks the kind
// back per preset.
func (c ClipTimestamps) plain() any {
	switch c.kind {
	case clipText:
		return c.text
	case clipRanges:
		out := make([]any, 0, len(c.ranges))
		for _, r := range c.ranges {
			out = append(out, map[string]any{"start": r.Start, "end": r.End})
		}
		return out
	case clipSeconds:
		if len(c.seconds) == 0 {
			return []any{}
		}
		return append(make([]float64, 0, len(c.seconds)), c.seconds...)
	default:
		return nil
	}
}

func (c ClipTimestamps) rules(key string, allowed ...clipKind) []FieldError {
	permitted := false
	names := make([]string, 0, len(allowed))
	for _, k := range allowed {
		names = append(names, k.String())
		if k == c.kind {
			permitted = true
		}
	}
	if !permitted {
		return []FieldError{{Field: key, Reason: "must be " + strings.Join(names, " or ") + ", got " + c.kind.String()}}
	}
	var out []FieldError
	switch c.kind {
	case clipText:
		for _, part := range strings.Split(c.text, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, err := strconv.ParseFloat(part, 64); err != nil {
				out = append(out, FieldError{Field: key, Reason: fmt.Sprintf("%q is not a number of seconds", part)})
			}
		}
	case clipRanges:
		for i, r := range c.ranges {
			field := fmt.Sprintf("%s[%d]", key, i)
			if r.Start < 0 {
				out = append(out, FieldError{Field: field + ".start", Reason: "must be >= 0"})
			}
			if r.End < r.Start {
				out = append(out, FieldError{Field: field + ".end", Reason: "must not precede start"})
			}
		}
	case clipSeconds:
		for i, s := range c.seconds {
			if s < 0 {
				out = append(out, FieldError{Field: fmt.Sprintf("%s[%d]", key, i), Reason: "must be >= 0"})
			}
		}
	}
	return out
}

// decodeClip reads any clip form. An empty list becomes emptyList, the list
// kind the calling preset accepts.
func decodeClip(v any, emptyList clipKind) (ClipTimestamps, error) {
	if v == nil {
		return ClipTimestamps{}, nil
	}
	if s, err := asString(v); err == nil {
		return ClipText(s), nil
	}
	items, err := asList(v)
	if err != nil {
		return ClipTimestamps{}, fmt.Errorf("must be a string or a list, got %s", kindOf(v))
	}
	if len(items) == 0 {
		if emptyList == clipSeconds {
			return ClipSecondList(), nil
		}
		return ClipRangeList(), nil
	}
	if isNumber(items[0]) {
		seconds, err := asFloats(items)
		if err != nil {
			return ClipTimestamps{}, err
		}
		return ClipTimestamps{kind: clipSeconds, seconds: seconds}, nil
	}
	ranges := make([]ClipRange, 0, len(items))
	var problems []FieldError
	for i, item := range items {
		r, err := decodeClipRange(item)
		if err != nil {
			problems = append(problems, nested(fmt.Sprintf("[%d]", i), err)...)
			continue
		}
		ranges = append(ranges, r)
	}
	if len(problems) > 0 {
		return ClipTimestamps{}, &ValidationError{Entity: "ClipRange", Fields: problems}
	}
	return ClipTimestamps{kind: clipRanges, ranges: ranges}, nil
}

func decodeClipRange(v any) (ClipRange, error) {
	m, err := asMap(v)
	if err != nil {
		return ClipRange{}, err
	}
	var r ClipRange
	d := newDecoder(m)
	d.require("start", "end")
	d.float("start", &r.Start)
	d.float("end", &r.End)
	return r, d.done("ClipRange", nil)
}

// VADParameters carries the voice-activity options a caller hands to the
// engine: a full VADOptions record, a partial mapping resolved against the
// VADOptions defaults, or absent (the zero value). Both non-empty forms
// serialize to the resolved mapping, so they compare equal when they resolve
// to the same options.
type VADParameters struct {
	opts     *VADOptions
	supplied []string
}

// VADRecord wraps a full options record.
func VADRecord(o VADOptions) VADParameters {
	return VADParameters{opts: &o}
}

// VADMapping validates a partial mapping of VADOptions keys.
func VADMapping(m map[string]any) (VADParameters, error) {
	o, err := NewVADOptions(m)
	if err != nil {
		return VADParameters{}, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return VADParameters{opts: &o, supplied: keys}, nil
}

// IsZero reports whether no parameters are set.
func (p VADParameters) IsZero() bool { return p.opts == nil }

// Options returns the resolved options.
func (p VADParameters) Options() (VADOptions, bool) {
	if p.opts == nil {
		return VADOptions{}, false
	}
	return *p.opts, true
}

// Supplied lists the keys given when p was built from a mapping; it is nil
// for the record form.
func (p VADParameters) Supplied() []string {
	return append([]string(nil), p.supplied...)
}

func (p VADParameters) plain() any {
	if p.opts == nil {
		return nil
	}
	return p.opts.ToMap()
}

func (p VADParameters) rules(key string) []FieldError {
	if p.opts == nil {
		return nil
	}
	return prefixed(key, p.opts.problems())
}

func decodeVADParameters(v any) (VADParameters, error) {
	switch x := v.(type) {
	case nil:
		return VADParameters{}, nil
	case VADOptions:
		return VADRecord(x), nil
	case *VADOptions:
		if x == nil {
			return VADParameters{}, nil
		}
		return VADRecord(*x), nil
	}
	m, err := asMap(v)
	if err != nil {
		return VADParameters{}, errors.New("must be VAD options, an object or null, got " + kindOf(v))
	}
	return VADMapping(m)
}
