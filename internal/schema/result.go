package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Word is one timestamped word of a segment.
type Word struct {
	Start       float64 `json:"start" validate:"gte=0"`
	End         float64 `json:"end" validate:"gte=0"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability" validate:"gte=0,lte=1"`
}

// NewWord builds a word from a plain mapping. Every key is required.
func NewWord(m map[string]any) (Word, error) {
	var w Word
	d := newDecoder(m)
	d.require(WordKeys()...)
	d.float("start", &w.Start)
	d.float("end", &w.End)
	d.string("word", &w.Word)
	d.float("probability", &w.Probability)
	if err := d.done("Word", checkStruct(w)); err != nil {
		return Word{}, err
	}
	return w, nil
}

// Validate checks w against its field rules.
func (w Word) Validate() error {
	return newValidationError("Word", checkStruct(w))
}

// ToMap returns w as a plain mapping.
func (w Word) ToMap() map[string]any {
	return map[string]any{
		"start":       w.Start,
		"end":         w.End,
		"word":        w.Word,
		"probability": w.Probability,
	}
}

func (w Word) MarshalJSON() ([]byte, error) { return marshalRecord(w) }

func (w *Word) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewWord, w)
}

// Segment is one recognized span of speech.
type Segment struct {
	ID               int     `json:"id" validate:"gte=0"`
	Seek             int     `json:"seek" validate:"gte=0"`
	Start            float64 `json:"start" validate:"gte=0"`
	End              float64 `json:"end" validate:"gte=0"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio" validate:"gte=0"`
	NoSpeechProb     float64 `json:"no_speech_prob" validate:"gte=0,lte=1"`
	// Words is nil unless word timestamps were requested.
	Words       []Word   `json:"words" validate:"omitempty,dive"`
	Temperature *float64 `json:"temperature"`
}

// NewSegment builds a segment from a plain mapping. Temperature defaults to
// 1.0; every other key is required.
func NewSegment(m map[string]any) (Segment, error) {
	s := Segment{Temperature: Ptr(1.0)}
	d := newDecoder(m)
	d.require(
		"id", "seek", "start", "end", "text", "tokens",
		"avg_logprob", "compression_ratio", "no_speech_prob", "words",
	)
	d.int("id", &s.ID)
	d.int("seek", &s.Seek)
	d.float("start", &s.Start)
	d.float("end", &s.End)
	d.string("text", &s.Text)
	d.ints("tokens", &s.Tokens, false)
	d.float("avg_logprob", &s.AvgLogprob)
	d.float("compression_ratio", &s.CompressionRatio)
	d.float("no_speech_prob", &s.NoSpeechProb)
	d.with("words", true, func(v any) (err error) {
		s.Words, err = decodeRecords(v, "Word", NewWord)
		return err
	})
	d.floatPtr("temperature", &s.Temperature)
	if err := d.done("Segment", s.problems()); err != nil {
		return Segment{}, err
	}
	return s, nil
}

// Validate checks s against its field rules.
func (s Segment) Validate() error {
	return newValidationError("Segment", s.problems())
}

func (s Segment) problems() []FieldError {
	out := checkStruct(s)
	if s.Tokens == nil {
		out = append(out, FieldError{Field: "tokens", Reason: ReasonRequired})
	}
	return out
}

// ToMap returns s as a plain mapping; words map to nil or a list of word
// mappings.
func (s Segment) ToMap() map[string]any {
	var words any
	if s.Words != nil {
		list := make([]any, 0, len(s.Words))
		for _, w := range s.Words {
			list = append(list, w.ToMap())
		}
		words = list
	}
	return map[string]any{
		"id":                s.ID,
		"seek":              s.Seek,
		"start":             s.Start,
		"end":               s.End,
		"text":              s.Text,
		"tokens":            append(make([]int, 0, len(s.Tokens)), s.Tokens...),
		"avg_logprob":       s.AvgLogprob,
		"compression_ratio": s.CompressionRatio,
		"no_speech_prob":    s.NoSpeechProb,
		"words":             words,
		"temperature":       nullable(s.Temperature),
	}
}

func (s Segment) MarshalJSON() ([]byte, error) { return marshalRecord(s) }

func (s *Segment) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewSegment, s)
}

// LanguageProb pairs a language code with its detection probability. Its
// plain form is the two-element list [language, probability].
type LanguageProb struct {
	Language    string  `json:"language"`
	Probability float64 `json:"probability" validate:"gte=0,lte=1"`
}

func (p LanguageProb) plain() []any {
	return []any{p.Language, p.Probability}
}

func decodeLanguageProb(v any) (LanguageProb, error) {
	items, err := asList(v)
	if err != nil {
		return LanguageProb{}, fmt.Errorf("must be a [language, probability] pair, got %s", kindOf(v))
	}
	if len(items) != 2 {
		return LanguageProb{}, fmt.Errorf("must be a [language, probability] pair, got %d items", len(items))
	}
	var p LanguageProb
	var fields []FieldError
	if p.Language, err = asString(items[0]); err != nil {
		fields = append(fields, FieldError{Field: "[0]", Reason: err.Error()})
	}
	if p.Probability, err = asFloat(items[1]); err != nil {
		fields = append(fields, FieldError{Field: "[1]", Reason: err.Error()})
	}
	return p, newValidationError("LanguageProb", fields)
}

// TranscriptionInfo describes one run: the detected language, durations and
// the options the engine actually used.
type TranscriptionInfo struct {
	Language             string               `json:"language"`
	LanguageProbability  float64              `json:"language_probability" validate:"gte=0,lte=1"`
	Duration             float64              `json:"duration" validate:"gte=0"`
	DurationAfterVAD     float64              `json:"duration_after_vad" validate:"gte=0,ltefield=Duration"`
	AllLanguageProbs     []LanguageProb       `json:"all_language_probs" validate:"omitempty,dive"`
	TranscriptionOptions TranscriptionOptions `json:"transcription_options"`
	// VADOptions is nil when voice filtering was off for the run.
	VADOptions *VADOptions `json:"vad_options" validate:"omitempty"`
}

// NewTranscriptionInfo builds run info from a plain mapping. Every key is
// required; all_language_probs and vad_options may be null.
func NewTranscriptionInfo(m map[string]any) (TranscriptionInfo, error) {
	var info TranscriptionInfo
	d := newDecoder(m)
	d.require(TranscriptionInfoKeys()...)
	d.string("language", &info.Language)
	d.float("language_probability", &info.LanguageProbability)
	d.float("duration", &info.Duration)
	d.float("duration_after_vad", &info.DurationAfterVAD)
	d.with("all_language_probs", true, func(v any) error {
		if v == nil {
			return nil
		}
		items, err := asList(v)
		if err != nil {
			return err
		}
		probs := make([]LanguageProb, 0, len(items))
		var fields []FieldError
		for i, item := range items {
			p, err := decodeLanguageProb(item)
			if err != nil {
				fields = append(fields, nested(fmt.Sprintf("[%d]", i), err)...)
				continue
			}
			probs = append(probs, p)
		}
		info.AllLanguageProbs = probs
		return newValidationError("LanguageProb", fields)
	})
	d.with("transcription_options", false, func(v any) error {
		om, err := asMap(v)
		if err != nil {
			return err
		}
		info.TranscriptionOptions, err = NewTranscriptionOptions(om)
		return err
	})
	d.with("vad_options", true, func(v any) error {
		if v == nil {
			return nil
		}
		vm, err := asMap(v)
		if err != nil {
			return err
		}
		o, err := NewVADOptions(vm)
		if err != nil {
			return err
		}
		info.VADOptions = &o
		return nil
	})
	if err := d.done("TranscriptionInfo", info.problems()); err != nil {
		return TranscriptionInfo{}, err
	}
	return info, nil
}

// Validate checks info against its field rules, nested records included.
func (info TranscriptionInfo) Validate() error {
	return newValidationError("TranscriptionInfo", info.problems())
}

func (info TranscriptionInfo) problems() []FieldError {
	out := checkStruct(info)
	return append(out, prefixed("transcription_options", info.TranscriptionOptions.rules())...)
}

// ToMap returns info as a plain mapping with nested records flattened.
func (info TranscriptionInfo) ToMap() map[string]any {
	var probs any
	if info.AllLanguageProbs != nil {
		list := make([]any, 0, len(info.AllLanguageProbs))
		for _, p := range info.AllLanguageProbs {
			list = append(list, p.plain())
		}
		probs = list
	}
	var vad any
	if info.VADOptions != nil {
		vad = info.VADOptions.ToMap()
	}
	return map[string]any{
		"language":              info.Language,
		"language_probability":  info.LanguageProbability,
		"duration":              info.Duration,
		"duration_after_vad":    info.DurationAfterVAD,
		"all_language_probs":    probs,
		"transcription_options": info.TranscriptionOptions.ToMap(),
		"vad_options":           vad,
	}
}

func (info TranscriptionInfo) MarshalJSON() ([]byte, error) { return marshalRecord(info) }

func (info *TranscriptionInfo) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewTranscriptionInfo, info)
}

// Transcription is the validated result of one run.
type Transcription struct {
	Segments []Segment         `json:"segments"`
	Info     TranscriptionInfo `json:"info"`
}

// NewTranscription builds a result from its plain mapping.
func NewTranscription(m map[string]any) (Transcription, error) {
	var t Transcription
	d := newDecoder(m)
	d.require("segments", "info")
	d.with("segments", false, func(v any) (err error) {
		t.Segments, err = decodeRecords(v, "Segment", NewSegment)
		return err
	})
	d.with("info", false, func(v any) error {
		im, err := asMap(v)
		if err != nil {
			return err
		}
		t.Info, err = NewTranscriptionInfo(im)
		return err
	})
	if err := d.done("Transcription", nil); err != nil {
		return Transcription{}, err
	}
	return t, nil
}

// Text joins the segment texts in order.
func (t Transcription) Text() string {
	var b strings.Builder
	for _, s := range t.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// ToMap returns t as a plain mapping.
func (t Transcription) ToMap() map[string]any {
	segments := make([]any, 0, len(t.Segments))
	for _, s := range t.Segments {
		segments = append(segments, s.ToMap())
	}
	return map[string]any{
		"segments": segments,
		"info":     t.Info.ToMap(),
	}
}

func (t Transcription) MarshalJSON() ([]byte, error) { return marshalRecord(t) }

func (t *Transcription) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewTranscription, t)
}

// decodeRecords builds a list of records, collecting the failures of every
// element under its index.
func decodeRecords[T any](v any, entity string, build func(map[string]any) (T, error)) ([]T, error) {
	if v == nil {
		return nil, nil
	}
	items, err := asList(v)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	var fields []FieldError
	for i, item := range items {
		at := fmt.Sprintf("[%d]", i)
		m, err := asMap(item)
		if err != nil {
			fields = append(fields, FieldError{Field: at, Reason: err.Error()})
			continue
		}
		r, err := build(m)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return nil, err
			}
			fields = append(fields, prefixed(at, verr.Fields)...)
			continue
		}
		out = append(out, r)
	}
	return out, newValidationError(entity, fields)
}
