package convert

import (
	"errors"
	"iter"
	"reflect"
	"testing"

	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

type nativeWord struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

type nativeSegment struct {
	ID               int          `json:"id"`
	Seek             int          `json:"seek"`
	Start            float64      `json:"start"`
	End              float64      `json:"end"`
	Text             string       `json:"text"`
	Tokens           []int        `json:"tokens"`
	AvgLogprob       float64      `json:"avg_logprob"`
	CompressionRatio float64      `json:"compression_ratio"`
	NoSpeechProb     float64      `json:"no_speech_prob"`
	Words            []nativeWord `json:"words"`
	Temperature      float64      `json:"temperature"`
}

type nativeVAD struct {
	Onset                float64 `json:"onset"`
	Offset               float64 `json:"offset"`
	MinSpeechDurationMs  int     `json:"min_speech_duration_ms"`
	MaxSpeechDurationS   float64 `json:"max_speech_duration_s"`
	MinSilenceDurationMs int     `json:"min_silence_duration_ms"`
	SpeechPadMs          int     `json:"speech_pad_ms"`
}

func TestSegmentScenario(t *testing.T) {
	got, err := Segment(Struct(nativeSegment{
		ID:               3,
		Seek:             2490,
		Start:            10.7,
		End:              18.08,
		Text:             " we choose to go to the moon",
		Tokens:           []int{50899, 492},
		AvgLogprob:       -0.2645,
		CompressionRatio: 1.5979,
		NoSpeechProb:     0.0135,
		Temperature:      0.0,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := schema.Segment{
		ID:               3,
		Seek:             2490,
		Start:            10.7,
		End:              18.08,
		Text:             " we choose to go to the moon",
		Tokens:           []int{50899, 492},
		AvgLogprob:       -0.2645,
		CompressionRatio: 1.5979,
		NoSpeechProb:     0.0135,
		Temperature:      schema.Ptr(0.0),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if got.Words != nil {
		t.Fatalf("expected nil words, got %v", got.Words)
	}
}

func TestSegmentConvertsWordsInOrder(t *testing.T) {
	native := nativeSegment{
		Tokens: []int{1},
		Words: []nativeWord{
			{Start: 0, End: 0.3, Word: " one", Probability: 0.9},
			{Start: 0.3, End: 0.7, Word: " two", Probability: 0.8},
			{Start: 0.7, End: 1.1, Word: " three", Probability: 0.7},
		},
	}
	got, err := Segment(Struct(&native))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(got.Words))
	}
	for i, w := range native.Words {
		if got.Words[i] != (schema.Word{Start: w.Start, End: w.End, Word: w.Word, Probability: w.Probability}) {
			t.Fatalf("word %d: expected %+v, got %+v", i, w, got.Words[i])
		}
	}
}

func TestSegmentFromAttrs(t *testing.T) {
	got, err := Segment(Attrs{
		"id": 0, "seek": 0, "start": 0.0, "end": 1.0, "text": " hi",
		"tokens":      [3]int{1, 2, 3},
		"avg_logprob": -0.1, "compression_ratio": 1.0, "no_speech_prob": 0.0,
		"words": []Object{
			Attrs{"start": 0.0, "end": 1.0, "word": " hi", "probability": 0.5},
		},
		"extra_engine_field": "ignored",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Tokens, []int{1, 2, 3}) {
		t.Fatalf("expected tuple tokens as list, got %v", got.Tokens)
	}
	if *got.Temperature != 1.0 {
		t.Fatalf("expected default temperature, got %v", *got.Temperature)
	}
	if len(got.Words) != 1 || got.Words[0].Word != " hi" {
		t.Fatalf("unexpected words %+v", got.Words)
	}
}

func TestSegmentMissingAttributes(t *testing.T) {
	_, err := Segment(Attrs{"id": 1, "text": "x"})
	var cerr *ConversionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	if cerr.Entity != "Segment" {
		t.Fatalf("unexpected entity %q", cerr.Entity)
	}
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected wrapped validation error, got %v", err)
	}
	missing := cerr.Missing()
	if len(missing) == 0 || missing[len(missing)-1] != "words" {
		t.Fatalf("expected words among missing, got %v", missing)
	}
}

func TestSegmentInvalidWordNamesPath(t *testing.T) {
	native := nativeSegment{
		Tokens: []int{1},
		Words:  []nativeWord{{Start: 0, End: 1, Word: " x", Probability: 2}},
	}
	_, err := Segment(Struct(native))
	var cerr *ConversionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	fields := cerr.Fields()
	if len(fields) != 1 || fields[0].Field != "words[0].probability" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestTranscriptionInfoTupleSuppressTokens(t *testing.T) {
	opts := nativeOptions()
	opts["suppress_tokens"] = [2]int{1, 2}
	native := nativeInfo(opts)

	info, err := TranscriptionInfo(native)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(info.TranscriptionOptions.SuppressTokens, []int{1, 2}) {
		t.Fatalf("expected [1 2], got %v", info.TranscriptionOptions.SuppressTokens)
	}
}

func TestTranscriptionInfoNullVADOptions(t *testing.T) {
	info, err := TranscriptionInfo(nativeInfo(nativeOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.VADOptions != nil {
		t.Fatalf("expected nil vad options, got %+v", info.VADOptions)
	}
}

func TestTranscriptionInfoNestedVADOptions(t *testing.T) {
	native := nativeInfo(nativeOptions())
	native["vad_options"] = &nativeVAD{
		Onset:                0.5,
		Offset:               0.35,
		MaxSpeechDurationS:   30,
		MinSilenceDurationMs: 2000,
		SpeechPadMs:          400,
	}
	info, err := TranscriptionInfo(native)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.VADOptions == nil || info.VADOptions.MaxSpeechDurationS != 30 || info.VADOptions.Offset != 0.35 {
		t.Fatalf("unexpected vad options %+v", info.VADOptions)
	}
}

func TestTranscriptionInfoNestedFailureNamesLayer(t *testing.T) {
	opts := nativeOptions()
	delete(opts, "multilingual")
	native := nativeInfo(opts)
	native["vad_options"] = nativeVAD{Onset: 3}

	_, err := TranscriptionInfo(native)
	var cerr *ConversionError
	if !errors.As(err, &cerr) || cerr.Entity != "TranscriptionInfo" {
		t.Fatalf("expected info conversion error, got %v", err)
	}
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"transcription_options.multilingual", "vad_options.onset"} {
		if !verr.Has(field) {
			t.Errorf("expected %s in %v", field, err)
		}
	}
}

func TestRunOutputFinalizesInfoAfterSegments(t *testing.T) {
	run := &lazyRun{
		segments: []Object{segmentAttrs(0), segmentAttrs(1), segmentAttrs(2)},
		info:     nativeInfo(nativeOptions()),
	}
	got, err := RunOutput(run.stream(), run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.calls != 1 || run.pulled != 3 {
		t.Fatalf("expected one pass over 3 segments, got %d calls and %d pulls", run.calls, run.pulled)
	}
	if got.Info.Language != "fr" {
		t.Fatalf("expected post-exhaustion language, got %q", got.Info.Language)
	}
	for i, s := range got.Segments {
		if s.ID != i {
			t.Fatalf("segment %d out of order: id %d", i, s.ID)
		}
	}
}

func TestRunOutputEmptyStream(t *testing.T) {
	got, err := RunOutput(Objects[Object](), nativeInfo(nativeOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Segments == nil || len(got.Segments) != 0 {
		t.Fatalf("expected empty segment list, got %#v", got.Segments)
	}
}

func TestRunOutputNamesFailingSegment(t *testing.T) {
	bad := segmentAttrs(1)
	delete(bad, "tokens")
	_, err := RunOutput(Objects[Object](segmentAttrs(0), bad), nativeInfo(nativeOptions()))
	var cerr *ConversionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	if cerr.Path != "segments[1]" || !reflect.DeepEqual(cerr.Missing(), []string{"tokens"}) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRunOutputStreamError(t *testing.T) {
	boom := errors.New("engine crashed")
	stream := func(yield func(Object, error) bool) {
		if !yield(segmentAttrs(0), nil) {
			return
		}
		yield(nil, boom)
	}
	_, err := RunOutput(stream, nativeInfo(nativeOptions()))
	if !errors.Is(err, boom) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestObjectsAcceptsStructs(t *testing.T) {
	got, err := RunOutput(Objects(nativeSegment{ID: 7, Tokens: []int{}}), nativeInfo(nativeOptions()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Segments) != 1 || got.Segments[0].ID != 7 {
		t.Fatalf("unexpected segments %+v", got.Segments)
	}
}

func TestStructPromotesEmbeddedFields(t *testing.T) {
	type base struct {
		Task     string  `json:"task"`
		Language *string `json:"language"`
	}
	type options struct {
		base
		BeamSize int `json:"beam_size"`
		Skipped  int `json:"-"`
		Plain    int
	}
	lang := "en"
	obj := Struct(options{base: base{Task: "transcribe", Language: &lang}, BeamSize: 5})
	if v, ok := obj.Attr("language"); !ok || v != "en" {
		t.Fatalf("expected dereferenced language, got %#v", v)
	}
	if v, _ := obj.Attr("beam_size"); v != 5 {
		t.Fatalf("expected beam_size 5, got %#v", v)
	}
	if _, ok := obj.Attr("Skipped"); ok {
		t.Fatal("json:\"-\" field must be hidden")
	}
	if _, ok := obj.Attr("Plain"); !ok {
		t.Fatal("untagged field must use its Go name")
	}
}

type lazyRun struct {
	segments []Object
	info     Attrs
	language string
	calls    int
	pulled   int
}

func (r *lazyRun) stream() iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		r.calls++
		for _, s := range r.segments {
			r.pulled++
			if !yield(s, nil) {
				return
			}
		}
		r.language = "fr"
	}
}

func (r *lazyRun) Attr(name string) (any, bool) {
	if name == "language" {
		return r.language, true
	}
	return r.info.Attr(name)
}

func segmentAttrs(id int) Attrs {
	return Attrs{
		"id":                id,
		"seek":              id * 100,
		"start":             float64(id),
		"end":               float64(id) + 1,
		"text":              " segment",
		"tokens":            []int{50364, 1000 + id},
		"avg_logprob":       -0.3,
		"compression_ratio": 1.1,
		"no_speech_prob":    0.02,
		"words":             nil,
		"temperature":       0.0,
	}
}

func nativeOptions() Attrs {
	m := schema.DefaultWhisperOptions().ToMap()
	delete(m, "vad_filter")
	delete(m, "language_detection_threshold")
	delete(m, "language_detection_segments")
	m["temperatures"] = [6]float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0}
	return Attrs(m)
}

func nativeInfo(opts Attrs) Attrs {
	return Attrs{
		"language":              "en",
		"language_probability":  0.98,
		"duration":              12.0,
		"duration_after_vad":    12.0,
		"all_language_probs":    [][2]any{{"en", 0.98}, {"fr", 0.01}},
		"transcription_options": opts,
		"vad_options":           nil,
	}
}
