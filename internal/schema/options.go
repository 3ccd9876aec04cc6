package schema

// Task selects between transcription and translation to English.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

const (
	defaultPrependPunctuations = "\"'“¿([{-"
	defaultAppendPunctuations  = "\"'.。,，!！?？:：”)]}、"
)

// BaseOptions is the configuration shared by every transcription call.
// Pointer fields are nullable; nil disables the threshold or leaves the
// choice to the engine.
type BaseOptions struct {
	Task                      Task          `json:"task" validate:"oneof=transcribe translate"`
	Language                  *string       `json:"language"`
	BeamSize                  int           `json:"beam_size" validate:"gte=1"`
	BestOf                    int           `json:"best_of" validate:"gte=1"`
	Patience                  float64       `json:"patience" validate:"gt=0"`
	LengthPenalty             float64       `json:"length_penalty"`
	RepetitionPenalty         float64       `json:"repetition_penalty" validate:"gt=0"`
	NoRepeatNgramSize         int           `json:"no_repeat_ngram_size" validate:"gte=0"`
	Temperature               Temperature   `json:"temperature"`
	CompressionRatioThreshold *float64      `json:"compression_ratio_threshold"`
	LogProbThreshold          *float64      `json:"log_prob_threshold"`
	NoSpeechThreshold         *float64      `json:"no_speech_threshold" validate:"omitempty,gte=0,lte=1"`
	InitialPrompt             Prompt        `json:"initial_prompt"`
	Prefix                    *string       `json:"prefix"`
	SuppressBlank             bool          `json:"suppress_blank"`
	// SuppressTokens: nil uses the engine default, [-1] suppresses only the
	// end-of-text token set, an empty slice suppresses nothing.
	SuppressTokens      []int         `json:"suppress_tokens"`
	WordTimestamps      bool          `json:"word_timestamps"`
	PrependPunctuations string        `json:"prepend_punctuations"`
	AppendPunctuations  string        `json:"append_punctuations"`
	VADParameters       VADParameters `json:"vad_parameters"`
	MaxNewTokens        *int          `json:"max_new_tokens" validate:"omitempty,gt=0"`
	ChunkLength         *int          `json:"chunk_length" validate:"omitempty,gt=0"`
	Hotwords            *string       `json:"hotwords"`
}

func defaultBase() BaseOptions {
	return BaseOptions{
		Task:                      TaskTranscribe,
		BeamSize:                  5,
		BestOf:                    5,
		Patience:                  1,
		LengthPenalty:             1,
		RepetitionPenalty:         1,
		Temperature:               defaultTemperature(),
		CompressionRatioThreshold: Ptr(2.4),
		LogProbThreshold:          Ptr(-1.0),
		NoSpeechThreshold:         Ptr(0.6),
		SuppressBlank:             true,
		SuppressTokens:            []int{-1},
		PrependPunctuations:       defaultPrependPunctuations,
		AppendPunctuations:        defaultAppendPunctuations,
	}
}

func (b *BaseOptions) decode(d *decoder) {
	d.string("task", (*string)(&b.Task))
	d.stringPtr("language", &b.Language)
	d.int("beam_size", &b.BeamSize)
	d.int("best_of", &b.BestOf)
	d.float("patience", &b.Patience)
	d.float("length_penalty", &b.LengthPenalty)
	d.float("repetition_penalty", &b.RepetitionPenalty)
	d.int("no_repeat_ngram_size", &b.NoRepeatNgramSize)
	d.with("temperature", false, func(v any) (err error) {
		b.Temperature, err = decodeTemperature(v)
		return err
	})
	d.floatPtr("compression_ratio_threshold", &b.CompressionRatioThreshold)
	d.floatPtr("log_prob_threshold", &b.LogProbThreshold)
	d.floatPtr("no_speech_threshold", &b.NoSpeechThreshold)
	d.with("initial_prompt", true, func(v any) (err error) {
		b.InitialPrompt, err = decodePrompt(v)
		return err
	})
	d.stringPtr("prefix", &b.Prefix)
	d.bool("suppress_blank", &b.SuppressBlank)
	d.ints("suppress_tokens", &b.SuppressTokens, true)
	d.bool("word_timestamps", &b.WordTimestamps)
	d.string("prepend_punctuations", &b.PrependPunctuations)
	d.string("append_punctuations", &b.AppendPunctuations)
	d.with("vad_parameters", true, func(v any) (err error) {
		b.VADParameters, err = decodeVADParameters(v)
		return err
	})
	d.intPtr("max_new_tokens", &b.MaxNewTokens)
	d.intPtr("chunk_length", &b.ChunkLength)
	d.stringPtr("hotwords", &b.Hotwords)
}

// rules covers the union fields, which carry no struct tags.
func (b BaseOptions) rules() []FieldError {
	out := b.Temperature.rules("temperature")
	return append(out, b.VADParameters.rules("vad_parameters")...)
}

func (b BaseOptions) put(m map[string]any) {
	m["task"] = string(b.Task)
	m["language"] = nullable(b.Language)
	m["beam_size"] = b.BeamSize
	m["best_of"] = b.BestOf
	m["patience"] = b.Patience
	m["length_penalty"] = b.LengthPenalty
	m["repetition_penalty"] = b.RepetitionPenalty
	m["no_repeat_ngram_size"] = b.NoRepeatNgramSize
	m["temperature"] = b.Temperature.plain()
	m["compression_ratio_threshold"] = nullable(b.CompressionRatioThreshold)
	m["log_prob_threshold"] = nullable(b.LogProbThreshold)
	m["no_speech_threshold"] = nullable(b.NoSpeechThreshold)
	m["initial_prompt"] = b.InitialPrompt.plain()
	m["prefix"] = nullable(b.Prefix)
	m["suppress_blank"] = b.SuppressBlank
	m["suppress_tokens"] = intsOrNil(b.SuppressTokens)
	m["word_timestamps"] = b.WordTimestamps
	m["prepend_punctuations"] = b.PrependPunctuations
	m["append_punctuations"] = b.AppendPunctuations
	m["vad_parameters"] = b.VADParameters.plain()
	m["max_new_tokens"] = nullable(b.MaxNewTokens)
	m["chunk_length"] = nullable(b.ChunkLength)
	m["hotwords"] = nullable(b.Hotwords)
}

// TranscriptionOptions are the effective options the engine reports after a
// run. Unlike the request presets every run-specific field is required.
type TranscriptionOptions struct {
	BaseOptions
	ConditionOnPreviousText       bool           `json:"condition_on_previous_text"`
	PromptResetOnTemperature      float64        `json:"prompt_reset_on_temperature" validate:"gte=0,lte=1"`
	Temperatures                  []float64      `json:"temperatures" validate:"dive,gte=0"`
	WithoutTimestamps             bool           `json:"without_timestamps"`
	MaxInitialTimestamp           float64        `json:"max_initial_timestamp" validate:"gte=0"`
	Multilingual                  bool           `json:"multilingual"`
	ClipTimestamps                ClipTimestamps `json:"clip_timestamps"`
	HallucinationSilenceThreshold *float64       `json:"hallucination_silence_threshold" validate:"omitempty,gte=0"`
}

// NewTranscriptionOptions builds effective options from a plain mapping.
func NewTranscriptionOptions(m map[string]any) (TranscriptionOptions, error) {
	o := TranscriptionOptions{BaseOptions: defaultBase()}
	d := newDecoder(m)
	d.require(
		"condition_on_previous_text",
		"prompt_reset_on_temperature",
		"temperatures",
		"without_timestamps",
		"max_initial_timestamp",
		"multilingual",
		"hallucination_silence_threshold",
	)
	o.BaseOptions.decode(d)
	d.bool("condition_on_previous_text", &o.ConditionOnPreviousText)
	d.float("prompt_reset_on_temperature", &o.PromptResetOnTemperature)
	d.floats("temperatures", &o.Temperatures)
	d.bool("without_timestamps", &o.WithoutTimestamps)
	d.float("max_initial_timestamp", &o.MaxInitialTimestamp)
	d.bool("multilingual", &o.Multilingual)
	d.with("clip_timestamps", true, func(v any) (err error) {
		o.ClipTimestamps, err = decodeClip(v, clipRanges)
		return err
	})
	d.floatPtr("hallucination_silence_threshold", &o.HallucinationSilenceThreshold)
	if err := d.done("TranscriptionOptions", o.problems()); err != nil {
		return TranscriptionOptions{}, err
	}
	return o, nil
}

// Validate checks o against its field rules.
func (o TranscriptionOptions) Validate() error {
	return newValidationError("TranscriptionOptions", o.problems())
}

func (o TranscriptionOptions) problems() []FieldError {
	return append(checkStruct(o), o.rules()...)
}

func (o TranscriptionOptions) rules() []FieldError {
	out := o.BaseOptions.rules()
	if o.Temperatures == nil {
		out = append(out, FieldError{Field: "temperatures", Reason: ReasonRequired})
	}
	return append(out, o.ClipTimestamps.rules("clip_timestamps", clipText, clipRanges, clipSeconds, clipNone)...)
}

// ToMap returns o as a plain mapping.
func (o TranscriptionOptions) ToMap() map[string]any {
	m := make(map[string]any, 31)
	o.BaseOptions.put(m)
	m["condition_on_previous_text"] = o.ConditionOnPreviousText
	m["prompt_reset_on_temperature"] = o.PromptResetOnTemperature
	m["temperatures"] = append(make([]float64, 0, len(o.Temperatures)), o.Temperatures...)
	m["without_timestamps"] = o.WithoutTimestamps
	m["max_initial_timestamp"] = o.MaxInitialTimestamp
	m["multilingual"] = o.Multilingual
	m["clip_timestamps"] = o.ClipTimestamps.plain()
	m["hallucination_silence_threshold"] = nullable(o.HallucinationSilenceThreshold)
	return m
}

func (o TranscriptionOptions) MarshalJSON() ([]byte, error) { return marshalRecord(o) }

func (o *TranscriptionOptions) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewTranscriptionOptions, o)
}

// WhisperOptions is the request preset for single-pass transcription.
type WhisperOptions struct {
	BaseOptions
	ConditionOnPreviousText       bool           `json:"condition_on_previous_text"`
	PromptResetOnTemperature      float64        `json:"prompt_reset_on_temperature" validate:"gte=0,lte=1"`
	WithoutTimestamps             bool           `json:"without_timestamps"`
	MaxInitialTimestamp           float64        `json:"max_initial_timestamp" validate:"gte=0"`
	Multilingual                  bool           `json:"multilingual"`
	VADFilter                     bool           `json:"vad_filter"`
	ClipTimestamps                ClipTimestamps `json:"clip_timestamps"`
	HallucinationSilenceThreshold *float64       `json:"hallucination_silence_threshold" validate:"omitempty,gte=0"`
	LanguageDetectionThreshold    *float64       `json:"language_detection_threshold" validate:"omitempty,gte=0,lte=1"`
	LanguageDetectionSegments     int            `json:"language_detection_segments" validate:"gte=1"`
}

// DefaultWhisperOptions returns the single-pass defaults.
func DefaultWhisperOptions() WhisperOptions {
	return WhisperOptions{
		BaseOptions:               defaultBase(),
		ConditionOnPreviousText:   true,
		PromptResetOnTemperature:  0.5,
		MaxInitialTimestamp:       1.0,
		ClipTimestamps:            ClipText("0"),
		LanguageDetectionSegments: 1,
	}
}

// NewWhisperOptions builds a single-pass preset from a plain mapping; omitted
// keys take their defaults.
func NewWhisperOptions(m map[string]any) (WhisperOptions, error) {
	o := DefaultWhisperOptions()
	d := newDecoder(m)
	o.BaseOptions.decode(d)
	d.bool("condition_on_previous_text", &o.ConditionOnPreviousText)
	d.float("prompt_reset_on_temperature", &o.PromptResetOnTemperature)
	d.bool("without_timestamps", &o.WithoutTimestamps)
	d.float("max_initial_timestamp", &o.MaxInitialTimestamp)
	d.bool("multilingual", &o.Multilingual)
	d.bool("vad_filter", &o.VADFilter)
	d.with("clip_timestamps", false, func(v any) (err error) {
		o.ClipTimestamps, err = decodeClip(v, clipSeconds)
		return err
	})
	d.floatPtr("hallucination_silence_threshold", &o.HallucinationSilenceThreshold)
	d.floatPtr("language_detection_threshold", &o.LanguageDetectionThreshold)
	d.int("language_detection_segments", &o.LanguageDetectionSegments)
	if err := d.done("WhisperOptions", o.problems()); err != nil {
		return WhisperOptions{}, err
	}
	return o, nil
}

// Validate checks o against its field rules.
func (o WhisperOptions) Validate() error {
	return newValidationError("WhisperOptions", o.problems())
}

func (o WhisperOptions) problems() []FieldError {
	out := append(checkStruct(o), o.BaseOptions.rules()...)
	return append(out, o.ClipTimestamps.rules("clip_timestamps", clipText, clipSeconds)...)
}

// Batched implements Request.
func (WhisperOptions) Batched() bool { return false }

// ToMap returns o as engine keyword arguments.
func (o WhisperOptions) ToMap() map[string]any {
	m := make(map[string]any, 33)
	o.BaseOptions.put(m)
	m["condition_on_previous_text"] = o.ConditionOnPreviousText
	m["prompt_reset_on_temperature"] = o.PromptResetOnTemperature
	m["without_timestamps"] = o.WithoutTimestamps
	m["max_initial_timestamp"] = o.MaxInitialTimestamp
	m["multilingual"] = o.Multilingual
	m["vad_filter"] = o.VADFilter
	m["clip_timestamps"] = o.ClipTimestamps.plain()
	m["hallucination_silence_threshold"] = nullable(o.HallucinationSilenceThreshold)
	m["language_detection_threshold"] = nullable(o.LanguageDetectionThreshold)
	m["language_detection_segments"] = o.LanguageDetectionSegments
	return m
}

func (o WhisperOptions) MarshalJSON() ([]byte, error) { return marshalRecord(o) }

func (o *WhisperOptions) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewWhisperOptions, o)
}

// WhisperBatchOptions is the request preset for the batched pipeline.
type WhisperBatchOptions struct {
	BaseOptions
	LogProgress       bool           `json:"log_progress"`
	WithoutTimestamps bool           `json:"without_timestamps"`
	VADFilter         bool           `json:"vad_filter"`
	ClipTimestamps    ClipTimestamps `json:"clip_timestamps"`
	BatchSize         int            `json:"batch_size" validate:"gte=1"`
}

// DefaultWhisperBatchOptions returns the batched defaults: voice filtering on,
// timestamps off.
func DefaultWhisperBatchOptions() WhisperBatchOptions {
	return WhisperBatchOptions{
		BaseOptions:       defaultBase(),
		WithoutTimestamps: true,
		VADFilter:         true,
		BatchSize:         16,
	}
}

// NewWhisperBatchOptions builds a batched preset from a plain mapping.
func NewWhisperBatchOptions(m map[string]any) (WhisperBatchOptions, error) {
	o := DefaultWhisperBatchOptions()
	d := newDecoder(m)
	o.BaseOptions.decode(d)
	d.bool("log_progress", &o.LogProgress)
	d.bool("without_timestamps", &o.WithoutTimestamps)
	d.bool("vad_filter", &o.VADFilter)
	d.with("clip_timestamps", true, func(v any) (err error) {
		o.ClipTimestamps, err = decodeClip(v, clipRanges)
		return err
	})
	d.int("batch_size", &o.BatchSize)
	if err := d.done("WhisperBatchOptions", o.problems()); err != nil {
		return WhisperBatchOptions{}, err
	}
	return o, nil
}

// Validate checks o against its field rules.
func (o WhisperBatchOptions) Validate() error {
	return newValidationError("WhisperBatchOptions", o.problems())
}

func (o WhisperBatchOptions) problems() []FieldError {
	out := append(checkStruct(o), o.BaseOptions.rules()...)
	return append(out, o.ClipTimestamps.rules("clip_timestamps", clipRanges, clipNone)...)
}

// Batched implements Request.
func (WhisperBatchOptions) Batched() bool { return true }

// ToMap returns o as engine keyword arguments.
func (o WhisperBatchOptions) ToMap() map[string]any {
	m := make(map[string]any, 28)
	o.BaseOptions.put(m)
	m["log_progress"] = o.LogProgress
	m["without_timestamps"] = o.WithoutTimestamps
	m["vad_filter"] = o.VADFilter
	m["clip_timestamps"] = o.ClipTimestamps.plain()
	m["batch_size"] = o.BatchSize
	return m
}

func (o WhisperBatchOptions) MarshalJSON() ([]byte, error) { return marshalRecord(o) }

func (o *WhisperBatchOptions) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewWhisperBatchOptions, o)
}
