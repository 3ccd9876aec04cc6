package schema

import "math"

// offsetBelowOnset is how far the speech-end threshold sits below the
// speech-start threshold when no offset is given.
const offsetBelowOnset = 0.15

// VADOptions holds the voice-activity filter thresholds.
type VADOptions struct {
	Onset                float64 `json:"onset" validate:"gte=0,lte=1"`
	Offset               float64 `json:"offset"`
	MinSpeechDurationMs  int     `json:"min_speech_duration_ms" validate:"gte=0"`
	MaxSpeechDurationS   float64 `json:"max_speech_duration_s" validate:"gt=0" schema:"unbounded"`
	MinSilenceDurationMs int     `json:"min_silence_duration_ms" validate:"gte=0"`
	SpeechPadMs          int     `json:"speech_pad_ms" validate:"gte=0"`
}

// DefaultVADOptions returns the default thresholds. MaxSpeechDurationS is
// unbounded.
func DefaultVADOptions() VADOptions {
	onset := 0.5
	return VADOptions{
		Onset:                onset,
		Offset:               offsetFor(onset),
		MaxSpeechDurationS:   math.Inf(1),
		MinSilenceDurationMs: 2000,
		SpeechPadMs:          400,
	}
}

// NewVADOptions builds options from a plain mapping. Without an explicit
// offset it is derived from the onset in effect, supplied or default.
func NewVADOptions(m map[string]any) (VADOptions, error) {
	o := DefaultVADOptions()
	d := newDecoder(m)
	d.float("onset", &o.Onset)
	o.Offset = offsetFor(o.Onset)
	d.float("offset", &o.Offset)
	d.int("min_speech_duration_ms", &o.MinSpeechDurationMs)
	d.limit("max_speech_duration_s", &o.MaxSpeechDurationS)
	d.int("min_silence_duration_ms", &o.MinSilenceDurationMs)
	d.int("speech_pad_ms", &o.SpeechPadMs)
	if err := d.done("VADOptions", o.problems()); err != nil {
		return VADOptions{}, err
	}
	return o, nil
}

// offsetFor runs at call time so the default and decoded paths round the
// same way.
func offsetFor(onset float64) float64 {
	return onset - offsetBelowOnset
}

// Validate checks o against its field rules.
func (o VADOptions) Validate() error {
	return newValidationError("VADOptions", o.problems())
}

func (o VADOptions) problems() []FieldError {
	return checkStruct(o)
}

// ToMap returns o as engine keyword arguments.
func (o VADOptions) ToMap() map[string]any {
	return map[string]any{
		"onset":                   o.Onset,
		"offset":                  o.Offset,
		"min_speech_duration_ms":  o.MinSpeechDurationMs,
		"max_speech_duration_s":   o.MaxSpeechDurationS,
		"min_silence_duration_ms": o.MinSilenceDurationMs,
		"speech_pad_ms":           o.SpeechPadMs,
	}
}

func (o VADOptions) MarshalJSON() ([]byte, error) { return marshalRecord(o) }

func (o *VADOptions) UnmarshalJSON(data []byte) error {
	return unmarshalRecord(data, NewVADOptions, o)
}
