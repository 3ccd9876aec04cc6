package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/convert"
	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

const mockSegmentLength = 5 * time.Second

type mockEngine struct {
	cfg config.EngineConfig
}

// mockSegment mirrors the attribute layout of a native segment.
type mockSegment struct {
	ID               int        `json:"id"`
	Seek             int        `json:"seek"`
	Start            float64    `json:"start"`
	End              float64    `json:"end"`
	Text             string     `json:"text"`
	Tokens           []int      `json:"tokens"`
	AvgLogprob       float64    `json:"avg_logprob"`
	CompressionRatio float64    `json:"compression_ratio"`
	NoSpeechProb     float64    `json:"no_speech_prob"`
	Words            []mockWord `json:"words"`
	Temperature      float64    `json:"temperature"`
}

type mockWord struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

type mockInfo struct {
	Language             string         `json:"language"`
	LanguageProbability  float64        `json:"language_probability"`
	Duration             float64        `json:"duration"`
	DurationAfterVAD     float64        `json:"duration_after_vad"`
	AllLanguageProbs     [][2]any       `json:"all_language_probs"`
	TranscriptionOptions map[string]any `json:"transcription_options"`
	VADOptions           map[string]any `json:"vad_options"`
}

// NewMock returns an engine that produces one placeholder segment per five
// seconds of audio. Like the real engine it only settles the detected
// language once every segment has been produced.
func NewMock(cfg config.EngineConfig) Engine {
	return &mockEngine{cfg: cfg}
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) Transcribe(ctx context.Context, req Request) (*Run, error) {
	if req.Options == nil {
		return nil, errors.New("request options are required")
	}
	duration, err := m.duration(req.Audio)
	if err != nil {
		return nil, err
	}
	options := req.Options.ToMap()
	effective, vad := effectiveOptions(options)
	wordTimestamps, _ := options["word_timestamps"].(bool)
	temperature := 0.0
	if ts, ok := effective["temperatures"].([]float64); ok && len(ts) > 0 {
		temperature = ts[0]
	}

	seconds := duration.Seconds()
	info := &lateInfo{}
	segments := func(yield func(convert.Object, error) bool) {
		for i, start := 0, 0.0; start < seconds || i == 0; i, start = i+1, start+mockSegmentLength.Seconds() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			end := math.Min(start+mockSegmentLength.Seconds(), seconds)
			seg := mockSegment{
				ID:               i,
				Seek:             int(start * 100),
				Start:            start,
				End:              end,
				Text:             fmt.Sprintf(" [segment %d]", i),
				Tokens:           []int{50364, 1000 + i},
				AvgLogprob:       -0.25,
				CompressionRatio: 1.2,
				NoSpeechProb:     0.01,
				Temperature:      temperature,
			}
			if wordTimestamps {
				seg.Words = []mockWord{{Start: start, End: end, Word: fmt.Sprintf(" segment-%d", i), Probability: 0.9}}
			}
			if !yield(convert.Struct(seg), nil) {
				return
			}
			if seconds <= 0 {
				break
			}
		}
		language := "en"
		if lang, ok := options["language"].(string); ok && lang != "" {
			language = lang
		}
		info.set(convert.Struct(mockInfo{
			Language:             language,
			LanguageProbability:  0.97,
			Duration:             seconds,
			DurationAfterVAD:     seconds,
			AllLanguageProbs:     [][2]any{{language, 0.97}},
			TranscriptionOptions: effective,
			VADOptions:           vad,
		}))
	}
	return &Run{Segments: once(segments), Info: info}, nil
}

func (m *mockEngine) duration(a Audio) (time.Duration, error) {
	if a.Path != "" {
		return wavDuration(a.Path)
	}
	rate, channels := a.SampleRate, a.Channels
	if rate <= 0 {
		rate = m.cfg.SampleRate
	}
	if channels <= 0 {
		channels = m.cfg.Channels
	}
	return pcmDuration(a.PCM, rate, channels), nil
}

// requestOnly are preset keys the engine consumes without echoing them in
// its effective options.
var requestOnly = []string{
	"vad_filter",
	"language_detection_threshold",
	"language_detection_segments",
	"log_progress",
	"batch_size",
}

// effectiveOptions derives the options a run reports from the request
// mapping, and the VAD options in force when filtering is on.
func effectiveOptions(request map[string]any) (map[string]any, map[string]any) {
	out := maps.Clone(request)
	for _, key := range requestOnly {
		delete(out, key)
	}
	defaults := map[string]any{
		"condition_on_previous_text":      false,
		"prompt_reset_on_temperature":     0.5,
		"max_initial_timestamp":           0.0,
		"multilingual":                    false,
		"hallucination_silence_threshold": nil,
	}
	for key, v := range defaults {
		if _, ok := out[key]; !ok {
			out[key] = v
		}
	}
	switch t := request["temperature"].(type) {
	case float64:
		out["temperatures"] = []float64{t}
	case []float64:
		out["temperatures"] = t
	default:
		out["temperatures"] = []float64{}
	}

	filter, _ := request["vad_filter"].(bool)
	if !filter {
		return out, nil
	}
	if params, ok := request["vad_parameters"].(map[string]any); ok {
		return out, params
	}
	return out, schema.DefaultVADOptions().ToMap()
}
