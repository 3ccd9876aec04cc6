package protocol

import (
	"time"

	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

// TranscribeRequest asks the service to run a profile over one audio input.
// Either AudioPath or PCM must be set; PCM is 16-bit little-endian.
type TranscribeRequest struct {
	RequestID  string         `json:"request_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Profile    string         `json:"profile,omitempty"`
	Overrides  map[string]any `json:"overrides,omitempty"`
	AudioPath  string         `json:"audio_path,omitempty"`
	PCM        []byte         `json:"pcm,omitempty"`
	SampleRate int            `json:"sample_rate,omitempty"`
	Channels   int            `json:"channels,omitempty"`
}

// TranscribeResult carries a validated transcription back to the caller.
type TranscribeResult struct {
	RequestID     string               `json:"request_id"`
	RunID         string               `json:"run_id"`
	SessionID     string               `json:"session_id,omitempty"`
	Profile       string               `json:"profile"`
	Text          string               `json:"text"`
	Transcription schema.Transcription `json:"transcription"`
	Drift         map[string]any       `json:"drift,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
}

// TranscribeError reports a rejected or failed request. Fields is set when
// options or engine output failed validation.
type TranscribeError struct {
	RequestID string              `json:"request_id"`
	RunID     string              `json:"run_id,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	Error     string              `json:"error"`
	Fields    []schema.FieldError `json:"fields,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

const (
	SubjectTranscribeRequest = "stt.transcribe.request"
	SubjectTranscribeResult  = "stt.transcribe.result"
	SubjectTranscribeError   = "stt.transcribe.error"
)
