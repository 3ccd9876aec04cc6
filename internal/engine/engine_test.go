package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/convert"
	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

func mockConfig() config.EngineConfig {
	return config.EngineConfig{Mode: "mock", SampleRate: 16000, Channels: 1}
}

// seconds of silent 16 kHz mono PCM.
func silence(seconds int) []byte {
	return make([]byte, seconds*16000*2)
}

func TestMockTranscribe(t *testing.T) {
	e := NewMock(mockConfig())
	opts := schema.DefaultWhisperOptions()
	opts.WordTimestamps = true
	got, err := Transcribe(context.Background(), e, Request{Audio: Audio{PCM: silence(12)}, Options: opts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(got.Segments))
	}
	if got.Segments[2].End != 12 || len(got.Segments[0].Words) != 1 {
		t.Fatalf("unexpected segments %+v", got.Segments)
	}
	if got.Info.Language != "en" || got.Info.Duration != 12 {
		t.Fatalf("unexpected info %+v", got.Info)
	}
	if got.Info.VADOptions != nil {
		t.Fatal("vad options must be nil without vad_filter")
	}
	if got.Info.TranscriptionOptions.BeamSize != opts.BeamSize {
		t.Fatalf("effective options lost beam size: %d", got.Info.TranscriptionOptions.BeamSize)
	}
}

func TestMockBatchedReportsVADOptions(t *testing.T) {
	e := NewMock(mockConfig())
	opts := schema.DefaultWhisperBatchOptions()
	opts.Language = schema.Ptr("de")
	got, err := Transcribe(context.Background(), e, Request{Audio: Audio{PCM: silence(3)}, Options: opts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Info.VADOptions == nil || got.Info.VADOptions.SpeechPadMs != 400 {
		t.Fatalf("expected default vad options, got %+v", got.Info.VADOptions)
	}
	if got.Info.Language != "de" {
		t.Fatalf("expected requested language, got %q", got.Info.Language)
	}
	if !got.Info.TranscriptionOptions.WithoutTimestamps {
		t.Fatal("expected batched without_timestamps echoed")
	}
}

func TestMockInfoSettlesAfterSegments(t *testing.T) {
	e := NewMock(mockConfig())
	run, err := e.Transcribe(context.Background(), Request{Audio: Audio{PCM: silence(1)}, Options: schema.DefaultWhisperOptions()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer run.Close()
	if _, ok := run.Info.Attr("language"); ok {
		t.Fatal("language must not be known before the stream is drained")
	}
	for _, err := range run.Segments {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
	}
	if lang, ok := run.Info.Attr("language"); !ok || lang != "en" {
		t.Fatalf("expected language after drain, got %v", lang)
	}
}

func TestStreamIsSinglePass(t *testing.T) {
	e := NewMock(mockConfig())
	run, err := e.Transcribe(context.Background(), Request{Audio: Audio{PCM: silence(1)}, Options: schema.DefaultWhisperOptions()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer run.Close()
	for range run.Segments {
	}
	for _, err := range run.Segments {
		if !errors.Is(err, ErrConsumed) {
			t.Fatalf("expected consumed error, got %v", err)
		}
	}
}

func TestTranscribeRejectsInvalidOptions(t *testing.T) {
	opts := schema.DefaultWhisperOptions()
	opts.BeamSize = 0
	_, err := Transcribe(context.Background(), NewMock(mockConfig()), Request{Options: opts})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) || !verr.Has("beam_size") {
		t.Fatalf("expected beam_size error, got %v", err)
	}
}

func TestMockReadsWavDuration(t *testing.T) {
	path, err := tempWav(silence(7), 16000, 1)
	if err != nil {
		t.Fatalf("write wav: %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })
	got, err := Transcribe(context.Background(), NewMock(mockConfig()), Request{Audio: Audio{Path: path}, Options: schema.DefaultWhisperOptions()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Info.Duration != 7 || len(got.Segments) != 2 {
		t.Fatalf("unexpected result: duration %v, %d segments", got.Info.Duration, len(got.Segments))
	}
}

func TestWavDurationCountsPCMOnly(t *testing.T) {
	pcm := silence(3)
	path, err := tempWav(pcm, 16000, 2)
	if err != nil {
		t.Fatalf("write wav: %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })
	got, err := wavDuration(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := pcmDuration(pcm, 16000, 2); got != want || got != 1500*time.Millisecond {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(config.EngineConfig{Mode: "cloud"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecParsesHelperTranscript(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	transcript := filepath.Join(dir, "out.jsonl")
	writeTranscript(t, transcript)
	jobPath := filepath.Join(dir, "job.json")

	e, err := NewExec(config.EngineConfig{
		Mode:       "exec",
		Command:    "sh -c 'cat > " + jobPath + "; cat " + transcript + "'",
		Model:      "tiny",
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	opts := schema.DefaultWhisperOptions()
	opts.Language = schema.Ptr("en")
	got, err := Transcribe(context.Background(), e, Request{Audio: Audio{PCM: silence(1)}, Options: opts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Segments) != 2 || got.Segments[1].Text != " second" {
		t.Fatalf("unexpected segments %+v", got.Segments)
	}
	if got.Info.Language != "en" {
		t.Fatalf("expected info from last line, got %+v", got.Info)
	}

	data, err := os.ReadFile(jobPath)
	if err != nil {
		t.Fatalf("read job: %v", err)
	}
	var job struct {
		Batched bool           `json:"batched"`
		Audio   string         `json:"audio"`
		Model   string         `json:"model"`
		Options map[string]any `json:"options"`
	}
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Batched || job.Model != "tiny" || !strings.HasSuffix(job.Audio, ".wav") {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Options["language"] != "en" || job.Options["beam_size"] != 5.0 {
		t.Fatalf("unexpected job options %v", job.Options)
	}
}

func TestExecReportsHelperFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	failure := filepath.Join(t.TempDir(), "failure.jsonl")
	if err := os.WriteFile(failure, []byte(`{"error": "model not found"}`+"\n"), 0o600); err != nil {
		t.Fatalf("write failure line: %v", err)
	}
	e, err := NewExec(config.EngineConfig{Mode: "exec", Command: "sh -c 'cat > /dev/null; cat " + failure + "'", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	_, err = Transcribe(context.Background(), e, Request{Audio: Audio{PCM: silence(1)}, Options: schema.DefaultWhisperOptions()})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected helper error, got %v", err)
	}
}

func TestReadLinesRecordsInfo(t *testing.T) {
	input := `{"segment": {"id": 0}}

{"info": {"language": "sv"}}
`
	info := &lateInfo{}
	var seen int
	stopped, err := readLines(strings.NewReader(input), info, func(convert.Object, error) bool {
		seen++
		return true
	})
	if err != nil || stopped {
		t.Fatalf("unexpected result stopped=%v err=%v", stopped, err)
	}
	if seen != 1 {
		t.Fatalf("expected 1 segment, got %d", seen)
	}
	if lang, _ := info.Attr("language"); lang != "sv" {
		t.Fatalf("expected info recorded, got %v", lang)
	}
}

func writeTranscript(t *testing.T, path string) {
	t.Helper()
	effective, _ := effectiveOptions(schema.DefaultWhisperOptions().ToMap())
	lines := []map[string]any{
		{"segment": segmentLine(0, " first")},
		{"segment": segmentLine(1, " second")},
		{"info": map[string]any{
			"language":              "en",
			"language_probability":  0.99,
			"duration":              1.0,
			"duration_after_vad":    1.0,
			"all_language_probs":    nil,
			"transcription_options": effective,
			"vad_options":           nil,
		}},
	}
	var b strings.Builder
	for _, line := range lines {
		data, err := json.Marshal(line)
		if err != nil {
			t.Fatalf("marshal line: %v", err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
}

func segmentLine(id int, text string) map[string]any {
	return map[string]any{
		"id": id, "seek": 0, "start": float64(id) * 0.5, "end": float64(id)*0.5 + 0.5,
		"text": text, "tokens": []int{50364, 400 + id},
		"avg_logprob": -0.2, "compression_ratio": 1.0, "no_speech_prob": 0.05,
		"words": nil, "temperature": 0.0,
	}
}

func TestReadOutputReplaysTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	writeTranscript(t, path)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	defer f.Close()

	run := ReadOutput(f)
	got, err := convert.RunOutput(run.Segments, run.Info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text() != " first second" {
		t.Fatalf("unexpected text %q", got.Text())
	}
}

func TestReadOutputMissingInfo(t *testing.T) {
	run := ReadOutput(strings.NewReader(`{"segment": {"id": 0}}` + "\n"))
	_, err := convert.RunOutput(run.Segments, run.Info)
	if err == nil {
		t.Fatal("expected error for incomplete output")
	}
}
