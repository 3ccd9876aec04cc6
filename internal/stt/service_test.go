package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-fwtypes/internal/bus"
	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/engine"
	"github.com/loqalabs/loqa-fwtypes/internal/eventstore"
	"github.com/loqalabs/loqa-fwtypes/internal/natsserver"
	"github.com/loqalabs/loqa-fwtypes/internal/profile"
	"github.com/loqalabs/loqa-fwtypes/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sttConfig() config.STTConfig {
	return config.STTConfig{
		Enabled:        true,
		DefaultProfile: profile.DefaultName,
		TimeoutMS:      5000,
		MaxConcurrency: 2,
		JournalDrift:   true,
	}
}

func newJournal(t *testing.T) *eventstore.Store {
	t.Helper()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "session"}
	store, err := eventstore.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newService(t *testing.T, busClient *bus.Client, journal *eventstore.Store) *Service {
	t.Helper()
	eng := engine.NewMock(config.EngineConfig{Mode: "mock", SampleRate: 16000, Channels: 1})
	svc := NewService(context.Background(), sttConfig(), busClient, profile.Builtin(), eng, journal, newLogger())
	t.Cleanup(svc.Close)
	return svc
}

// seconds of silent 16 kHz mono PCM.
func silence(seconds int) []byte {
	return make([]byte, seconds*16000*2)
}

func eventTypes(t *testing.T, journal *eventstore.Store, runID string) []string {
	t.Helper()
	events, err := journal.ListRunEvents(context.Background(), runID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestHandleTranscribesWithOverrides(t *testing.T) {
	journal := newJournal(t)
	svc := newService(t, nil, journal)

	result, err := svc.Handle(context.Background(), protocol.TranscribeRequest{
		RequestID: "req-1",
		SessionID: "kitchen",
		Overrides: map[string]any{"language": "zh"},
		PCM:       silence(6),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Profile != profile.DefaultName || result.RunID == "" {
		t.Fatalf("unexpected result header %+v", result)
	}
	if len(result.Transcription.Segments) != 2 || result.Transcription.Info.Language != "zh" {
		t.Fatalf("unexpected transcription %+v", result.Transcription)
	}
	if len(result.Drift) != 1 || result.Drift["language"] != "zh" {
		t.Fatalf("expected language drift only, got %v", result.Drift)
	}
	if result.Text != result.Transcription.Text() {
		t.Fatalf("text mismatch: %q", result.Text)
	}

	kinds := eventTypes(t, journal, result.RunID)
	want := []string{eventstore.EventRequested, eventstore.EventDrift, eventstore.EventCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, kinds)
		}
	}
	run, err := journal.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.ActorID != "kitchen" || run.Batched {
		t.Fatalf("unexpected run row %+v", run)
	}
}

func TestHandleWithoutDriftSkipsDriftEvent(t *testing.T) {
	journal := newJournal(t)
	svc := newService(t, nil, journal)

	result, err := svc.Handle(context.Background(), protocol.TranscribeRequest{Profile: profile.BatchName, PCM: silence(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Drift) != 0 {
		t.Fatalf("expected no drift, got %v", result.Drift)
	}
	if result.Transcription.Info.VADOptions == nil {
		t.Fatal("batched profile should report vad options")
	}
	kinds := eventTypes(t, journal, result.RunID)
	if len(kinds) != 2 || kinds[1] != eventstore.EventCompleted {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestHandleRejectsInvalidOverrides(t *testing.T) {
	journal := newJournal(t)
	svc := newService(t, nil, journal)

	_, err := svc.Handle(context.Background(), protocol.TranscribeRequest{
		Overrides: map[string]any{"beam_size": 0, "patience": -1},
		PCM:       silence(1),
	})
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.RunID == "" {
		t.Fatalf("expected request error with run id, got %v", err)
	}
	fields := FieldErrors(err)
	if len(fields) != 2 || fields[0].Field != "beam_size" || fields[1].Field != "patience" {
		t.Fatalf("expected beam_size and patience errors, got %+v", fields)
	}
	kinds := eventTypes(t, journal, rerr.RunID)
	if len(kinds) != 1 || kinds[0] != eventstore.EventFailed {
		t.Fatalf("expected failure journaled, got %v", kinds)
	}
}

func TestHandleUnknownProfile(t *testing.T) {
	svc := newService(t, nil, nil)
	_, err := svc.Handle(context.Background(), protocol.TranscribeRequest{Profile: "studio", PCM: silence(1)})
	if !errors.Is(err, profile.ErrUnknownProfile) {
		t.Fatalf("expected unknown profile error, got %v", err)
	}
}

func TestHandleRequiresAudio(t *testing.T) {
	svc := newService(t, nil, nil)
	_, err := svc.Handle(context.Background(), protocol.TranscribeRequest{RequestID: "empty"})
	var rerr *RequestError
	if !errors.As(err, &rerr) || rerr.RunID != "" || !errors.Is(err, errNoAudio) {
		t.Fatalf("expected audio error without run, got %v", err)
	}
	msg := errorMessage(protocol.TranscribeRequest{RequestID: "empty"}, err)
	if msg.RequestID != "empty" || msg.Fields != nil {
		t.Fatalf("unexpected error message %+v", msg)
	}
}

func TestStartRequiresBus(t *testing.T) {
	svc := newService(t, nil, nil)
	if err := svc.Start(); err == nil {
		t.Fatal("expected error without bus")
	}
	if svc.Healthy() {
		t.Fatal("service must not report healthy before start")
	}
}

func TestServiceAnswersOverBus(t *testing.T) {
	log := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), "fwtypes-test", config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	svc := newService(t, client, nil)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	errs, err := client.Conn().SubscribeSync(protocol.SubjectTranscribeError)
	if err != nil {
		t.Fatalf("subscribe errors: %v", err)
	}

	data, _ := json.Marshal(protocol.TranscribeRequest{RequestID: "bus-1", Overrides: map[string]any{"beam_size": 2}, PCM: silence(3)})
	reply, err := client.Conn().Request(protocol.SubjectTranscribeRequest, data, 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var result protocol.TranscribeResult
	if err := json.Unmarshal(reply.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.RequestID != "bus-1" || len(result.Transcription.Segments) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Transcription.Info.TranscriptionOptions.BeamSize != 2 {
		t.Fatalf("override not applied: %+v", result.Transcription.Info.TranscriptionOptions)
	}

	data, _ = json.Marshal(protocol.TranscribeRequest{RequestID: "bus-2", Overrides: map[string]any{"beam_size": 0}, PCM: silence(1)})
	if err := client.Conn().Publish(protocol.SubjectTranscribeRequest, data); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := errs.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("await error message: %v", err)
	}
	var failure protocol.TranscribeError
	if err := json.Unmarshal(msg.Data, &failure); err != nil {
		t.Fatalf("decode error message: %v", err)
	}
	if failure.RequestID != "bus-2" || len(failure.Fields) != 1 || failure.Fields[0].Field != "beam_size" {
		t.Fatalf("unexpected error message %+v", failure)
	}
}
