package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

const (
	EventRequested = "transcription.requested"
	EventCompleted = "transcription.completed"
	EventFailed    = "transcription.failed"
	EventDrift     = "options.drift"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// FailurePayload is the journal body of a failed run.
type FailurePayload struct {
	Error  string              `json:"error"`
	Fields []schema.FieldError `json:"fields,omitempty"`
}

// DriftPayload records how a request departed from its profile preset.
type DriftPayload struct {
	Profile string         `json:"profile"`
	Changes map[string]any `json:"changes"`
}

// RecordRequest opens a run and journals the validated request options.
func (s *Store) RecordRequest(ctx context.Context, run RunRecord, options schema.Request) error {
	if err := s.AppendRun(ctx, run); err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	payload, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return s.AppendEvent(ctx, Event{RunID: run.RunID, ActorID: run.ActorID, Type: EventRequested, Payload: payload})
}

// RecordDrift journals the keys a request changed relative to its profile.
// Nothing is written when the request matches the preset.
func (s *Store) RecordDrift(ctx context.Context, runID, profile string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	payload, err := json.Marshal(DriftPayload{Profile: profile, Changes: schema.JSONSafe(changes)})
	if err != nil {
		return fmt.Errorf("encode drift: %w", err)
	}
	return s.AppendEvent(ctx, Event{RunID: runID, Type: EventDrift, Payload: payload})
}

// RecordTranscription journals a completed run.
func (s *Store) RecordTranscription(ctx context.Context, runID string, t schema.Transcription) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transcription: %w", err)
	}
	return s.AppendEvent(ctx, Event{RunID: runID, Type: EventCompleted, Payload: payload})
}

// RecordFailure journals a failed run, keeping field errors when the
// failure was a validation error.
func (s *Store) RecordFailure(ctx context.Context, runID string, cause error) error {
	body := FailurePayload{Error: cause.Error()}
	var verr *schema.ValidationError
	if errors.As(cause, &verr) {
		body.Fields = verr.Fields
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	return s.AppendEvent(ctx, Event{RunID: runID, Type: EventFailed, Payload: payload})
}

// Transcription reads back the completed transcription of a run.
func (s *Store) Transcription(ctx context.Context, runID string) (schema.Transcription, error) {
	events, err := s.ListRunEvents(ctx, runID, 0)
	if err != nil {
		return schema.Transcription{}, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != EventCompleted {
			continue
		}
		var t schema.Transcription
		if err := json.Unmarshal(events[i].Payload, &t); err != nil {
			return schema.Transcription{}, fmt.Errorf("decode journaled transcription: %w", err)
		}
		return t, nil
	}
	return schema.Transcription{}, fmt.Errorf("run %s has no completed transcription", runID)
}
