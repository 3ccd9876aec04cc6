package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-fwtypes/internal/bus"
	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/convert"
	"github.com/loqalabs/loqa-fwtypes/internal/engine"
	"github.com/loqalabs/loqa-fwtypes/internal/eventstore"
	"github.com/loqalabs/loqa-fwtypes/internal/profile"
	"github.com/loqalabs/loqa-fwtypes/internal/protocol"
	"github.com/loqalabs/loqa-fwtypes/internal/schema"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "github.com/loqalabs/loqa-fwtypes/internal/stt"

var errNoAudio = errors.New("audio_path or pcm is required")

// RequestError is a transcription request that did not produce a result.
// RunID is empty when the request was rejected before a run was opened.
type RequestError struct {
	RunID string
	Err   error
}

func (e *RequestError) Error() string { return e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// Service answers transcription requests on the bus: it resolves the
// requested profile, runs the engine, converts the native output into
// validated records, journals the run and publishes the outcome.
type Service struct {
	cfg      config.STTConfig
	bus      *bus.Client
	profiles *profile.Set
	engine   engine.Engine
	journal  *eventstore.Store
	log      *slog.Logger
	metrics  serviceMetrics
	slots    chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    atomic.Bool
}

type serviceMetrics struct {
	runs     metric.Int64Counter
	failures metric.Int64Counter
	segments metric.Int64Counter
	duration metric.Float64Histogram
}

func newServiceMetrics() serviceMetrics {
	meter := otel.Meter(instrumentation)
	var m serviceMetrics
	m.runs, _ = meter.Int64Counter("fwtypes.stt.runs", metric.WithDescription("Completed transcription runs"))
	m.failures, _ = meter.Int64Counter("fwtypes.stt.failures", metric.WithDescription("Rejected or failed transcription requests"))
	m.segments, _ = meter.Int64Counter("fwtypes.stt.segments", metric.WithDescription("Segments converted from engine output"))
	m.duration, _ = meter.Float64Histogram("fwtypes.stt.run.duration", metric.WithUnit("s"), metric.WithDescription("Wall time per transcription run"))
	return m
}

// NewService wires a service. busClient may be nil when requests are only
// handled in-process through Handle; journal may be nil to skip journaling.
func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, profiles *profile.Set, eng engine.Engine, journal *eventstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		profiles: profiles,
		engine:   eng,
		journal:  journal,
		log:      log,
		metrics:  newServiceMetrics(),
		slots:    make(chan struct{}, concurrency),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.bus == nil {
		return errors.New("stt service needs a bus connection")
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscribeRequest, s.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe transcribe requests: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	s.log.Info("stt service listening",
		slog.String("subject", protocol.SubjectTranscribeRequest),
		slog.String("engine", s.engine.Name()),
		slog.Any("profiles", s.profiles.Names()))
	return nil
}

func (s *Service) Close() {
	s.ready.Store(false)
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

func (s *Service) handleMessage(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	dec := json.NewDecoder(bytes.NewReader(msg.Data))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		s.log.Warn("failed to decode transcribe request", slogError(err))
		s.reply(msg, protocol.SubjectTranscribeError, protocol.TranscribeError{
			Error:     fmt.Sprintf("decode request: %v", err),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.slots <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
		defer func() { <-s.slots }()

		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()

		result, err := s.Handle(ctx, req)
		if err != nil {
			s.reply(msg, protocol.SubjectTranscribeError, errorMessage(req, err))
			return
		}
		s.reply(msg, protocol.SubjectTranscribeResult, result)
	}()
}

// Handle runs one transcription request to completion.
func (s *Service) Handle(ctx context.Context, req protocol.TranscribeRequest) (protocol.TranscribeResult, error) {
	name := req.Profile
	if name == "" {
		name = s.cfg.DefaultProfile
	}
	attrs := metric.WithAttributes(attribute.String("profile", name))
	ctx, span := otel.Tracer(instrumentation).Start(ctx, "stt.transcribe")
	defer span.End()
	span.SetAttributes(attribute.String("profile", name), attribute.String("request_id", req.RequestID))

	fail := func(runID string, err error) (protocol.TranscribeResult, error) {
		s.metrics.failures.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if runID != "" {
			s.record("failure", func(j *eventstore.Store) error {
				return j.RecordFailure(context.WithoutCancel(ctx), runID, err)
			})
		}
		s.log.Warn("transcription failed",
			slog.String("request_id", req.RequestID),
			slog.String("run_id", runID),
			slog.String("profile", name),
			slogError(err))
		return protocol.TranscribeResult{}, &RequestError{RunID: runID, Err: err}
	}

	if req.AudioPath == "" && len(req.PCM) == 0 {
		return fail("", errNoAudio)
	}

	runID := eventstore.NewRunID()
	span.SetAttributes(attribute.String("run_id", runID))
	run := eventstore.RunRecord{RunID: runID, ActorID: req.SessionID, Profile: name}

	resolved, err := s.profiles.Resolve(name, req.Overrides)
	if err != nil {
		s.record("run", func(j *eventstore.Store) error { return j.AppendRun(ctx, run) })
		return fail(runID, err)
	}
	run.Batched = resolved.Request.Batched()
	s.record("request", func(j *eventstore.Store) error { return j.RecordRequest(ctx, run, resolved.Request) })

	if len(resolved.Drift) > 0 {
		s.log.Info("request options drift from profile",
			slog.String("run_id", runID),
			slog.String("profile", name),
			slog.Any("changes", schema.JSONSafe(resolved.Drift)))
		if s.cfg.JournalDrift {
			s.record("drift", func(j *eventstore.Store) error {
				return j.RecordDrift(ctx, runID, name, resolved.Drift)
			})
		}
	}

	started := time.Now()
	transcription, err := engine.Transcribe(ctx, s.engine, engine.Request{
		Audio: engine.Audio{
			Path:       req.AudioPath,
			PCM:        req.PCM,
			SampleRate: req.SampleRate,
			Channels:   req.Channels,
		},
		Options: resolved.Request,
	})
	if err != nil {
		return fail(runID, err)
	}
	elapsed := time.Since(started)

	s.metrics.runs.Add(ctx, 1, attrs)
	s.metrics.segments.Add(ctx, int64(len(transcription.Segments)), attrs)
	s.metrics.duration.Record(ctx, elapsed.Seconds(), attrs)
	s.record("transcription", func(j *eventstore.Store) error { return j.RecordTranscription(ctx, runID, transcription) })

	s.log.Info("transcription completed",
		slog.String("request_id", req.RequestID),
		slog.String("run_id", runID),
		slog.String("profile", name),
		slog.String("language", transcription.Info.Language),
		slog.Int("segments", len(transcription.Segments)),
		slog.Duration("elapsed", elapsed))

	return protocol.TranscribeResult{
		RequestID:     req.RequestID,
		RunID:         runID,
		SessionID:     req.SessionID,
		Profile:       name,
		Text:          transcription.Text(),
		Transcription: transcription,
		Drift:         schema.JSONSafe(resolved.Drift),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (s *Service) record(what string, fn func(*eventstore.Store) error) {
	if s.journal == nil {
		return
	}
	if err := fn(s.journal); err != nil {
		s.log.Warn("failed to journal "+what, slogError(err))
	}
}

// reply publishes v on subject and answers the request inbox when the
// caller used request/reply.
func (s *Service) reply(msg *nats.Msg, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("failed to marshal "+subject, slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish "+subject, slogError(err))
	}
	if msg.Reply != "" {
		if err := msg.Respond(data); err != nil {
			s.log.Warn("failed to respond to request", slogError(err))
		}
	}
}

func errorMessage(req protocol.TranscribeRequest, err error) protocol.TranscribeError {
	out := protocol.TranscribeError{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		Error:     err.Error(),
		Fields:    FieldErrors(err),
		Timestamp: time.Now().UTC(),
	}
	var rerr *RequestError
	if errors.As(err, &rerr) {
		out.RunID = rerr.RunID
	}
	return out
}

// FieldErrors extracts the offending fields from err. Fields of converted
// engine output are qualified with their location in the run, e.g.
// "segments[2].words[0].probability".
func FieldErrors(err error) []schema.FieldError {
	var cerr *convert.ConversionError
	if errors.As(err, &cerr) {
		fields := cerr.Fields()
		if cerr.Path == "" {
			return fields
		}
		out := make([]schema.FieldError, 0, len(fields))
		for _, f := range fields {
			out = append(out, schema.FieldError{Field: cerr.Path + "." + f.Field, Reason: f.Reason})
		}
		return out
	}
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
