// Package engine runs transcriptions on a backend and hands back its native
// output for conversion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/convert"
	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

// ErrConsumed is yielded when a run's segment stream is iterated twice.
var ErrConsumed = errors.New("segment stream already consumed")

// Audio is the input of a run: a file on disk or raw 16-bit little-endian PCM.
type Audio struct {
	Path       string
	PCM        []byte
	SampleRate int
	Channels   int
}

// Request is one transcription call.
type Request struct {
	Audio   Audio
	Options schema.Request
}

// Run is the native output of a transcription. Segments is single-pass and
// Info is only complete once Segments has been drained.
type Run struct {
	Segments iter.Seq2[convert.Object, error]
	Info     convert.Object

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

// Close releases the resources held by the run. It is safe to call more
// than once.
func (r *Run) Close() error {
	r.closeOnce.Do(func() {
		if r.closeFn != nil {
			r.closeErr = r.closeFn()
		}
	})
	return r.closeErr
}

// Engine runs transcriptions.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (*Run, error)
}

// New builds the engine selected by cfg.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMock(cfg), nil
	case "exec":
		return NewExec(cfg)
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}

// Transcribe runs req on e and converts the complete output.
func Transcribe(ctx context.Context, e Engine, req Request) (schema.Transcription, error) {
	if req.Options == nil {
		return schema.Transcription{}, errors.New("request options are required")
	}
	if err := req.Options.Validate(); err != nil {
		return schema.Transcription{}, err
	}
	run, err := e.Transcribe(ctx, req)
	if err != nil {
		return schema.Transcription{}, err
	}
	defer run.Close()
	return convert.RunOutput(run.Segments, run.Info)
}

// lateInfo is run info that the backend finalizes after its last segment.
type lateInfo struct {
	mu    sync.Mutex
	attrs convert.Object
}

func (l *lateInfo) set(attrs convert.Object) {
	l.mu.Lock()
	l.attrs = attrs
	l.mu.Unlock()
}

func (l *lateInfo) Attr(name string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attrs == nil {
		return nil, false
	}
	return l.attrs.Attr(name)
}

// once guards a stream against a second pass.
func once(seq iter.Seq2[convert.Object, error]) iter.Seq2[convert.Object, error] {
	var (
		mu   sync.Mutex
		used bool
	)
	return func(yield func(convert.Object, error) bool) {
		mu.Lock()
		again := used
		used = true
		mu.Unlock()
		if again {
			yield(nil, ErrConsumed)
			return
		}
		seq(yield)
	}
}
