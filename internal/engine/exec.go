package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-fwtypes/internal/config"
	"github.com/loqalabs/loqa-fwtypes/internal/convert"
	"github.com/mattn/go-shellwords"
)

const maxLineBytes = 16 << 20

// execEngine runs an external helper process per call. The helper reads a
// JSON job on stdin and writes one JSON line per segment, then a final info
// line.
type execEngine struct {
	cmd []string
	cfg config.EngineConfig
	mu  sync.Mutex
}

type execJob struct {
	Batched bool   `json:"batched"`
	Audio   string `json:"audio"`
	Model   string `json:"model,omitempty"`
	Device  string `json:"device,omitempty"`
	Options any    `json:"options"`
}

type execLine struct {
	Segment map[string]any `json:"segment"`
	Info    map[string]any `json:"info"`
	Error   string         `json:"error"`
}

func NewExec(cfg config.EngineConfig) (Engine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Name() string { return "exec" }

// Transcribe starts the helper. Calls are serialized: the lock is held
// until the returned run is closed.
func (e *execEngine) Transcribe(ctx context.Context, req Request) (*Run, error) {
	if req.Options == nil {
		return nil, errors.New("request options are required")
	}
	e.mu.Lock()
	unlock := sync.OnceFunc(e.mu.Unlock)

	audioPath := req.Audio.Path
	var cleanup func()
	if audioPath == "" {
		rate, channels := req.Audio.SampleRate, req.Audio.Channels
		if rate <= 0 {
			rate = e.cfg.SampleRate
		}
		if channels <= 0 {
			channels = e.cfg.Channels
		}
		path, err := tempWav(req.Audio.PCM, rate, channels)
		if err != nil {
			unlock()
			return nil, err
		}
		audioPath = path
		cleanup = func() { os.Remove(path) }
	}

	job, err := json.Marshal(execJob{
		Batched: req.Options.Batched(),
		Audio:   audioPath,
		Model:   e.cfg.Model,
		Device:  e.cfg.Device,
		Options: req.Options,
	})
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		unlock()
		return nil, fmt.Errorf("encode engine job: %w", err)
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(job)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	stdout, err := command.StdoutPipe()
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		unlock()
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		unlock()
		return nil, fmt.Errorf("start engine command: %w", err)
	}

	var (
		waitOnce sync.Once
		waitErr  error
	)
	wait := func() error {
		waitOnce.Do(func() {
			waitErr = command.Wait()
			if waitErr != nil {
				waitErr = fmt.Errorf("engine command failed: %w: %s", waitErr, stderr.String())
			}
		})
		return waitErr
	}

	info := &lateInfo{}
	segments := func(yield func(convert.Object, error) bool) {
		stopped, err := readLines(stdout, info, yield)
		if stopped {
			return
		}
		if err != nil {
			_ = command.Process.Kill()
			_ = wait()
			yield(nil, err)
			return
		}
		if err := wait(); err != nil {
			yield(nil, err)
		}
	}

	run := &Run{
		Segments: once(segments),
		Info:     info,
		closeFn: func() error {
			defer unlock()
			if cleanup != nil {
				defer cleanup()
			}
			if command.ProcessState == nil && command.Process != nil {
				_ = command.Process.Kill()
			}
			_ = wait()
			return nil
		},
	}
	return run, nil
}

// ReadOutput replays helper output captured in r, one JSON line per segment
// followed by an info line, as a run.
func ReadOutput(r io.Reader) *Run {
	info := &lateInfo{}
	segments := func(yield func(convert.Object, error) bool) {
		if stopped, err := readLines(r, info, yield); err != nil && !stopped {
			yield(nil, err)
		}
	}
	return &Run{Segments: once(segments), Info: info}
}

// readLines yields segment lines as they arrive and records the info line.
// stopped reports that yield asked to stop before the output ended.
func readLines(r io.Reader, info *lateInfo, yield func(convert.Object, error) bool) (stopped bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var line execLine
		if err := dec.Decode(&line); err != nil {
			return false, fmt.Errorf("decode engine output: %w", err)
		}
		switch {
		case line.Error != "":
			return false, fmt.Errorf("engine reported: %s", line.Error)
		case line.Segment != nil:
			if !yield(convert.Attrs(line.Segment), nil) {
				return true, nil
			}
		case line.Info != nil:
			info.set(convert.Attrs(line.Info))
		default:
			return false, fmt.Errorf("unexpected engine output: %s", raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read engine output: %w", err)
	}
	return false, nil
}
