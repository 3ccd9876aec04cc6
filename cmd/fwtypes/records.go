package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-fwtypes/internal/schema"
	"gopkg.in/yaml.v3"
)

type builder func(map[string]any) (schema.Record, error)

func wrap[T schema.Record](build func(map[string]any) (T, error)) builder {
	return func(m map[string]any) (schema.Record, error) {
		rec, err := build(m)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

var builders = map[string]builder{
	"whisper":               wrap(schema.NewWhisperOptions),
	"batch":                 wrap(schema.NewWhisperBatchOptions),
	"transcription-options": wrap(schema.NewTranscriptionOptions),
	"vad":                   wrap(schema.NewVADOptions),
	"word":                  wrap(schema.NewWord),
	"segment":               wrap(schema.NewSegment),
	"info":                  wrap(schema.NewTranscriptionInfo),
	"transcription":         wrap(schema.NewTranscription),
}

func buildRecord(kind string, m map[string]any) (schema.Record, error) {
	build, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q (want %s)", kind, kindList())
	}
	return build(m)
}

// readMapping loads a JSON or YAML mapping. YAML is chosen by extension.
func readMapping(path string) (map[string]any, error) {
	if path == "" {
		return nil, errors.New("a file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if m == nil {
		return nil, fmt.Errorf("%s does not hold a mapping", path)
	}
	return m, nil
}
