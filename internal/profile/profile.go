// Package profile keeps named request presets and resolves per-call
// overrides against them.
package profile

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/loqalabs/loqa-fwtypes/internal/schema"
	"gopkg.in/yaml.v3"
)

const (
	DefaultName = "default"
	BatchName   = "batch"
)

// ErrUnknownProfile is returned when no profile has the requested name.
var ErrUnknownProfile = errors.New("unknown profile")

// Profile is a named preset: the raw option keys it was declared with and
// the validated request they build.
type Profile struct {
	Name    string
	Batched bool
	Options map[string]any
	Request schema.Request
}

// Resolution is a preset with per-call overrides applied.
type Resolution struct {
	Profile string
	Request schema.Request
	// Drift maps every option the overrides changed to its new value.
	Drift map[string]any
}

type fileSpec struct {
	Profiles map[string]struct {
		Batched bool           `yaml:"batched"`
		Options map[string]any `yaml:"options"`
	} `yaml:"profiles"`
}

// Set is an immutable collection of profiles.
type Set struct {
	profiles map[string]Profile
}

// Builtin returns the two stock presets: "default" (single pass) and
// "batch".
func Builtin() *Set {
	s := &Set{profiles: make(map[string]Profile, 2)}
	s.profiles[DefaultName] = Profile{Name: DefaultName, Options: map[string]any{}, Request: schema.DefaultWhisperOptions()}
	s.profiles[BatchName] = Profile{Name: BatchName, Batched: true, Options: map[string]any{}, Request: schema.DefaultWhisperBatchOptions()}
	return s
}

// Load reads profiles from a YAML file on top of the built-in ones. An empty
// path yields the built-ins.
func Load(path string) (*Set, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML profiles document on top of the built-ins. Every
// profile is validated up front.
func Parse(data []byte) (*Set, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	s := Builtin()
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(spec.Profiles)) {
		entry := spec.Profiles[name]
		options := entry.Options
		if options == nil {
			options = map[string]any{}
		}
		req, err := build(entry.Batched, options)
		if err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", name, err))
			continue
		}
		s.profiles[name] = Profile{Name: name, Batched: entry.Batched, Options: options, Request: req}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Names lists the profiles in sorted order.
func (s *Set) Names() []string {
	return slices.Sorted(maps.Keys(s.profiles))
}

// Get returns the named profile.
func (s *Set) Get(name string) (Profile, bool) {
	p, ok := s.profiles[name]
	return p, ok
}

// Resolve applies overrides to the named profile and re-validates the
// result. Overrides replace whole keys.
func (s *Set) Resolve(name string, overrides map[string]any) (Resolution, error) {
	p, ok := s.profiles[name]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	if len(overrides) == 0 {
		return Resolution{Profile: name, Request: p.Request, Drift: map[string]any{}}, nil
	}
	merged := maps.Clone(p.Options)
	maps.Copy(merged, overrides)
	req, err := build(p.Batched, merged)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Profile: name, Request: req, Drift: schema.Diff(p.Request, req)}, nil
}

func build(batched bool, options map[string]any) (schema.Request, error) {
	if batched {
		o, err := schema.NewWhisperBatchOptions(options)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	o, err := schema.NewWhisperOptions(options)
	if err != nil {
		return nil, err
	}
	return o, nil
}
