// Package convert turns engine-native result objects into validated schema
// records.
package convert

import (
	"errors"
	"fmt"
	"iter"

	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

var errNoObject = errors.New("no native object")

// Segment converts a native segment, words included.
func Segment(src Object) (schema.Segment, error) {
	if src == nil {
		return schema.Segment{}, &ConversionError{Entity: "Segment", Err: errNoObject}
	}
	s, err := schema.NewSegment(segmentShape.flatten(src))
	if err != nil {
		return schema.Segment{}, &ConversionError{Entity: "Segment", Err: err}
	}
	return s, nil
}

// TranscriptionInfo converts native run info together with the effective
// transcription options and, when present, the VAD options it carries.
func TranscriptionInfo(src Object) (schema.TranscriptionInfo, error) {
	if src == nil {
		return schema.TranscriptionInfo{}, &ConversionError{Entity: "TranscriptionInfo", Err: errNoObject}
	}
	info, err := schema.NewTranscriptionInfo(infoShape.flatten(src))
	if err != nil {
		return schema.TranscriptionInfo{}, &ConversionError{Entity: "TranscriptionInfo", Err: err}
	}
	return info, nil
}

// RunOutput drains the segment stream once, in order, then converts info.
// Engines finalize some info attributes only once every segment has been
// produced, so info must not be read before the stream is exhausted.
// Nothing is returned unless every object converts.
func RunOutput(segments iter.Seq2[Object, error], info Object) (schema.Transcription, error) {
	out := schema.Transcription{Segments: []schema.Segment{}}
	i := 0
	for native, err := range segments {
		if err != nil {
			return schema.Transcription{}, fmt.Errorf("read segment %d: %w", i, err)
		}
		s, err := Segment(native)
		if err != nil {
			return schema.Transcription{}, at(err, fmt.Sprintf("segments[%d]", i))
		}
		out.Segments = append(out.Segments, s)
		i++
	}
	converted, err := TranscriptionInfo(info)
	if err != nil {
		return schema.Transcription{}, at(err, "info")
	}
	out.Info = converted
	return out, nil
}

// Objects streams items as native objects. Items that are neither an Object
// nor a struct read as having no attributes.
func Objects[T any](items ...T) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		for _, item := range items {
			obj, ok := asObject(any(item))
			if !ok {
				obj = Attrs(nil)
			}
			if !yield(obj, nil) {
				return
			}
		}
	}
}

func at(err error, path string) error {
	var cerr *ConversionError
	if errors.As(err, &cerr) {
		cerr.Path = path
	}
	return err
}
