// Package detection defines the detection records exchanged between the
// upstream detectors and the fusion, grouping and layout stages.
package detection

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/boxfuse/internal/geometry"
)

// Source identifies which detector produced a record.
type Source uint8

const (
	// SourceShape is the shape/icon detector (list A).
	SourceShape Source = iota
	// SourceText is the text-region detector (list B).
	SourceText
)

func (s Source) String() string {
	switch s {
	case SourceShape:
		return "shape"
	case SourceText:
		return "text"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	if s > SourceText {
		return nil, fmt.Errorf("unknown detection source %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText accepts the canonical names plus the detector aliases seen
// in upstream payloads.
func (s *Source) UnmarshalText(text []byte) error {
	switch string(text) {
	case "shape", "icon", "yolo", "shape_detector":
		*s = SourceShape
	case "text", "ocr", "text_detector":
		*s = SourceText
	default:
		return fmt.Errorf("unknown detection source %q", string(text))
	}
	return nil
}

// ElementType is the semantic class of a detection.
type ElementType uint8

const (
	// TypeIcon marks a shape or icon element.
	TypeIcon ElementType = iota
	// TypeText marks a text-bearing element.
	TypeText
)

func (t ElementType) String() string {
	switch t {
	case TypeIcon:
		return "icon"
	case TypeText:
		return "text"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ElementType) MarshalText() ([]byte, error) {
	if t > TypeText {
		return nil, fmt.Errorf("unknown element type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ElementType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "icon", "shape":
		*t = TypeIcon
	case "text":
		*t = TypeText
	default:
		return fmt.Errorf("unknown element type %q", string(text))
	}
	return nil
}

// Detection is a single box produced by one of the upstream detectors.
// ID is sequential within its Source only.
type Detection struct {
	Box        geometry.Box `json:"bbox"`
	Type       ElementType  `json:"type"`
	Source     Source       `json:"source"`
	Confidence float64      `json:"confidence"`
	ID         int          `json:"id"`
}

// Bounds implements geometry.Boxed.
func (d Detection) Bounds() geometry.Box { return d.Box }

// DefaultType returns the element type a detector of source s reports.
func DefaultType(s Source) ElementType {
	if s == SourceText {
		return TypeText
	}
	return TypeIcon
}

// Fused is a detection that survived fusion, tagged with its position in
// the fused list.
type Fused struct {
	Detection
	MergedID int `json:"merged_id"`
}

// fusedJSON is the outbound shape of a fused record; the source-local id is
// not part of it.
type fusedJSON struct {
	Box        geometry.Box `json:"bbox"`
	MergedID   int          `json:"merged_id"`
	Type       ElementType  `json:"type"`
	Source     Source       `json:"source"`
	Confidence float64      `json:"confidence"`
}

// MarshalJSON encodes {bbox, merged_id, type, source, confidence}.
func (f Fused) MarshalJSON() ([]byte, error) {
	return json.Marshal(fusedJSON{
		Box:        f.Box,
		MergedID:   f.MergedID,
		Type:       f.Type,
		Source:     f.Source,
		Confidence: f.Confidence,
	})
}

// UnmarshalJSON decodes the outbound fused shape.
func (f *Fused) UnmarshalJSON(data []byte) error {
	var raw fusedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Box = raw.Box
	f.MergedID = raw.MergedID
	f.Type = raw.Type
	f.Source = raw.Source
	f.Confidence = raw.Confidence
	f.ID = 0
	return nil
}

// Normalize stamps every detection with the given source, its default type
// when forceType is set, and a sequential source-local ID. The input slice
// is not modified.
func Normalize(dets []Detection, src Source, forceType bool) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		d.Source = src
		if forceType {
			d.Type = DefaultType(src)
		}
		d.ID = i
		out[i] = d
	}
	return out
}

// Count returns the number of detections per element type.
func Count(dets []Fused) (icons, texts int) {
	for _, d := range dets {
		if d.Type == TypeText {
			texts++
		} else {
			icons++
		}
	}
	return icons, texts
}
