package grouping

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/geometry"
)

// Kind is the category of a group.
type Kind uint8

const (
	KindHorizontal Kind = iota
	KindVertical
	KindHorizontalLong
	KindVerticalLong
)

// Prefix returns the id prefix used for groups of this kind.
func (k Kind) Prefix() string {
	switch k {
	case KindHorizontal:
		return "H"
	case KindVertical:
		return "V"
	case KindHorizontalLong:
		return "HL"
	case KindVerticalLong:
		return "VL"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) String() string { return k.Prefix() }

// Long reports whether the kind holds an isolated long element.
func (k Kind) Long() bool { return k == KindHorizontalLong || k == KindVerticalLong }

// SortKey orders boxes along one axis. MergedID breaks exact ties.
type SortKey struct {
	Primary   int
	Secondary int
	MergedID  int
}

// Less compares keys lexicographically.
func (k SortKey) Less(o SortKey) bool {
	if k.Primary != o.Primary {
		return k.Primary < o.Primary
	}
	if k.Secondary != o.Secondary {
		return k.Secondary < o.Secondary
	}
	return k.MergedID < o.MergedID
}

// Box is a fused detection as seen by the grouper. Box holds the geometry
// used for grouping and cropping; Original keeps the fused geometry before
// any long-box rescale.
type Box struct {
	Box        geometry.Box
	Original   geometry.Box
	OriginalID int
	MergedID   int
	Type       detection.ElementType
	Source     detection.Source
	Confidence float64
}

// FromFused wraps a fused detection.
func FromFused(f detection.Fused) Box {
	return Box{
		Box:        f.Box,
		Original:   f.Box,
		OriginalID: f.ID,
		MergedID:   f.MergedID,
		Type:       f.Type,
		Source:     f.Source,
		Confidence: f.Confidence,
	}
}

// Fused converts the box back into a fused detection using its current
// geometry.
func (b Box) Fused() detection.Fused {
	return detection.Fused{
		Detection: detection.Detection{
			Box:        b.Box,
			Type:       b.Type,
			Source:     b.Source,
			Confidence: b.Confidence,
			ID:         b.OriginalID,
		},
		MergedID: b.MergedID,
	}
}

// Bounds implements geometry.Boxed.
func (b Box) Bounds() geometry.Box { return b.Box }

func (b Box) Width() int  { return b.Box.Width() }
func (b Box) Height() int { return b.Box.Height() }

// Center returns the centre of the grouping geometry.
func (b Box) Center() (float64, float64) { return b.Box.Center() }

// Rescaled reports whether the long-box rescale changed the geometry.
func (b Box) Rescaled() bool { return b.Box != b.Original }

// XKey is the x-major sort key.
func (b Box) XKey() SortKey { return SortKey{b.Box.X1, b.Box.Y1, b.MergedID} }

// YKey is the y-major sort key.
func (b Box) YKey() SortKey { return SortKey{b.Box.Y1, b.Box.X1, b.MergedID} }

type boxJSON struct {
	Box        geometry.Box          `json:"bbox"`
	OriginalID int                   `json:"original_id"`
	MergedID   int                   `json:"merged_id"`
	Type       detection.ElementType `json:"type"`
	Source     detection.Source      `json:"source"`
	Confidence float64               `json:"confidence"`
}

// MarshalJSON encodes {bbox, original_id, merged_id, type, source, confidence}.
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal(boxJSON{
		Box:        b.Box,
		OriginalID: b.OriginalID,
		MergedID:   b.MergedID,
		Type:       b.Type,
		Source:     b.Source,
		Confidence: b.Confidence,
	})
}

// UnmarshalJSON decodes the encoded form; Original equals Box afterwards.
func (b *Box) UnmarshalJSON(data []byte) error {
	var raw boxJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Box{
		Box:        raw.Box,
		Original:   raw.Box,
		OriginalID: raw.OriginalID,
		MergedID:   raw.MergedID,
		Type:       raw.Type,
		Source:     raw.Source,
		Confidence: raw.Confidence,
	}
	return nil
}

// Group is one cluster after conflict resolution.
type Group struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"-"`
	Boxes []Box  `json:"boxes"`
}

// Fused returns the group members as fused detections.
func (g Group) Fused() []detection.Fused {
	out := make([]detection.Fused, len(g.Boxes))
	for i, b := range g.Boxes {
		out[i] = b.Fused()
	}
	return out
}
