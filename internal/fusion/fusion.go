// Package fusion merges the shape/icon detector output with the text-region
// detector output into a single de-duplicated list.
package fusion

import (
	"log/slog"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/geometry"
)

// Config holds the fusion thresholds.
type Config struct {
	IoUThreshold         float64 `mapstructure:"iou_threshold"         yaml:"iou_threshold"         json:"iou_threshold"`
	ContainmentThreshold float64 `mapstructure:"containment_threshold" yaml:"containment_threshold" json:"containment_threshold"`
	MinArea              float64 `mapstructure:"min_area"              yaml:"min_area"              json:"min_area"`
	MaxTextInsideIcon    int     `mapstructure:"max_text_inside_icon"  yaml:"max_text_inside_icon"  json:"max_text_inside_icon"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:         0.9,
		ContainmentThreshold: geometry.DefaultContainmentThreshold,
		MinArea:              1.0,
		MaxTextInsideIcon:    2,
	}
}

// Stats counts what each stage did. Durations are nanoseconds.
type Stats struct {
	ShapesIn         int   `json:"shapes_in"         yaml:"shapes_in"`
	TextsIn          int   `json:"texts_in"          yaml:"texts_in"`
	ShapesValid      int   `json:"shapes_valid"      yaml:"shapes_valid"`
	TextsValid       int   `json:"texts_valid"       yaml:"texts_valid"`
	ShapesInvalid    int   `json:"shapes_invalid"    yaml:"shapes_invalid"`
	TextsInvalid     int   `json:"texts_invalid"     yaml:"texts_invalid"`
	OverlapDiscarded int   `json:"overlap_discarded" yaml:"overlap_discarded"`
	DensityDiscarded int   `json:"density_discarded" yaml:"density_discarded"`
	SubsumedShapes   int   `json:"subsumed_shapes"   yaml:"subsumed_shapes"`
	Retagged         int   `json:"retagged"          yaml:"retagged"`
	ConsumedTexts    int   `json:"consumed_texts"    yaml:"consumed_texts"`
	EmittedTexts     int   `json:"emitted_texts"     yaml:"emitted_texts"`
	Output           int   `json:"output"            yaml:"output"`
	Icons            int   `json:"icons"             yaml:"icons"`
	Texts            int   `json:"texts"             yaml:"texts"`
	DurationNs       int64 `json:"duration_ns"       yaml:"duration_ns"`
}

// Result is the fused list plus its statistics.
type Result struct {
	Detections []detection.Fused `json:"detections" yaml:"detections"`
	Stats      Stats             `json:"stats"      yaml:"stats"`
}

// Engine runs fusion with a fixed configuration. It holds no per-run state
// and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine. Thresholds are used as given.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Fuse merges shapes (list A) with texts (list B). Inputs are not modified.
func (e *Engine) Fuse(shapes, texts []detection.Detection) Result {
	if len(shapes) == 0 && len(texts) == 0 {
		return Result{Detections: []detection.Fused{}}
	}
	start := time.Now()

	validA := geometry.FilterValid(shapes, e.cfg.MinArea)
	validB := geometry.FilterValid(texts, e.cfg.MinArea)
	stats := Stats{
		ShapesIn:      len(shapes),
		TextsIn:       len(texts),
		ShapesValid:   len(validA),
		TextsValid:    len(validB),
		ShapesInvalid: len(shapes) - len(validA),
		TextsInvalid:  len(texts) - len(validB),
	}

	kept := e.removeSelfOverlap(validA, &stats)
	textIdx := newSpatialIndex(validB)
	kept = e.filterDense(kept, validB, textIdx, &stats)
	merged := e.reconcile(kept, validB, textIdx, &stats)

	out := make([]detection.Fused, len(merged))
	for i, d := range merged {
		out[i] = detection.Fused{Detection: d, MergedID: i}
	}
	stats.Output = len(out)
	stats.Icons, stats.Texts = detection.Count(out)
	stats.DurationNs = time.Since(start).Nanoseconds()

	slog.Debug("fusion complete",
		"shapes", stats.ShapesIn,
		"texts", stats.TextsIn,
		"overlap_discarded", stats.OverlapDiscarded,
		"density_discarded", stats.DensityDiscarded,
		"subsumed", stats.SubsumedShapes,
		"retagged", stats.Retagged,
		"output", stats.Output)

	return Result{Detections: out, Stats: stats}
}

// removeSelfOverlap drops every shape that has a strictly smaller partner
// with IoU above the threshold. Discarded boxes still count as partners, so
// the outcome does not depend on scan order.
func (e *Engine) removeSelfOverlap(shapes []detection.Detection, stats *Stats) []detection.Detection {
	idx := newSpatialIndex(shapes)
	kept := make([]detection.Detection, 0, len(shapes))
	for i, a := range shapes {
		areaA := geometry.Area(a.Box)
		larger := false
		for _, j := range idx.overlapping(a.Box) {
			if j == i {
				continue
			}
			if geometry.IoU(a.Box, shapes[j].Box) > e.cfg.IoUThreshold && areaA > geometry.Area(shapes[j].Box) {
				larger = true
				break
			}
		}
		if larger {
			stats.OverlapDiscarded++
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// filterDense drops shapes that enclose more than MaxTextInsideIcon text
// boxes; such a box spans a paragraph rather than an icon.
func (e *Engine) filterDense(shapes, texts []detection.Detection, idx *spatialIndex, stats *Stats) []detection.Detection {
	kept := make([]detection.Detection, 0, len(shapes))
	for _, a := range shapes {
		inside := 0
		for _, j := range idx.overlapping(a.Box) {
			if geometry.IsInside(texts[j].Box, a.Box, e.cfg.ContainmentThreshold) {
				inside++
			}
		}
		if inside > e.cfg.MaxTextInsideIcon {
			stats.DensityDiscarded++
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// reconcile walks the remaining shapes in order against the unconsumed texts.
// A shape inside a text box is replaced by that text box. A text box inside a
// shape retags the shape as text and is absorbed. Everything else passes
// through, and leftover texts follow the shape section in input order.
func (e *Engine) reconcile(shapes, texts []detection.Detection, idx *spatialIndex, stats *Stats) []detection.Detection {
	consumed := make([]bool, len(texts))
	out := make([]detection.Detection, 0, len(shapes)+len(texts))

	for _, a := range shapes {
		emit := a
		retagged := false
		for _, j := range idx.overlapping(a.Box) {
			if consumed[j] {
				continue
			}
			b := texts[j]
			aInB := geometry.IsInside(a.Box, b.Box, e.cfg.ContainmentThreshold)
			bInA := geometry.IsInside(b.Box, a.Box, e.cfg.ContainmentThreshold)
			if !aInB && !bInA && geometry.IoU(a.Box, b.Box) <= e.cfg.IoUThreshold {
				continue
			}
			if aInB {
				consumed[j] = true
				stats.ConsumedTexts++
				stats.SubsumedShapes++
				emit = b
				retagged = false
				break
			}
			if bInA {
				consumed[j] = true
				stats.ConsumedTexts++
				emit.Type = detection.TypeText
				retagged = true
			}
		}
		if retagged {
			stats.Retagged++
		}
		out = append(out, emit)
	}

	for j, b := range texts {
		if consumed[j] {
			continue
		}
		out = append(out, b)
		stats.EmittedTexts++
	}
	return out
}
