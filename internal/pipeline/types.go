package pipeline

import (
	"fmt"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/fusion"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
	"github.com/MeKo-Tech/boxfuse/internal/layout"
)

// Stats holds per-stage timings and run level counters. Durations are
// nanoseconds; detector timings are wall clock inside each goroutine.
type Stats struct {
	ShapeDetectionNs int64 `json:"shape_detection_ns" yaml:"shape_detection_ns"`
	TextDetectionNs  int64 `json:"text_detection_ns"  yaml:"text_detection_ns"`
	DetectionNs      int64 `json:"detection_ns"       yaml:"detection_ns"`
	FusionNs         int64 `json:"fusion_ns"          yaml:"fusion_ns"`
	GroupingNs       int64 `json:"grouping_ns"        yaml:"grouping_ns"`
	LayoutNs         int64 `json:"layout_ns"          yaml:"layout_ns"`
	TotalNs          int64 `json:"total_ns"           yaml:"total_ns"`
	DetectorErrors   int   `json:"detector_errors"    yaml:"detector_errors"`
}

// Result is everything one run produces for one image.
type Result struct {
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	Shapes      []detection.Detection `json:"shapes"`
	Texts       []detection.Detection `json:"texts"`
	Fused       []detection.Fused     `json:"fused"`
	FusionStats fusion.Stats          `json:"fusion_stats"`
	Groups      *grouping.Result      `json:"groups"`
	GroupStats  grouping.Stats        `json:"group_stats"`
	Layout      *layout.Output        `json:"layout,omitempty"`
	Warnings    []string              `json:"warnings,omitempty"`
	Stats       Stats                 `json:"stats"`

	// DetectorErrors holds the failures Run degraded to empty lists.
	DetectorErrors []*DetectorError `json:"-"`
}

// DetectorError reports a failure of one upstream detector.
type DetectorError struct {
	Source detection.Source
	Err    error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("%s detector: %v", e.Source, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Stage names a step of a run.
type Stage string

const (
	StageNormalized Stage = "normalized"
	StageFused      Stage = "fused"
	StageGrouped    Stage = "grouped"
	StageComposed   Stage = "composed"
)

// StageFunc observes a run between stages.
type StageFunc func(stage Stage, res *Result)
