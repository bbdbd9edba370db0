package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
)

// detectOutcome is what one detector goroutine hands back.
type detectOutcome struct {
	dets []detection.Detection
	ns   int64
	err  error
}

// Run detects, fuses, groups and (when enabled) lays out one image. Both
// detectors run concurrently; a failing detector is logged and replaced by
// an empty list. Run has no timeout of its own: a cancelled ctx abandons the
// run and its error is returned.
func (p *Pipeline) Run(ctx context.Context, img image.Image) (*Result, error) {
	if p == nil || p.fuser == nil || p.grouper == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if p.shapes == nil && p.texts == nil {
		return nil, errors.New("pipeline has no detectors")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	var shapeOut, textOut detectOutcome
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		shapeOut = runDetector(ctx, p.shapes, img)
	}()
	go func() {
		defer wg.Done()
		textOut = runDetector(ctx, p.texts, img)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		slog.Debug("run abandoned", "error", err)
		return nil, err
	}

	stats := Stats{
		ShapeDetectionNs: shapeOut.ns,
		TextDetectionNs:  textOut.ns,
		DetectionNs:      time.Since(start).Nanoseconds(),
	}
	var derrs []*DetectorError
	for _, o := range []struct {
		src detection.Source
		out *detectOutcome
	}{{detection.SourceShape, &shapeOut}, {detection.SourceText, &textOut}} {
		if o.out.err == nil {
			continue
		}
		derr := &DetectorError{Source: o.src, Err: o.out.err}
		slog.Warn("detector failed, continuing with no detections", "source", o.src.String(), "error", o.out.err)
		derrs = append(derrs, derr)
		o.out.dets = nil
		stats.DetectorErrors++
	}

	res := p.process(shapeOut.dets, textOut.dets, img, stats, nil)
	res.DetectorErrors = derrs
	for _, derr := range derrs {
		res.Warnings = append(res.Warnings, derr.Error())
	}
	res.Stats.TotalNs = time.Since(start).Nanoseconds()
	return res, nil
}

// RunDetections runs fusion, grouping and layout on detections that were
// produced elsewhere. img may be nil; the layout then renders placeholders.
func (p *Pipeline) RunDetections(shapes, texts []detection.Detection, img image.Image) (*Result, error) {
	return p.RunStages(shapes, texts, img, nil)
}

// RunStages is RunDetections with onStage called after every stage. The
// result handed to onStage is filled up to that stage and must not be kept
// past the call.
func (p *Pipeline) RunStages(shapes, texts []detection.Detection, img image.Image, onStage StageFunc) (*Result, error) {
	if p == nil || p.fuser == nil || p.grouper == nil {
		return nil, errors.New("pipeline not initialized")
	}
	start := time.Now()
	res := p.process(shapes, texts, img, Stats{}, onStage)
	res.Stats.TotalNs = time.Since(start).Nanoseconds()
	return res, nil
}

func runDetector(ctx context.Context, d Detector, img image.Image) (out detectOutcome) {
	if d == nil {
		return out
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("detector panicked: %v", r)
		}
		out.ns = time.Since(start).Nanoseconds()
	}()
	out.dets, out.err = d.Detect(ctx, img)
	return out
}

// process is the single-threaded part of a run.
func (p *Pipeline) process(shapes, texts []detection.Detection, img image.Image, stats Stats, onStage StageFunc) *Result {
	if onStage == nil {
		onStage = func(Stage, *Result) {}
	}
	res := &Result{
		Shapes: detection.Normalize(shapes, detection.SourceShape, true),
		Texts:  detection.Normalize(texts, detection.SourceText, true),
	}
	if img != nil {
		b := img.Bounds()
		res.Width, res.Height = b.Dx(), b.Dy()
	}
	onStage(StageNormalized, res)

	t := time.Now()
	fused := p.fuser.Fuse(res.Shapes, res.Texts)
	res.Fused = fused.Detections
	res.FusionStats = fused.Stats
	stats.FusionNs = time.Since(t).Nanoseconds()
	onStage(StageFused, res)

	t = time.Now()
	res.Groups = p.grouper.Group(res.Fused)
	res.GroupStats = res.Groups.Stats
	stats.GroupingNs = time.Since(t).Nanoseconds()
	onStage(StageGrouped, res)

	if p.composer != nil {
		t = time.Now()
		res.Layout = p.composer.Compose(res.Groups, img)
		stats.LayoutNs = time.Since(t).Nanoseconds()
		onStage(StageComposed, res)
	}
	res.Stats = stats

	slog.Debug("run complete",
		"shapes", len(res.Shapes),
		"texts", len(res.Texts),
		"fused", len(res.Fused),
		"groups", res.Groups.Len(),
		"fusion_ms", float64(stats.FusionNs)/1e6,
		"grouping_ms", float64(stats.GroupingNs)/1e6)
	return res
}
