package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/geometry"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

func det(x1, y1, x2, y2 int) detection.Detection {
	return detection.Detection{Box: geometry.NewBox(x1, y1, x2, y2), Confidence: 0.9}
}

func testImage() image.Image {
	return utils.Placeholder(400, 300, color.White)
}

func buildStatic(t *testing.T, shapes, texts []detection.Detection) *Pipeline {
	t.Helper()
	p, err := NewBuilder().
		WithShapeDetector(detection.NewStaticDetector(shapes)).
		WithTextDetector(detection.NewStaticDetector(texts)).
		Build()
	require.NoError(t, err)
	return p
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.EnableLayout)
	assert.InDelta(t, 0.9, cfg.Fusion.IoUThreshold, 1e-9)
	assert.Equal(t, 600, cfg.Grouping.LongBoxThreshold)
	assert.Equal(t, 1280, cfg.Layout.CanvasWidth)
	assert.Positive(t, cfg.Parallel.MaxWorkers)
}

func TestBuilder(t *testing.T) {
	b := NewBuilder().
		WithParallelWorkers(3).
		WithParallelWorkers(0).
		WithProgressCallback(NoOpProgressCallback{}).
		WithLayoutEnabled(false)
	cfg := b.Config()
	assert.Equal(t, 3, cfg.Parallel.MaxWorkers)
	assert.False(t, cfg.EnableLayout)
	assert.NotNil(t, cfg.Parallel.ProgressCallback)

	p, err := b.Build()
	require.NoError(t, err)
	assert.Nil(t, p.composer)
	info := p.Info()
	assert.Equal(t, false, info["layout_on"])
	assert.Equal(t, false, info["shape_adapter"])

	var nb *Builder
	_, err = nb.Build()
	require.Error(t, err)
}

func TestRun_FusesGroupsAndLaysOut(t *testing.T) {
	shapes := []detection.Detection{det(10, 10, 40, 40), det(60, 10, 90, 40)}
	texts := []detection.Detection{det(12, 12, 38, 38), det(200, 200, 300, 220)}
	p := buildStatic(t, shapes, texts)

	res, err := p.Run(context.Background(), testImage())
	require.NoError(t, err)

	assert.Equal(t, 400, res.Width)
	assert.Equal(t, 300, res.Height)
	require.Len(t, res.Shapes, 2)
	require.Len(t, res.Texts, 2)
	assert.Equal(t, 1, res.Texts[1].ID)
	assert.Equal(t, detection.SourceText, res.Texts[0].Source)
	assert.Equal(t, detection.TypeText, res.Texts[0].Type)

	// The text inside the first shape is consumed and the shape retagged.
	require.Len(t, res.Fused, 3)
	for i, f := range res.Fused {
		assert.Equal(t, i, f.MergedID)
	}
	assert.Equal(t, detection.TypeText, res.Fused[0].Type)
	assert.Equal(t, 1, res.FusionStats.Retagged)

	assert.Equal(t, 3, res.Groups.BoxCount())
	assert.Equal(t, res.Groups.Stats, res.GroupStats)
	require.NotNil(t, res.Layout)
	assert.Len(t, res.Layout.Mapping, 3)
	assert.Zero(t, res.Layout.Stats.Placeholders)
	assert.Zero(t, res.Stats.DetectorErrors)
	assert.Positive(t, res.Stats.TotalNs)
	assert.Empty(t, res.Warnings)
}

func TestRun_DetectorsRunConcurrently(t *testing.T) {
	started := make(chan struct{}, 2)
	both := make(chan struct{})
	var arrived atomic.Int32
	wait := func(ctx context.Context, _ image.Image) ([]detection.Detection, error) {
		started <- struct{}{}
		if arrived.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return []detection.Detection{det(0, 0, 10, 10)}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("detectors did not overlap")
		}
	}
	p, err := NewBuilder().
		WithShapeDetector(DetectorFunc(wait)).
		WithTextDetector(DetectorFunc(wait)).
		Build()
	require.NoError(t, err)

	res, err := p.Run(context.Background(), testImage())
	require.NoError(t, err)
	assert.Len(t, started, 2)
	assert.Zero(t, res.Stats.DetectorErrors)
}

func TestRun_FailingDetectorDegrades(t *testing.T) {
	failing := DetectorFunc(func(context.Context, image.Image) ([]detection.Detection, error) {
		return []detection.Detection{det(0, 0, 5, 5)}, errors.New("model offline")
	})
	p, err := NewBuilder().
		WithShapeDetector(detection.NewStaticDetector([]detection.Detection{det(10, 10, 40, 40)})).
		WithTextDetector(failing).
		Build()
	require.NoError(t, err)

	res, err := p.Run(context.Background(), testImage())
	require.NoError(t, err)
	assert.Empty(t, res.Texts)
	assert.Len(t, res.Fused, 1)
	assert.Equal(t, 1, res.Stats.DetectorErrors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "text detector: model offline")

	require.Len(t, res.DetectorErrors, 1)
	var derr *DetectorError
	require.ErrorAs(t, res.DetectorErrors[0], &derr)
	assert.Equal(t, detection.SourceText, derr.Source)
	assert.EqualError(t, errors.Unwrap(derr), "model offline")
}

func TestRun_PanickingDetectorDegrades(t *testing.T) {
	p, err := NewBuilder().
		WithShapeDetector(DetectorFunc(func(context.Context, image.Image) ([]detection.Detection, error) {
			panic("boom")
		})).
		WithTextDetector(detection.NewStaticDetector([]detection.Detection{det(10, 10, 40, 20)})).
		Build()
	require.NoError(t, err)

	res, err := p.Run(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.DetectorErrors)
	assert.Len(t, res.Fused, 1)
	assert.Contains(t, res.Warnings[0], "panicked")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := buildStatic(t, nil, nil)
	res, err := p.Run(ctx, testImage())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	ctx, cancel = context.WithCancel(context.Background())
	slow := DetectorFunc(func(ctx context.Context, _ image.Image) ([]detection.Detection, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p, err = NewBuilder().WithShapeDetector(slow).Build()
	require.NoError(t, err)
	_, err = p.Run(ctx, testImage())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_Errors(t *testing.T) {
	var p *Pipeline
	_, err := p.Run(context.Background(), testImage())
	require.Error(t, err)

	p, err = NewBuilder().Build()
	require.NoError(t, err)
	_, err = p.Run(context.Background(), testImage())
	require.EqualError(t, err, "pipeline has no detectors")
}

func TestRunDetections(t *testing.T) {
	p, err := NewBuilder().WithLayoutEnabled(false).Build()
	require.NoError(t, err)

	shapes := []detection.Detection{det(0, 0, 20, 20), det(30, 0, 50, 20)}
	shapes[1].Source = detection.SourceText
	shapes[1].Type = detection.TypeText
	shapes[1].ID = 42

	res, err := p.RunDetections(shapes, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Layout)
	assert.Zero(t, res.Width)
	assert.Equal(t, detection.SourceShape, res.Shapes[1].Source)
	assert.Equal(t, detection.TypeIcon, res.Shapes[1].Type)
	assert.Equal(t, 1, res.Shapes[1].ID)
	assert.Equal(t, 42, shapes[1].ID, "input must not be modified")
	assert.Equal(t, []string{"H0"}, res.Groups.IDs())
}

func TestRunDetections_Empty(t *testing.T) {
	p, err := NewBuilder().Build()
	require.NoError(t, err)
	res, err := p.RunDetections(nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Fused)
	assert.Zero(t, res.Groups.Len())
	require.NotNil(t, res.Layout)
	assert.Empty(t, res.Layout.Composites)
}

func TestDetectorError(t *testing.T) {
	inner := errors.New("timeout")
	var err error = &DetectorError{Source: detection.SourceShape, Err: inner}
	assert.EqualError(t, err, "shape detector: timeout")
	require.ErrorIs(t, err, inner)
	var de *DetectorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, detection.SourceShape, de.Source)
}

func TestRunStages(t *testing.T) {
	p, err := NewBuilder().Build()
	require.NoError(t, err)

	var stages []Stage
	var fusedAtGroup int
	res, err := p.RunStages(
		[]detection.Detection{det(10, 10, 40, 40), det(50, 10, 80, 40)},
		[]detection.Detection{det(10, 100, 200, 120)},
		testImage(),
		func(s Stage, r *Result) {
			stages = append(stages, s)
			if s == StageGrouped {
				fusedAtGroup = len(r.Fused)
				assert.NotNil(t, r.Groups)
				assert.Nil(t, r.Layout)
			}
		})
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageNormalized, StageFused, StageGrouped, StageComposed}, stages)
	assert.Equal(t, 3, fusedAtGroup)
	assert.NotNil(t, res.Layout)

	p, err = NewBuilder().WithLayoutEnabled(false).Build()
	require.NoError(t, err)
	stages = nil
	_, err = p.RunStages(nil, nil, nil, func(s Stage, _ *Result) { stages = append(stages, s) })
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageNormalized, StageFused, StageGrouped}, stages)
}
