package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
)

type recordingProgress struct {
	mu       sync.Mutex
	started  int
	progress []int
	errors   []int
	complete bool
}

func (r *recordingProgress) OnStart(total int) { r.started = total }

func (r *recordingProgress) OnProgress(current, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}

func (r *recordingProgress) OnComplete() { r.complete = true }

func (r *recordingProgress) OnError(index int, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, index)
}

func TestDefaultParallelConfig(t *testing.T) {
	cfg := DefaultParallelConfig()
	assert.Positive(t, cfg.MaxWorkers)
	assert.Nil(t, cfg.ProgressCallback)
	assert.Nil(t, cfg.ErrorHandler)
}

func TestRunParallel_Errors(t *testing.T) {
	p := buildStatic(t, nil, nil)
	_, err := p.RunParallel(context.Background(), nil, DefaultParallelConfig())
	require.EqualError(t, err, "no jobs provided")

	var nilP *Pipeline
	_, err = nilP.RunParallel(context.Background(), []Job{{}}, DefaultParallelConfig())
	require.EqualError(t, err, "pipeline not initialized")
}

func TestRunParallel_KeepsInputOrder(t *testing.T) {
	p, err := NewBuilder().WithLayoutEnabled(false).Build()
	require.NoError(t, err)

	jobs := make([]Job, 12)
	for i := range jobs {
		shapes := make([]detection.Detection, i+1)
		for k := range shapes {
			shapes[k] = det(k*100, 0, k*100+30, 20)
		}
		jobs[i] = Job{Name: "job", Shapes: shapes, Detected: true}
	}

	progress := &recordingProgress{}
	results, err := p.RunParallel(context.Background(), jobs, ParallelConfig{MaxWorkers: 4, ProgressCallback: progress})
	require.NoError(t, err)
	require.Len(t, results, len(jobs))
	for i, r := range results {
		require.NotNil(t, r)
		assert.Len(t, r.Fused, i+1, "result %d", i)
	}

	assert.Equal(t, 12, progress.started)
	assert.True(t, progress.complete)
	assert.Len(t, progress.progress, 12)
	assert.Equal(t, 12, progress.progress[len(progress.progress)-1])
}

func TestRunParallel_UsesDetectors(t *testing.T) {
	p := buildStatic(t, []detection.Detection{det(10, 10, 40, 40)}, []detection.Detection{det(100, 100, 200, 120)})
	results, err := p.RunParallel(context.Background(),
		[]Job{{Image: testImage()}, {Image: testImage()}, {Image: testImage()}},
		ParallelConfig{MaxWorkers: 2})
	require.NoError(t, err)
	for _, r := range results {
		assert.Len(t, r.Fused, 2)
		assert.Equal(t, 400, r.Width)
	}

	stats := CalculateParallelStats(results, time.Second, 2)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 6, stats.Fused)
	assert.Equal(t, 3, stats.Composites)
	assert.InDelta(t, 3.0, stats.ThroughputPerSec, 1e-9)
	assert.Equal(t, time.Second/3, stats.AveragePerJob)
}

func TestRunParallel_ReportsJobErrors(t *testing.T) {
	p, err := NewBuilder().WithShapeDetector(detection.NewStaticDetector(nil)).Build()
	require.NoError(t, err)

	// Without a grouper every job fails.
	broken := *p
	broken.grouper = nil

	var handled []int
	var mu sync.Mutex
	progress := &recordingProgress{}
	results, err := broken.RunParallel(context.Background(),
		[]Job{{Detected: true}, {Detected: true}},
		ParallelConfig{
			MaxWorkers:       2,
			ProgressCallback: progress,
			ErrorHandler: func(i int, _ Job, err error) {
				mu.Lock()
				defer mu.Unlock()
				handled = append(handled, i)
			},
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 0: pipeline not initialized")
	assert.Equal(t, []*Result{nil, nil}, results)
	assert.ElementsMatch(t, []int{0, 1}, handled)
	assert.ElementsMatch(t, []int{0, 1}, progress.errors)

	stats := CalculateParallelStats(results, time.Second, 2)
	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.AveragePerJob)
}

func TestRunParallel_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := buildStatic(t, nil, nil)
	results, err := p.RunParallel(ctx, []Job{{Image: testImage()}}, ParallelConfig{MaxWorkers: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}
