package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
)

// ParallelConfig controls RunParallel.
type ParallelConfig struct {
	MaxWorkers       int                   // 0 = runtime.NumCPU()
	ProgressCallback ProgressCallback      // optional
	ErrorHandler     func(int, Job, error) // optional, called once per failed job
}

// DefaultParallelConfig uses one worker per CPU.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

// Job is one independent run. When Detected is set the job's Shapes and
// Texts are used as is and the pipeline's detectors are not called.
type Job struct {
	Name     string
	Image    image.Image
	Shapes   []detection.Detection
	Texts    []detection.Detection
	Detected bool
	// Warnings are copied onto the job's result.
	Warnings []string
}

type runJob struct {
	index int
	job   Job
}

type runResult struct {
	index  int
	result *Result
	err    error
}

// RunParallel runs every job on a worker pool and returns the results in
// input order. Failed jobs leave a nil entry; the first failure is returned
// as the error after all jobs finished.
func (p *Pipeline) RunParallel(ctx context.Context, jobs []Job, cfg ParallelConfig) ([]*Result, error) {
	if len(jobs) == 0 {
		return nil, errors.New("no jobs provided")
	}
	if p == nil || p.fuser == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	workers := min(cfg.MaxWorkers, len(jobs))

	if cfg.ProgressCallback != nil {
		cfg.ProgressCallback.OnStart(len(jobs))
		defer cfg.ProgressCallback.OnComplete()
	}

	queue := make(chan runJob, len(jobs))
	results := make(chan runResult, len(jobs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.worker(ctx, queue, results, &wg)
	}

	go func() {
		defer close(queue)
		for i, j := range jobs {
			select {
			case queue <- runJob{index: i, job: j}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*Result, len(jobs))
	errs := make([]error, len(jobs))
	done := 0
	for r := range results {
		ordered[r.index] = r.result
		errs[r.index] = r.err
		done++
		if cfg.ProgressCallback == nil {
			continue
		}
		if r.err != nil {
			cfg.ProgressCallback.OnError(r.index, r.err)
		}
		cfg.ProgressCallback.OnProgress(done, len(jobs))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var firstErr error
	for i, err := range errs {
		if err == nil {
			continue
		}
		ordered[i] = nil
		if firstErr == nil {
			firstErr = fmt.Errorf("job %d: %w", i, err)
		}
		if cfg.ErrorHandler != nil {
			cfg.ErrorHandler(i, jobs[i], err)
		}
	}
	return ordered, firstErr
}

func (p *Pipeline) worker(ctx context.Context, queue <-chan runJob, results chan<- runResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case j, ok := <-queue:
			if !ok {
				return
			}
			res, err := p.runJob(ctx, j.job)
			select {
			case results <- runResult{index: j.index, result: res, err: err}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) runJob(ctx context.Context, j Job) (*Result, error) {
	var res *Result
	var err error
	if j.Detected || (p.shapes == nil && p.texts == nil) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err = p.RunDetections(j.Shapes, j.Texts, j.Image)
	} else {
		res, err = p.Run(ctx, j.Image)
	}
	if res != nil && len(j.Warnings) > 0 {
		res.Warnings = append(slices.Clone(j.Warnings), res.Warnings...)
	}
	return res, err
}

// ParallelStats summarises a RunParallel call.
type ParallelStats struct {
	TotalJobs        int           `json:"total_jobs"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	WorkerCount      int           `json:"worker_count"`
	Fused            int           `json:"fused"`
	Groups           int           `json:"groups"`
	Composites       int           `json:"composites"`
	DetectorErrors   int           `json:"detector_errors"`
	TotalDuration    time.Duration `json:"total_duration_ns"`
	AveragePerJob    time.Duration `json:"average_per_job_ns"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
}

// CalculateParallelStats aggregates the results of one RunParallel call.
func CalculateParallelStats(results []*Result, duration time.Duration, workers int) ParallelStats {
	s := ParallelStats{TotalJobs: len(results), WorkerCount: workers, TotalDuration: duration}
	for _, r := range results {
		if r == nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		s.Fused += len(r.Fused)
		s.Groups += r.Groups.Len()
		s.DetectorErrors += r.Stats.DetectorErrors
		if r.Layout != nil {
			s.Composites += len(r.Layout.Composites)
		}
	}
	if s.Succeeded > 0 {
		s.AveragePerJob = duration / time.Duration(s.Succeeded)
		if duration > 0 {
			s.ThroughputPerSec = float64(s.Succeeded) / duration.Seconds()
		}
	}
	return s
}
