// Package batch runs fusion, grouping and layout over a set of screenshots
// whose detector output lives in sidecar JSON files.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

// Item is the outcome for one screenshot. Err is set when loading, running
// or writing the outputs failed.
type Item struct {
	Path    string
	Stem    string
	Result  *pipeline.Result
	Outputs []string
	Err     error
}

// Result holds the result of batch processing.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// ProcessBatch discovers screenshots under imagePaths, runs every one
// through the pipeline on a worker pool and writes the outputs. Unless
// ContinueOnError is set the first failure aborts with an error.
func ProcessBatch(ctx context.Context, imagePaths []string, cfg *Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	files, err := discoverImageFiles(imagePaths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}

	pl, err := buildPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	stems := uniqueStems(files)
	items := make([]Item, len(files))
	jobs := make([]pipeline.Job, 0, len(files))
	jobItem := make([]int, 0, len(files))
	for i, path := range files {
		items[i] = Item{Path: path, Stem: stems[i]}
		job, err := loadJob(path)
		if err != nil {
			if !cfg.ContinueOnError {
				return nil, err
			}
			slog.Warn("skipping image", "file", path, "error", err)
			items[i].Err = err
			continue
		}
		jobs = append(jobs, job)
		jobItem = append(jobItem, i)
	}

	start := time.Now()
	if len(jobs) > 0 {
		runErrs := make([]error, len(jobs))
		pcfg := pl.Config().Parallel
		pcfg.ErrorHandler = func(i int, _ pipeline.Job, err error) { runErrs[i] = err }
		results, runErr := pl.RunParallel(ctx, jobs, pcfg)
		if results == nil {
			return nil, fmt.Errorf("batch processing failed: %w", runErr)
		}
		if runErr != nil && !cfg.ContinueOnError {
			return nil, fmt.Errorf("batch processing failed: %w", runErr)
		}
		for j, res := range results {
			it := &items[jobItem[j]]
			if res == nil {
				it.Err = runErrs[j]
				if it.Err == nil {
					it.Err = errors.New("run failed")
				}
				continue
			}
			it.Result = res
			it.Outputs, it.Err = writeOutputs(cfg, it.Stem, res)
			if it.Err != nil && !cfg.ContinueOnError {
				return nil, fmt.Errorf("write outputs for %s: %w", it.Path, it.Err)
			}
		}
	}

	return &Result{
		Items:       items,
		Duration:    time.Since(start),
		WorkerCount: pl.Config().Parallel.MaxWorkers,
	}, nil
}

// buildPipeline creates a detector-less pipeline from the batch
// configuration. Every job carries its own detections.
func buildPipeline(cfg *Config) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithConfig(cfg.Pipeline).
		WithParallelWorkers(cfg.Workers)

	if cfg.ShowProgress && !cfg.Quiet {
		b = b.WithProgressCallback(pipeline.NewConsoleProgressCallback(os.Stderr, "Processing: ").
			WithUpdateInterval(cfg.ProgressInterval))
	}
	return b.Build()
}

// Results returns the pipeline results in input order, nil for failures.
func (r *Result) Results() []*pipeline.Result {
	out := make([]*pipeline.Result, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Result
	}
	return out
}

// Failed counts the screenshots that produced no result.
func (r *Result) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Result == nil || it.Err != nil {
			n++
		}
	}
	return n
}

// FormatResults formats the batch processing results in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r.Items, format)
}

// SaveResults writes the formatted results to outputFile, or to w when
// outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
		return nil
	}
	_, _ = fmt.Fprint(w, output)
	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer, quiet bool) {
	if quiet {
		return
	}
	stats := pipeline.CalculateParallelStats(r.Results(), r.Duration, r.WorkerCount)
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", len(r.Items))
	_, _ = fmt.Fprintf(w, "  Processed: %d\n", stats.Succeeded)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", r.Failed())
	_, _ = fmt.Fprintf(w, "  Fused boxes: %d\n", stats.Fused)
	_, _ = fmt.Fprintf(w, "  Groups: %d\n", stats.Groups)
	_, _ = fmt.Fprintf(w, "  Composites: %d\n", stats.Composites)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", stats.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", stats.TotalDuration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per image: %v\n", stats.AveragePerJob.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", stats.ThroughputPerSec)
}
