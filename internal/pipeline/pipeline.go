// Package pipeline runs the two detectors, fusion, grouping and the
// optional composite layout for one image, and fans independent runs out
// over a worker pool.
package pipeline

import (
	"context"
	"errors"
	"image"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/fusion"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
	"github.com/MeKo-Tech/boxfuse/internal/layout"
)

// Detector is the contract of an upstream box detector.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]detection.Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image) ([]detection.Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	return f(ctx, img)
}

// Config holds configuration for the pipeline stages.
type Config struct {
	Fusion       fusion.Config
	Grouping     grouping.Config
	Layout       layout.Config
	EnableLayout bool
	Parallel     ParallelConfig
}

// DefaultConfig returns a config with every stage at its defaults and the
// layout stage enabled.
func DefaultConfig() Config {
	return Config{
		Fusion:       fusion.DefaultConfig(),
		Grouping:     grouping.DefaultConfig(),
		Layout:       layout.DefaultConfig(),
		EnableLayout: true,
		Parallel:     DefaultParallelConfig(),
	}
}

// Pipeline wires the detectors to the engines. It holds no per-run state
// and is safe for concurrent use as long as its detectors are.
type Pipeline struct {
	cfg      Config
	shapes   Detector
	texts    Detector
	fuser    *fusion.Engine
	grouper  *grouping.Grouper
	composer *layout.Composer
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg        Config
	shapes     Detector
	texts      Detector
	layoutOpts []layout.Option
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole stage configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithShapeDetector sets the shape/icon detector (list A).
func (b *Builder) WithShapeDetector(d Detector) *Builder {
	b.shapes = d
	return b
}

// WithTextDetector sets the text-region detector (list B).
func (b *Builder) WithTextDetector(d Detector) *Builder {
	b.texts = d
	return b
}

// WithFusion sets the fusion thresholds.
func (b *Builder) WithFusion(cfg fusion.Config) *Builder {
	b.cfg.Fusion = cfg
	return b
}

// WithGrouping sets the grouping thresholds.
func (b *Builder) WithGrouping(cfg grouping.Config) *Builder {
	b.cfg.Grouping = cfg
	return b
}

// WithLayout sets the canvas configuration and enables the layout stage.
func (b *Builder) WithLayout(cfg layout.Config, opts ...layout.Option) *Builder {
	b.cfg.Layout = cfg
	b.cfg.EnableLayout = true
	b.layoutOpts = append(b.layoutOpts, opts...)
	return b
}

// WithLayoutEnabled toggles the layout stage.
func (b *Builder) WithLayoutEnabled(enabled bool) *Builder {
	b.cfg.EnableLayout = enabled
	return b
}

// WithParallelWorkers sets the worker count for RunParallel.
func (b *Builder) WithParallelWorkers(n int) *Builder {
	if n > 0 {
		b.cfg.Parallel.MaxWorkers = n
	}
	return b
}

// WithProgressCallback sets the progress reporter for RunParallel.
func (b *Builder) WithProgressCallback(cb ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = cb
	return b
}

// Config returns the current builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build creates the pipeline. The engines are created once and shared by
// every run.
func (b *Builder) Build() (*Pipeline, error) {
	if b == nil {
		return nil, errors.New("nil builder")
	}
	p := &Pipeline{
		cfg:     b.cfg,
		shapes:  b.shapes,
		texts:   b.texts,
		fuser:   fusion.NewEngine(b.cfg.Fusion),
		grouper: grouping.NewGrouper(b.cfg.Grouping),
	}
	if b.cfg.EnableLayout {
		p.composer = layout.NewComposer(b.cfg.Layout, b.layoutOpts...)
	}
	return p, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// Info reports the effective configuration for logging and the server's
// info endpoint.
func (p *Pipeline) Info() map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return map[string]any{
		"fusion":        p.cfg.Fusion,
		"grouping":      p.cfg.Grouping,
		"layout":        p.cfg.Layout,
		"layout_on":     p.composer != nil,
		"shape_adapter": p.shapes != nil,
		"text_adapter":  p.texts != nil,
		"max_workers":   p.cfg.Parallel.MaxWorkers,
	}
}
