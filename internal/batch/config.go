package batch

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Stage settings
	Pipeline pipeline.Config

	// Output settings
	OutputDir       string
	WriteComposites bool
	WriteResults    bool
	Format          string
	OutputFile      string

	// Parallel processing settings
	Workers         int
	ContinueOnError bool

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ShowStats        bool
	ProgressInterval time.Duration
}

// DefaultConfig returns a batch configuration that writes composites and
// per-image results into ./out.
func DefaultConfig() *Config {
	return &Config{
		Pipeline:         pipeline.DefaultConfig(),
		OutputDir:        "out",
		WriteComposites:  true,
		WriteResults:     true,
		Format:           "text",
		Workers:          runtime.NumCPU(),
		ContinueOnError:  true,
		ShowProgress:     true,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Validate checks the settings that the engines do not check themselves.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil batch config")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if (c.WriteComposites || c.WriteResults) && c.OutputDir == "" {
		return errors.New("output directory required when writing files")
	}
	if c.Format != "" && !slices.Contains([]string{"text", "json", "csv"}, c.Format) {
		return fmt.Errorf("invalid format %q: must be text, json or csv", c.Format)
	}
	return nil
}
