package config

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/fusion"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
	"github.com/MeKo-Tech/boxfuse/internal/layout"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

// Config represents the complete configuration for boxfuse. It covers every
// command (fuse, group, compose, batch, serve) and is loaded from config
// files, environment variables and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose"   yaml:"verbose"   json:"verbose"`

	Fusion    fusion.Config   `mapstructure:"fusion"    yaml:"fusion"    json:"fusion"`
	Grouping  grouping.Config `mapstructure:"grouping"  yaml:"grouping"  json:"grouping"`
	Layout    LayoutConfig    `mapstructure:"layout"    yaml:"layout"    json:"layout"`
	Detectors DetectorsConfig `mapstructure:"detectors" yaml:"detectors" json:"detectors"`
	Output    OutputConfig    `mapstructure:"output"    yaml:"output"    json:"output"`
	Server    ServerConfig    `mapstructure:"server"    yaml:"server"    json:"server"`
	Batch     BatchConfig     `mapstructure:"batch"     yaml:"batch"     json:"batch"`
}

// LayoutConfig is the canvas configuration plus the stage toggle.
type LayoutConfig struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	layout.Config `mapstructure:",squash" yaml:",inline"`
}

// DetectorsConfig points at external detector services. Empty URLs mean
// detections come from files.
type DetectorsConfig struct {
	ShapeURL   string `mapstructure:"shape_url"   yaml:"shape_url"   json:"shape_url"`
	TextURL    string `mapstructure:"text_url"    yaml:"text_url"    json:"text_url"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// Timeout returns the per-request detector timeout.
func (d DetectorsConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file"   yaml:"file"   json:"file"`
	Dir    string `mapstructure:"dir"    yaml:"dir"    json:"dir"`
	Prefix string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host"             yaml:"host"             json:"host"`
	Port            int    `mapstructure:"port"             yaml:"port"             json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin"      yaml:"cors_origin"      json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb"    yaml:"max_upload_mb"    json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec"      yaml:"timeout_sec"      json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"              yaml:"enabled"              json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"  yaml:"requests_per_minute"  json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour"    yaml:"requests_per_hour"    json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb"  yaml:"max_data_per_day_mb"  json:"max_data_per_day_mb"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers"           yaml:"workers"           json:"workers"`
	OutputDir       string   `mapstructure:"output_dir"        yaml:"output_dir"        json:"output_dir"`
	Recursive       bool     `mapstructure:"recursive"         yaml:"recursive"         json:"recursive"`
	Include         []string `mapstructure:"include"           yaml:"include"           json:"include"`
	Exclude         []string `mapstructure:"exclude"           yaml:"exclude"           json:"exclude"`
	ContinueOnError bool     `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

var (
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"text", "json", "yaml", "csv"}
)

// DefaultConfig returns a configuration with the engine defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		Fusion:    fusion.DefaultConfig(),
		Grouping:  grouping.DefaultConfig(),
		Layout:    LayoutConfig{Enabled: true, Config: layout.DefaultConfig()},
		Detectors: DetectorsConfig{TimeoutSec: 30},
		Output: OutputConfig{
			Format: "text",
			Dir:    ".",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
		Batch: BatchConfig{
			Workers:         runtime.NumCPU(),
			OutputDir:       "out",
			ContinueOnError: true,
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.validateEnums(); err != nil {
		return err
	}
	if err := c.validateFusion(); err != nil {
		return err
	}
	if err := c.validateGrouping(); err != nil {
		return err
	}
	if err := c.validateLayout(); err != nil {
		return err
	}
	return c.validateServices()
}

func (c *Config) validateEnums() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if p := c.Grouping.TiePolicy; p != "" && !p.Valid() {
		return fmt.Errorf("invalid grouping.tie_policy: %s (must be one of: %s, %s)", p, grouping.TieHorizontal, grouping.TieVertical)
	}
	return nil
}

func (c *Config) validateFusion() error {
	if err := validateThreshold(c.Fusion.IoUThreshold, "fusion.iou_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Fusion.ContainmentThreshold, "fusion.containment_threshold"); err != nil {
		return err
	}
	if c.Fusion.MinArea < 0 {
		return fmt.Errorf("invalid fusion.min_area: %.2f (must not be negative)", c.Fusion.MinArea)
	}
	if c.Fusion.MaxTextInsideIcon < 0 {
		return fmt.Errorf("invalid fusion.max_text_inside_icon: %d (must not be negative)", c.Fusion.MaxTextInsideIcon)
	}
	return nil
}

func (c *Config) validateGrouping() error {
	g := c.Grouping
	if err := validatePositive(g.LongBoxThreshold, "grouping.long_box_threshold"); err != nil {
		return err
	}
	if err := validatePositive(g.LongBoxScaleMax, "grouping.long_box_scale_max"); err != nil {
		return err
	}
	if g.YVarianceTolerance < 0 {
		return fmt.Errorf("invalid grouping.y_variance_tolerance: %.2f (must not be negative)", g.YVarianceTolerance)
	}
	if g.HorizontalTolerancePx < 0 {
		return fmt.Errorf("invalid grouping.horizontal_tolerance_px: %d (must not be negative)", g.HorizontalTolerancePx)
	}
	return validateThreshold(g.OverlapAllowance, "grouping.overlap_allowance")
}

func (c *Config) validateLayout() error {
	l := c.Layout.Config
	for _, f := range []struct {
		v    int
		name string
	}{
		{l.CanvasWidth, "layout.canvas_width"},
		{l.CanvasHeight, "layout.canvas_height"},
		{l.MinDimension, "layout.min_dimension"},
		{l.MaxHeight, "layout.max_height"},
		{l.LabelHeight, "layout.label_height"},
	} {
		if err := validatePositive(f.v, f.name); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		v    int
		name string
	}{
		{l.Padding, "layout.padding"},
		{l.BaseGap, "layout.base_gap"},
		{l.LabelBuffer, "layout.label_buffer"},
		{l.GroupGap, "layout.group_gap"},
		{l.RowGap, "layout.row_gap"},
		{l.FrameWidth, "layout.frame_width"},
		{l.EfficientPackingWidth, "layout.efficient_packing_width"},
	} {
		if f.v < 0 {
			return fmt.Errorf("invalid %s: %d (must not be negative)", f.name, f.v)
		}
	}
	if usable := l.CanvasWidth - 2*l.Padding; usable < l.MinDimension {
		return fmt.Errorf("invalid layout: usable width %d is smaller than min_dimension %d", usable, l.MinDimension)
	}
	if l.CanvasHeight-2*l.Padding < l.MinDimension+l.LabelHeight {
		return fmt.Errorf("invalid layout: canvas_height %d cannot hold one labelled row", l.CanvasHeight)
	}
	return nil
}

func (c *Config) validateServices() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if err := validatePositive(c.Server.MaxUploadMB, "server.max_upload_mb"); err != nil {
		return err
	}
	if err := validatePositive(c.Server.TimeoutSec, "server.timeout_sec"); err != nil {
		return err
	}
	rl := c.Server.RateLimit
	for _, f := range []struct {
		v    int
		name string
	}{
		{rl.RequestsPerMinute, "server.rate_limit.requests_per_minute"},
		{rl.RequestsPerHour, "server.rate_limit.requests_per_hour"},
		{rl.MaxRequestsPerDay, "server.rate_limit.max_requests_per_day"},
		{rl.MaxDataPerDayMB, "server.rate_limit.max_data_per_day_mb"},
	} {
		if f.v < 0 {
			return fmt.Errorf("invalid %s: %d (must not be negative)", f.name, f.v)
		}
	}
	if err := validatePositive(c.Batch.Workers, "batch.workers"); err != nil {
		return err
	}
	return validatePositive(c.Detectors.TimeoutSec, "detectors.timeout_sec")
}

// ToPipelineConfig converts the config to the pipeline configuration.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Fusion = c.Fusion
	cfg.Grouping = c.Grouping
	cfg.Layout = c.Layout.Config
	cfg.EnableLayout = c.Layout.Enabled
	if c.Batch.Workers > 0 {
		cfg.Parallel.MaxWorkers = c.Batch.Workers
	}
	return cfg
}

func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

func validatePositive(value int, name string) error {
	if value <= 0 {
		return fmt.Errorf("invalid %s: %d (must be positive)", name, value)
	}
	return nil
}
