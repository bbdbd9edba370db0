package config

import (
	"testing"

	"github.com/MeKo-Tech/boxfuse/internal/fusion"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
	"github.com/MeKo-Tech/boxfuse/internal/layout"
)

const infoLevel = "info"

// TestDefaultConfig verifies that DefaultConfig returns expected values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != infoLevel {
		t.Errorf("expected log level %q, got %q", infoLevel, cfg.LogLevel)
	}
	if cfg.Fusion != fusion.DefaultConfig() {
		t.Errorf("fusion defaults differ: %+v", cfg.Fusion)
	}
	if cfg.Grouping != grouping.DefaultConfig() {
		t.Errorf("grouping defaults differ: %+v", cfg.Grouping)
	}
	if cfg.Layout.Config != layout.DefaultConfig() || !cfg.Layout.Enabled {
		t.Errorf("layout defaults differ: %+v", cfg.Layout)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Batch.Workers <= 0 {
		t.Errorf("expected positive batch workers, got %d", cfg.Batch.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestValidateEnums(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		format    string
		tie       grouping.TiePolicy
		wantError bool
	}{
		{"defaults", infoLevel, "text", grouping.TieHorizontal, false},
		{"debug json", "debug", "json", grouping.TieVertical, false},
		{"yaml output", "warn", "yaml", "", false},
		{"csv output", "error", "csv", grouping.TieHorizontal, false},
		{"empty format is valid", infoLevel, "", grouping.TieHorizontal, false},
		{"invalid log level", "loud", "text", grouping.TieHorizontal, true},
		{"invalid format", infoLevel, "xml", grouping.TieHorizontal, true},
		{"invalid tie policy", infoLevel, "text", "diagonal", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = tt.logLevel
			cfg.Output.Format = tt.format
			cfg.Grouping.TiePolicy = tt.tie

			err := cfg.validateEnums()
			if (err != nil) != tt.wantError {
				t.Errorf("validateEnums() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateThresholds(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*Config)
		wantError bool
	}{
		{"valid", func(*Config) {}, false},
		{"iou above one", func(c *Config) { c.Fusion.IoUThreshold = 1.5 }, true},
		{"iou negative", func(c *Config) { c.Fusion.IoUThreshold = -0.1 }, true},
		{"containment above one", func(c *Config) { c.Fusion.ContainmentThreshold = 1.1 }, true},
		{"negative min area", func(c *Config) { c.Fusion.MinArea = -1 }, true},
		{"negative max text inside icon", func(c *Config) { c.Fusion.MaxTextInsideIcon = -1 }, true},
		{"zero max text inside icon", func(c *Config) { c.Fusion.MaxTextInsideIcon = 0 }, false},
		{"overlap allowance above one", func(c *Config) { c.Grouping.OverlapAllowance = 2 }, true},
		{"zero long box threshold", func(c *Config) { c.Grouping.LongBoxThreshold = 0 }, true},
		{"negative y variance", func(c *Config) { c.Grouping.YVarianceTolerance = -1 }, true},
		{"negative horizontal tolerance", func(c *Config) { c.Grouping.HorizontalTolerancePx = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateLayout(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*layout.Config)
		wantError bool
	}{
		{"valid", func(*layout.Config) {}, false},
		{"zero canvas width", func(l *layout.Config) { l.CanvasWidth = 0 }, true},
		{"zero min dimension", func(l *layout.Config) { l.MinDimension = 0 }, true},
		{"negative padding", func(l *layout.Config) { l.Padding = -1 }, true},
		{"negative group gap", func(l *layout.Config) { l.GroupGap = -5 }, true},
		{"zero frame width is fine", func(l *layout.Config) { l.FrameWidth = 0 }, false},
		{"padding eats the canvas", func(l *layout.Config) { l.Padding = 630 }, true},
		{"canvas too short for a row", func(l *layout.Config) { l.CanvasHeight = 60 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(&cfg.Layout.Config)
			err := cfg.validateLayout()
			if (err != nil) != tt.wantError {
				t.Errorf("validateLayout() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidateServices(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*Config)
		wantError bool
	}{
		{"valid", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"upload zero", func(c *Config) { c.Server.MaxUploadMB = 0 }, true},
		{"timeout zero", func(c *Config) { c.Server.TimeoutSec = 0 }, true},
		{"batch workers zero", func(c *Config) { c.Batch.Workers = 0 }, true},
		{"detector timeout zero", func(c *Config) { c.Detectors.TimeoutSec = 0 }, true},
		{"rate limits off", func(c *Config) { c.Server.RateLimit = RateLimitConfig{Enabled: true} }, false},
		{"negative per minute", func(c *Config) { c.Server.RateLimit.RequestsPerMinute = -1 }, true},
		{"negative data quota", func(c *Config) { c.Server.RateLimit.MaxDataPerDayMB = -5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(&cfg)
			err := cfg.validateServices()
			if (err != nil) != tt.wantError {
				t.Errorf("validateServices() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fusion.IoUThreshold = 0.75
	cfg.Grouping.TiePolicy = grouping.TieVertical
	cfg.Layout.Enabled = false
	cfg.Layout.CanvasWidth = 640
	cfg.Batch.Workers = 3

	pc := cfg.ToPipelineConfig()
	if pc.Fusion.IoUThreshold != 0.75 {
		t.Errorf("fusion threshold not carried over: %v", pc.Fusion.IoUThreshold)
	}
	if pc.Grouping.TiePolicy != grouping.TieVertical {
		t.Errorf("tie policy not carried over: %v", pc.Grouping.TiePolicy)
	}
	if pc.EnableLayout {
		t.Error("layout should be disabled")
	}
	if pc.Layout.CanvasWidth != 640 {
		t.Errorf("canvas width not carried over: %d", pc.Layout.CanvasWidth)
	}
	if pc.Parallel.MaxWorkers != 3 {
		t.Errorf("expected 3 workers, got %d", pc.Parallel.MaxWorkers)
	}
}

func TestDetectorsTimeout(t *testing.T) {
	d := DetectorsConfig{TimeoutSec: 5}
	if got := d.Timeout().Seconds(); got != 5 {
		t.Errorf("expected 5s, got %v", got)
	}
}

func TestValidateThreshold(t *testing.T) {
	for _, v := range []float64{0, 0.5, 1} {
		if err := validateThreshold(v, "x"); err != nil {
			t.Errorf("validateThreshold(%v) = %v", v, err)
		}
	}
	for _, v := range []float64{-0.01, 1.01} {
		if err := validateThreshold(v, "x"); err == nil {
			t.Errorf("validateThreshold(%v) should fail", v)
		}
	}
}
