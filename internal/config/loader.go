package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "boxfuse"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "BOXFUSE"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, so that flags
// bound by the CLI take part in resolution.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on its own viper instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load resolves defaults, the first config file found on the search path,
// environment variables and bound flags, then validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithoutValidation is Load without the validation step.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads from configFile instead of searching. An empty path
// searches the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &cfg, nil
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetResolvedConfig returns every resolved setting.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that env variables and Unmarshal see
// the full tree.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("fusion.iou_threshold", d.Fusion.IoUThreshold)
	l.v.SetDefault("fusion.containment_threshold", d.Fusion.ContainmentThreshold)
	l.v.SetDefault("fusion.min_area", d.Fusion.MinArea)
	l.v.SetDefault("fusion.max_text_inside_icon", d.Fusion.MaxTextInsideIcon)

	l.v.SetDefault("grouping.long_box_threshold", d.Grouping.LongBoxThreshold)
	l.v.SetDefault("grouping.long_box_scale_max", d.Grouping.LongBoxScaleMax)
	l.v.SetDefault("grouping.y_variance_tolerance", d.Grouping.YVarianceTolerance)
	l.v.SetDefault("grouping.horizontal_tolerance_px", d.Grouping.HorizontalTolerancePx)
	l.v.SetDefault("grouping.overlap_allowance", d.Grouping.OverlapAllowance)
	l.v.SetDefault("grouping.tie_policy", string(d.Grouping.TiePolicy))

	l.v.SetDefault("layout.enabled", d.Layout.Enabled)
	l.v.SetDefault("layout.canvas_width", d.Layout.CanvasWidth)
	l.v.SetDefault("layout.canvas_height", d.Layout.CanvasHeight)
	l.v.SetDefault("layout.min_dimension", d.Layout.MinDimension)
	l.v.SetDefault("layout.max_height", d.Layout.MaxHeight)
	l.v.SetDefault("layout.padding", d.Layout.Padding)
	l.v.SetDefault("layout.base_gap", d.Layout.BaseGap)
	l.v.SetDefault("layout.label_buffer", d.Layout.LabelBuffer)
	l.v.SetDefault("layout.group_gap", d.Layout.GroupGap)
	l.v.SetDefault("layout.row_gap", d.Layout.RowGap)
	l.v.SetDefault("layout.label_height", d.Layout.LabelHeight)
	l.v.SetDefault("layout.efficient_packing_width", d.Layout.EfficientPackingWidth)
	l.v.SetDefault("layout.frame_width", d.Layout.FrameWidth)

	l.v.SetDefault("detectors.shape_url", d.Detectors.ShapeURL)
	l.v.SetDefault("detectors.text_url", d.Detectors.TextURL)
	l.v.SetDefault("detectors.timeout_sec", d.Detectors.TimeoutSec)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.file", d.Output.File)
	l.v.SetDefault("output.dir", d.Output.Dir)
	l.v.SetDefault("output.prefix", d.Output.Prefix)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", d.Server.RateLimit.MaxRequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_data_per_day_mb", d.Server.RateLimit.MaxDataPerDayMB)

	l.v.SetDefault("batch.workers", d.Batch.Workers)
	l.v.SetDefault("batch.output_dir", d.Batch.OutputDir)
	l.v.SetDefault("batch.recursive", d.Batch.Recursive)
	l.v.SetDefault("batch.include", d.Batch.Include)
	l.v.SetDefault("batch.exclude", d.Batch.Exclude)
	l.v.SetDefault("batch.continue_on_error", d.Batch.ContinueOnError)
}

// GenerateDefaultConfigFile writes the defaults to filename, boxfuse.yaml
// when empty.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	l := NewLoaderWith(viper.New())
	l.setDefaults()
	return l.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home, filepath.Join(home, ".config", ConfigFileName))
	}
	if dir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(dir, ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}
