// Package server exposes fusion, grouping and composite layout over HTTP and
// a websocket stage stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/fusion"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

// pipelineRunner is what the handlers need from a pipeline.
type pipelineRunner interface {
	Run(ctx context.Context, img image.Image) (*pipeline.Result, error)
	RunStages(shapes, texts []detection.Detection, img image.Image, onStage pipeline.StageFunc) (*pipeline.Result, error)
	Info() map[string]any
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	full        pipelineRunner // layout enabled
	light       pipelineRunner // fusion and grouping only
	detectors   bool
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter
	profiler    *pipeline.Profiler
	started     time.Time
}

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	PipelineConfig pipeline.Config
	ShapeDetector  pipeline.Detector
	TextDetector   pipeline.Detector
	RateLimit      RateLimitConfig
}

// Addr returns host:port.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string  `json:"status"`
	Version   string  `json:"version,omitempty"`
	Time      string  `json:"time"`
	UptimeSec float64 `json:"uptime_sec"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// FuseResponse is returned by /v1/fuse.
type FuseResponse struct {
	Success  bool              `json:"success"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Fused    []detection.Fused `json:"fused"`
	Stats    fusion.Stats      `json:"stats"`
	Timing   pipeline.Stats    `json:"timing"`
	Warnings []string          `json:"warnings,omitempty"`
}

// GroupResponse is returned by /v1/group.
type GroupResponse struct {
	Success  bool              `json:"success"`
	Fused    []detection.Fused `json:"fused"`
	Groups   *grouping.Result  `json:"groups"`
	Stats    grouping.Stats    `json:"stats"`
	Timing   pipeline.Stats    `json:"timing"`
	Warnings []string          `json:"warnings,omitempty"`
}

// ComposeResponse is returned by /v1/compose.
type ComposeResponse struct {
	Success    bool             `json:"success"`
	Result     *pipeline.Result `json:"result"`
	Composites []string         `json:"composites,omitempty"` // base64 PNG
}

// NewServer builds the two pipelines the handlers share.
func NewServer(cfg Config) (*Server, error) {
	if cfg.MaxUploadMB <= 0 {
		return nil, errors.New("max upload size must be positive")
	}
	base := pipeline.NewBuilder().
		WithConfig(cfg.PipelineConfig).
		WithShapeDetector(cfg.ShapeDetector).
		WithTextDetector(cfg.TextDetector)

	full, err := base.WithLayoutEnabled(true).Build()
	if err != nil {
		return nil, err
	}
	light, err := base.WithLayoutEnabled(false).Build()
	if err != nil {
		return nil, err
	}

	s := &Server{
		full:        full,
		light:       light,
		detectors:   cfg.ShapeDetector != nil || cfg.TextDetector != nil,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		profiler:    &pipeline.Profiler{},
		started:     time.Now(),
	}
	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/v1/info", s.corsMiddleware(s.infoHandler))
	mux.HandleFunc("/v1/fuse", s.corsMiddleware(s.rateLimitMiddleware(s.fuseHandler)))
	mux.HandleFunc("/v1/group", s.corsMiddleware(s.rateLimitMiddleware(s.groupHandler)))
	mux.HandleFunc("/v1/compose", s.corsMiddleware(s.rateLimitMiddleware(s.composeHandler)))
	mux.HandleFunc("/v1/ws", s.rateLimitMiddleware(s.stageWebSocketHandler))
	mux.Handle("/metrics", metricsHandler())
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
