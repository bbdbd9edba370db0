package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the fusion API",
	Long: `Start an HTTP server that exposes fusion, grouping and composite layout.

The server provides the following endpoints:
  POST /v1/fuse    - Fuse uploaded detections
  POST /v1/group   - Fuse and group
  POST /v1/compose - Fuse, group and compose (json, png or csv)
  GET  /v1/ws      - WebSocket stream of stage events
  GET  /v1/info    - Pipeline configuration and profile
  GET  /health     - Health check endpoint
  GET  /metrics    - Prometheus metrics

Examples:
  boxfuse serve
  boxfuse serve --port 8080
  boxfuse serve --host 0.0.0.0 --shape-url http://detector:9000/detect`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}

		maxUploadSize := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadSize, _ = cmd.Flags().GetInt("max-upload-size")
		}

		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		shapeURL := cfg.Detectors.ShapeURL
		if cmd.Flags().Changed("shape-url") {
			shapeURL, _ = cmd.Flags().GetString("shape-url")
		}

		textURL := cfg.Detectors.TextURL
		if cmd.Flags().Changed("text-url") {
			textURL, _ = cmd.Flags().GetString("text-url")
		}

		// Extract rate limiting configuration
		rl := cfg.Server.RateLimit
		if cmd.Flags().Changed("rate-limit-enabled") {
			rl.Enabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
		}
		if cmd.Flags().Changed("requests-per-minute") {
			rl.RequestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
		}
		if cmd.Flags().Changed("requests-per-hour") {
			rl.RequestsPerHour, _ = cmd.Flags().GetInt("requests-per-hour")
		}
		if cmd.Flags().Changed("max-requests-per-day") {
			rl.MaxRequestsPerDay, _ = cmd.Flags().GetInt("max-requests-per-day")
		}
		if cmd.Flags().Changed("max-data-per-day-mb") {
			rl.MaxDataPerDayMB, _ = cmd.Flags().GetInt("max-data-per-day-mb")
		}

		if err := applyEngineFlags(cmd, cfg); err != nil {
			return err
		}

		// Validate port number
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}

		ctx, cancel := context.WithCancel(commandContext(cmd))
		defer cancel()

		serverConfig := server.Config{
			Host:           host,
			Port:           port,
			CORSOrigin:     corsOrigin,
			MaxUploadMB:    int64(maxUploadSize),
			TimeoutSec:     timeout,
			PipelineConfig: cfg.ToPipelineConfig(),
			RateLimit: server.RateLimitConfig{
				Enabled:           rl.Enabled,
				RequestsPerMinute: rl.RequestsPerMinute,
				RequestsPerHour:   rl.RequestsPerHour,
				MaxRequestsPerDay: rl.MaxRequestsPerDay,
				MaxDataPerDay:     int64(rl.MaxDataPerDayMB) * 1024 * 1024,
			},
		}
		if shapeURL != "" {
			serverConfig.ShapeDetector = detection.NewHTTPDetector(shapeURL, cfg.Detectors.Timeout())
		}
		if textURL != "" {
			serverConfig.TextDetector = detection.NewHTTPDetector(textURL, cfg.Detectors.Timeout())
		}

		// Initialize server
		fusionServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		go fusionServer.SweepRateLimits(ctx, time.Hour)

		httpServer := &http.Server{
			Addr:              serverConfig.Addr(),
			Handler:           fusionServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("Starting fusion server", "host", host, "port", port,
				"shape_detector", shapeURL, "text_detector", textURL, "rate_limit", rl.Enabled)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
			return err
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	// Detector services
	serveCmd.Flags().String("shape-url", "", "shape detector endpoint used when a request carries no detections")
	serveCmd.Flags().String("text-url", "", "text detector endpoint used when a request carries no detections")
	addEngineFlags(serveCmd)
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0 = unlimited)")
	serveCmd.Flags().Int("max-data-per-day-mb", 0, "maximum upload volume per day per client in MB (0 = unlimited)")
}
