package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
	"github.com/MeKo-Tech/boxfuse/internal/version"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatText = "text"
	formatCSV  = "csv"
	formatPNG  = "png"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Time:      time.Now().UTC().Format(time.RFC3339),
		UptimeSec: time.Since(s.started).Seconds(),
	})
}

// infoHandler reports the effective pipeline configuration and accumulated
// stage timings.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline":      s.full.Info(),
		"detectors":     s.detectors,
		"max_upload_mb": s.maxUploadMB,
		"timeout_sec":   s.timeout.Seconds(),
		"profile":       s.profiler.Snapshot(),
	})
}

// fuseHandler runs fusion and returns the fused list.
func (s *Server) fuseHandler(w http.ResponseWriter, r *http.Request) {
	res, req, ok := s.handleRun(w, r, "fuse", s.light)
	if !ok {
		return
	}
	switch req.Format {
	case "", formatJSON:
		writeJSON(w, http.StatusOK, FuseResponse{
			Success:  true,
			Width:    res.Width,
			Height:   res.Height,
			Fused:    res.Fused,
			Stats:    res.FusionStats,
			Timing:   res.Stats,
			Warnings: res.Warnings,
		})
	default:
		s.writeFormatted(w, req.Format, res)
	}
}

// groupHandler runs fusion and grouping.
func (s *Server) groupHandler(w http.ResponseWriter, r *http.Request) {
	res, req, ok := s.handleRun(w, r, "group", s.light)
	if !ok {
		return
	}
	switch req.Format {
	case "", formatJSON:
		writeJSON(w, http.StatusOK, GroupResponse{
			Success:  true,
			Fused:    res.Fused,
			Groups:   res.Groups,
			Stats:    res.GroupStats,
			Timing:   res.Stats,
			Warnings: res.Warnings,
		})
	default:
		s.writeFormatted(w, req.Format, res)
	}
}

// composeHandler runs the full pipeline including composite layout.
func (s *Server) composeHandler(w http.ResponseWriter, r *http.Request) {
	res, req, ok := s.handleRun(w, r, "compose", s.full)
	if !ok {
		return
	}
	switch req.Format {
	case "", formatJSON:
		resp := ComposeResponse{Success: true, Result: res}
		if req.Images && res.Layout != nil {
			for _, c := range res.Layout.Composites {
				data, err := utils.EncodePNG(c.Image)
				if err != nil {
					s.writeErrorResponse(w, fmt.Sprintf("encoding composite %d failed: %v", c.Index, err), http.StatusInternalServerError)
					return
				}
				resp.Composites = append(resp.Composites, base64.StdEncoding.EncodeToString(data))
			}
		}
		writeJSON(w, http.StatusOK, resp)
	case formatPNG:
		s.writeComposite(w, r, res)
	default:
		s.writeFormatted(w, req.Format, res)
	}
}

// handleRun parses the request and runs it on pl. On failure the error
// response has been written and ok is false.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, endpoint string, pl pipelineRunner) (*pipeline.Result, *runRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, nil, false
	}
	req, err := s.parseRunRequest(w, r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), statusFor(err))
		return nil, nil, false
	}

	start := time.Now()
	res, err := s.execute(r.Context(), pl, req, nil)
	elapsed := time.Since(start)
	observeRun(endpoint, res, err, elapsed.Seconds())
	if err != nil {
		slog.Warn("run failed", "endpoint", endpoint, "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("processing failed: %v", err), statusFor(err))
		return nil, nil, false
	}
	s.profiler.Record(res)
	slog.Debug("run completed",
		"endpoint", endpoint,
		"fused", len(res.Fused),
		"groups", res.Groups.Len(),
		"duration_ms", elapsed.Milliseconds())
	return res, req, true
}

// writeFormatted handles the non-JSON textual formats shared by every
// endpoint.
func (s *Server) writeFormatted(w http.ResponseWriter, format string, res *pipeline.Result) {
	var (
		body        string
		err         error
		contentType string
	)
	switch format {
	case formatYAML:
		body, err = pipeline.ToYAML(res)
		contentType = "application/yaml"
	case formatText:
		body, err = pipeline.ToText(res)
		contentType = "text/plain; charset=utf-8"
	case formatCSV:
		if res.Layout == nil {
			s.writeErrorResponse(w, "csv output needs the compose endpoint", http.StatusBadRequest)
			return
		}
		body, err = pipeline.ToCSVMapping(res)
		contentType = "text/csv"
	default:
		s.writeErrorResponse(w, "unsupported format: "+format, http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write([]byte(body))
}

// writeComposite streams one composite as PNG, selected by ?composite=n.
func (s *Server) writeComposite(w http.ResponseWriter, r *http.Request, res *pipeline.Result) {
	idx := 0
	if v := r.URL.Query().Get("composite"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeErrorResponse(w, "invalid composite index", http.StatusBadRequest)
			return
		}
		idx = n
	}
	if res.Layout == nil || idx >= len(res.Layout.Composites) {
		s.writeErrorResponse(w, fmt.Sprintf("composite %d not found", idx), http.StatusNotFound)
		return
	}
	data, err := utils.EncodePNG(res.Layout.Composites[idx].Image)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("encoding composite failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Composite-Count", strconv.Itoa(len(res.Layout.Composites)))
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
