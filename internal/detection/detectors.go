package detection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

// StaticDetector returns a fixed set of records for every image.
type StaticDetector struct {
	Detections []Detection
}

// NewStaticDetector copies dets into a detector that replays them.
func NewStaticDetector(dets []Detection) *StaticDetector {
	cp := make([]Detection, len(dets))
	copy(cp, dets)
	return &StaticDetector{Detections: cp}
}

// Detect returns a copy of the configured records.
func (s *StaticDetector) Detect(ctx context.Context, _ image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Detection, len(s.Detections))
	copy(out, s.Detections)
	return out, nil
}

// FileDetector reads records from a JSON file on every call.
type FileDetector struct {
	Path string
}

// Detect loads the file; the image is ignored.
func (f *FileDetector) Detect(ctx context.Context, _ image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadFile(f.Path)
}

// HTTPDetector posts the PNG-encoded image to an external detector service and
// decodes the records it answers with.
type HTTPDetector struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPDetector creates a detector with a client bound to timeout.
func NewHTTPDetector(endpoint string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// Detect sends one request per image.
func (h *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if h.Endpoint == "" {
		return nil, errors.New("http detector: endpoint not configured")
	}
	body, err := utils.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("http detector: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http detector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http detector: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("http detector: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http detector: %s returned %d: %s", h.Endpoint, resp.StatusCode, bytes.TrimSpace(data))
	}

	dets, err := Decode(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Origin = h.Endpoint
		}
		return nil, err
	}
	slog.Debug("http detector responded",
		"endpoint", h.Endpoint,
		"detections", len(dets),
		"duration_ms", time.Since(start).Milliseconds())
	return dets, nil
}
