package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

var (
	errNoDetections = errors.New("no detections provided and no detectors configured")
	errNoImage      = errors.New("an image is required to run the detectors")
)

// runRequest is a decoded fuse, group or compose request.
type runRequest struct {
	Image    image.Image
	ImageErr error // image sent but not decodable
	Shapes   []detection.Detection
	Texts    []detection.Detection
	Detected bool // detections were supplied by the caller
	Format   string
	Images   bool // compose: inline base64 composites
	Size     int64
}

// jsonRunRequest is the application/json request body. Image is base64.
type jsonRunRequest struct {
	Image  []byte                `json:"image,omitempty"`
	Shapes []detection.Detection `json:"shapes"`
	Texts  []detection.Detection `json:"text"`
	Format string                `json:"format,omitempty"`
	Images bool                  `json:"images,omitempty"`
}

// requestError carries the status code a parse failure maps to.
type requestError struct {
	Status  int
	Message string
	Err     error
}

func (e *requestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *requestError) Unwrap() error { return e.Err }

func badRequest(msg string, err error) *requestError {
	return &requestError{Status: http.StatusBadRequest, Message: msg, Err: err}
}

// parseRunRequest accepts either a JSON body or a multipart form with an
// optional "image" file plus "detections" or "shapes"/"text" parts.
func (s *Server) parseRunRequest(w http.ResponseWriter, r *http.Request) (*runRequest, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		req *runRequest
		err error
	)
	if mediaType == "application/json" {
		req, err = parseJSONRequest(r)
	} else {
		req, err = parseMultipartRequest(r, limit)
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, &requestError{Status: http.StatusRequestEntityTooLarge, Message: "Request too large", Err: err}
		}
		return nil, err
	}

	if req.ImageErr != nil && !req.Detected {
		return nil, badRequest("Invalid image format", req.ImageErr)
	}

	if req.Format == "" {
		req.Format = r.URL.Query().Get("format")
	}
	req.Format = strings.ToLower(req.Format)
	if r.ContentLength > 0 {
		req.Size = r.ContentLength
	}
	return req, nil
}

func parseJSONRequest(r *http.Request) (*runRequest, error) {
	var body jsonRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, err
		}
		return nil, badRequest("Invalid JSON body", err)
	}
	req := &runRequest{
		Shapes:   detection.Normalize(body.Shapes, detection.SourceShape, true),
		Texts:    detection.Normalize(body.Texts, detection.SourceText, true),
		Detected: body.Shapes != nil || body.Texts != nil,
		Format:   body.Format,
		Images:   body.Images,
	}
	if len(body.Image) > 0 {
		req.Image, req.ImageErr = decodeImage(body.Image)
	}
	return req, nil
}

func parseMultipartRequest(r *http.Request, limit int64) (*runRequest, error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, err
		}
		return nil, badRequest("Failed to parse form data", err)
	}
	req := &runRequest{
		Format: r.FormValue("format"),
		Images: r.FormValue("images") == "1" || r.FormValue("images") == "true",
	}

	if data, ok, err := formPart(r, "image"); err != nil {
		return nil, err
	} else if ok {
		req.Image, req.ImageErr = decodeImage(data)
	}

	if data, ok, err := formPart(r, "detections"); err != nil {
		return nil, err
	} else if ok {
		set, err := detection.DecodeSet(data)
		if err != nil {
			return nil, badRequest("Invalid detections", err)
		}
		req.Shapes, req.Texts, req.Detected = set.Shapes, set.Texts, true
		return req, nil
	}

	for _, part := range []struct {
		name string
		src  detection.Source
		dst  *[]detection.Detection
	}{
		{"shapes", detection.SourceShape, &req.Shapes},
		{"text", detection.SourceText, &req.Texts},
	} {
		data, ok, err := formPart(r, part.name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dets, err := detection.Decode(data)
		if err != nil {
			return nil, badRequest("Invalid "+part.name+" detections", err)
		}
		*part.dst = detection.Normalize(dets, part.src, true)
		req.Detected = true
	}
	return req, nil
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	return img, err
}

// formPart returns the named multipart file, or the plain field of that
// name when no file was sent.
func formPart(r *http.Request, name string) ([]byte, bool, error) {
	if r.MultipartForm == nil {
		return nil, false, nil
	}
	if files := r.MultipartForm.File[name]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, false, badRequest("Failed to open "+name, err)
		}
		defer func() { _ = f.Close() }()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, false, badRequest("Failed to read "+name, err)
		}
		uploadSizeBytes.Observe(float64(len(data)))
		return data, true, nil
	}
	if vals := r.MultipartForm.Value[name]; len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
		return []byte(vals[0]), true, nil
	}
	return nil, false, nil
}

// execute runs req on pl. Supplied detections take precedence over the
// configured detectors.
func (s *Server) execute(ctx context.Context, pl pipelineRunner, req *runRequest, onStage pipeline.StageFunc) (*pipeline.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	switch {
	case req.Detected:
		res, err := pl.RunStages(req.Shapes, req.Texts, req.Image, onStage)
		if err == nil && req.ImageErr != nil {
			slog.Warn("image unreadable, continuing with placeholders", "error", req.ImageErr)
			res.Warnings = append(res.Warnings, fmt.Sprintf("image unreadable: %v", req.ImageErr))
		}
		return res, err
	case !s.detectors:
		return nil, errNoDetections
	case req.Image == nil:
		return nil, errNoImage
	default:
		return pl.Run(ctx, req.Image)
	}
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	var re *requestError
	switch {
	case errors.As(err, &re):
		return re.Status
	case errors.Is(err, errNoDetections), errors.Is(err, errNoImage):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
