package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/layout"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

// Sidecar suffixes holding the detector output for a screenshot.
const (
	ShapesSuffix = ".shapes.json"
	TextSuffix   = ".text.json"
	ResultSuffix = "_result.json"
)

// SidecarPaths returns the shape and text detection files that belong to
// imagePath.
func SidecarPaths(imagePath string) (shapes, texts string) {
	base := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	return base + ShapesSuffix, base + TextSuffix
}

// loadSidecar reads one detection file. A missing file means the detector
// found nothing; found reports whether the file exists.
func loadSidecar(path string) (dets []detection.Detection, found bool, err error) {
	dets, err = detection.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	return dets, true, err
}

// loadJob reads both sidecars and the screenshot. A screenshot that cannot
// be decoded is replaced by a nil image when sidecars exist, so the layout
// renders placeholders; without sidecars there is nothing to run.
func loadJob(path string) (pipeline.Job, error) {
	shapesPath, textsPath := SidecarPaths(path)
	shapes, haveShapes, err := loadSidecar(shapesPath)
	if err != nil {
		return pipeline.Job{}, err
	}
	texts, haveTexts, err := loadSidecar(textsPath)
	if err != nil {
		return pipeline.Job{}, err
	}

	job := pipeline.Job{Name: path, Shapes: shapes, Texts: texts, Detected: true}
	img, _, err := utils.LoadImage(path)
	switch {
	case err == nil:
		job.Image = img
	case haveShapes || haveTexts:
		slog.Warn("image unreadable, continuing with placeholders", "file", path, "error", err)
		job.Warnings = []string{fmt.Sprintf("image unreadable: %v", err)}
	default:
		return pipeline.Job{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return job, nil
}

// uniqueStems derives an output stem per image. Repeated base names from
// different directories get a numeric suffix so no two runs share a file.
func uniqueStems(paths []string) []string {
	stems := make([]string, len(paths))
	seen := make(map[string]int, len(paths))
	for i, p := range paths {
		base := filepath.Base(p)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		n := seen[stem]
		seen[stem] = n + 1
		if n > 0 {
			stem += "_" + strconv.Itoa(n)
		}
		stems[i] = stem
	}
	return stems
}

// writeOutputs stores the composites and the JSON result of one run and
// returns the written paths.
func writeOutputs(cfg *Config, stem string, res *pipeline.Result) ([]string, error) {
	if !cfg.WriteComposites && !cfg.WriteResults {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	if cfg.WriteComposites && res.Layout != nil {
		paths, err := layout.WritePNGs(cfg.OutputDir, stem, res.Layout.Composites)
		written = append(written, paths...)
		if err != nil {
			return written, err
		}
	}
	if cfg.WriteResults {
		data, err := pipeline.ToJSON(res)
		if err != nil {
			return written, fmt.Errorf("encode result: %w", err)
		}
		path := filepath.Join(cfg.OutputDir, stem+ResultSuffix)
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			return written, fmt.Errorf("write result: %w", err)
		}
		written = append(written, path)
	}
	return written, nil
}
