package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/boxfuse/internal/batch"
	"github.com/MeKo-Tech/boxfuse/internal/config"
	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
	outputFormatCSV  = "csv"
)

// runInputs names the image and detection files of a single-image command.
type runInputs struct {
	ImagePath      string
	ShapesPath     string
	TextPath       string
	DetectionsPath string
}

func addInputFlags(c *cobra.Command) {
	c.Flags().String("shapes", "", "shape detector JSON (default: <image>.shapes.json sidecar)")
	c.Flags().String("text", "", "text detector JSON (default: <image>.text.json sidecar)")
	c.Flags().String("detections", "", `combined {"shapes": [...], "text": [...]} JSON file`)
	c.Flags().StringP("output", "o", "", "output file (default: stdout)")
}

func inputsFromFlags(cmd *cobra.Command, args []string) runInputs {
	var in runInputs
	if len(args) > 0 {
		in.ImagePath = args[0]
	}
	in.ShapesPath, _ = cmd.Flags().GetString("shapes")
	in.TextPath, _ = cmd.Flags().GetString("text")
	in.DetectionsPath, _ = cmd.Flags().GetString("detections")
	return in
}

// resolveFormat applies the --format flag over the configured format and
// checks it against allowed.
func resolveFormat(cmd *cobra.Command, cfg *config.Config, allowed ...string) (string, error) {
	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	if format == "" {
		format = outputFormatText
	}
	if !slices.Contains(allowed, format) {
		return "", fmt.Errorf("invalid output format: %s (must be one of: %s)", format, strings.Join(allowed, ", "))
	}
	return format, nil
}

func resolveOutputFile(cmd *cobra.Command, cfg *config.Config) string {
	if cmd.Flags().Changed("output") {
		out, _ := cmd.Flags().GetString("output")
		return out
	}
	return cfg.Output.File
}

// buildPipeline wires the configured engines and, when URLs are set, the
// HTTP detector adapters. The bool reports whether any detector is wired.
func buildPipeline(cfg *config.Config, layoutOn bool) (*pipeline.Pipeline, bool, error) {
	b := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithLayoutEnabled(layoutOn)

	detectors := false
	if cfg.Detectors.ShapeURL != "" {
		b.WithShapeDetector(detection.NewHTTPDetector(cfg.Detectors.ShapeURL, cfg.Detectors.Timeout()))
		detectors = true
	}
	if cfg.Detectors.TextURL != "" {
		b.WithTextDetector(detection.NewHTTPDetector(cfg.Detectors.TextURL, cfg.Detectors.Timeout()))
		detectors = true
	}
	p, err := b.Build()
	if err != nil {
		return nil, false, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return p, detectors, nil
}

// runSingle loads the inputs and runs them. Detection files win over
// configured detectors. An image that cannot be read only degrades the
// composites to placeholders when detections are at hand.
func runSingle(ctx context.Context, p *pipeline.Pipeline, detectors bool, in runInputs) (*pipeline.Result, error) {
	shapes, texts, found, err := loadDetections(in)
	if err != nil {
		return nil, err
	}

	var img image.Image
	var imgErr error
	if in.ImagePath != "" {
		loaded, meta, err := utils.LoadImage(in.ImagePath)
		if err != nil {
			imgErr = fmt.Errorf("failed to load image: %w", err)
		} else {
			img = loaded
			slog.Debug("Image loaded", "path", meta.Path, "format", meta.Format,
				"width", meta.Width, "height", meta.Height, "size_bytes", meta.SizeBytes)
		}
	}

	switch {
	case found:
		res, err := p.RunDetections(shapes, texts, img)
		if err != nil {
			return nil, err
		}
		if imgErr != nil {
			slog.Warn("image unreadable, continuing with placeholders", "path", in.ImagePath, "error", imgErr)
			res.Warnings = append(res.Warnings, imgErr.Error())
		}
		return res, nil
	case imgErr != nil:
		return nil, imgErr
	case !detectors:
		return nil, errors.New("no detections found: pass --shapes, --text or --detections, " +
			"place sidecar files next to the image, or configure detector URLs")
	case img == nil:
		return nil, errors.New("an image is required to run the detectors")
	default:
		return p.Run(ctx, img)
	}
}

// loadDetections reads explicit detection files, falling back to the image
// sidecars. found is false when nothing was read.
func loadDetections(in runInputs) (shapes, texts []detection.Detection, found bool, err error) {
	if in.DetectionsPath != "" {
		data, err := os.ReadFile(in.DetectionsPath)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to read detections: %w", err)
		}
		set, err := detection.DecodeSet(data)
		if err != nil {
			var de *detection.DecodeError
			if errors.As(err, &de) {
				de.Origin = in.DetectionsPath
			}
			return nil, nil, false, err
		}
		return set.Shapes, set.Texts, true, nil
	}

	shapesPath, textPath := in.ShapesPath, in.TextPath
	explicit := shapesPath != "" || textPath != ""
	if !explicit && in.ImagePath != "" {
		shapesPath, textPath = batch.SidecarPaths(in.ImagePath)
	}
	for _, f := range []struct {
		path string
		dst  *[]detection.Detection
	}{{shapesPath, &shapes}, {textPath, &texts}} {
		if f.path == "" {
			continue
		}
		dets, err := detection.ReadFile(f.path)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, nil, false, err
		}
		*f.dst = dets
		found = true
	}
	return shapes, texts, found, nil
}

// render turns a result into the requested format. view is what json and
// yaml encode.
func render(format string, res *pipeline.Result, view any) (string, error) {
	switch format {
	case outputFormatJSON:
		b, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b) + "\n", nil
	case outputFormatYAML:
		return pipeline.MarshalYAML(view)
	case outputFormatCSV:
		return pipeline.ToCSVMapping(res)
	default:
		return pipeline.ToText(res)
	}
}

// writeOutput writes content to file, or to the command's stdout when file
// is empty.
func writeOutput(cmd *cobra.Command, file, content string) error {
	if file == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), content)
		return err
	}
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", file)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
