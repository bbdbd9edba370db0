package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/boxfuse/internal/layout"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

// composeCmd represents the compose command.
var composeCmd = &cobra.Command{
	Use:   "compose <image>",
	Short: "Pack every group into labelled composite images",
	Long: `Run fusion and grouping on one screenshot, then crop every grouped box,
label it with its group id and index, and pack the crops onto fixed size
canvases. Composites are written as <prefix>_composite_<n>.png and the
label mapping is printed in the chosen format.

Examples:
  boxfuse compose shot.png
  boxfuse compose shot.png --out-dir composites/ --prefix home
  boxfuse compose shot.png --format csv -o mapping.csv`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		flags := cmd.Flags()
		if flags.Changed("canvas-width") {
			cfg.Layout.CanvasWidth, _ = flags.GetInt("canvas-width")
		}
		if flags.Changed("canvas-height") {
			cfg.Layout.CanvasHeight, _ = flags.GetInt("canvas-height")
		}
		if err := applyEngineFlags(cmd, cfg); err != nil {
			return err
		}
		format, err := resolveFormat(cmd, cfg,
			outputFormatText, outputFormatJSON, outputFormatYAML, outputFormatCSV)
		if err != nil {
			return err
		}

		outDir := cfg.Output.Dir
		if flags.Changed("out-dir") {
			outDir, _ = flags.GetString("out-dir")
		}
		prefix := cfg.Output.Prefix
		if flags.Changed("prefix") {
			prefix, _ = flags.GetString("prefix")
		}
		if prefix == "" {
			prefix = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		noImages, _ := flags.GetBool("no-images")

		p, detectors, err := buildPipeline(cfg, true)
		if err != nil {
			return err
		}
		res, err := runSingle(commandContext(cmd), p, detectors, inputsFromFlags(cmd, args))
		if err != nil {
			return err
		}

		var written []string
		if !noImages && res.Layout != nil {
			if outDir == "" {
				outDir = "."
			}
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			written, err = layout.WritePNGs(outDir, prefix, res.Layout.Composites)
			if err != nil {
				return err
			}
		}

		out, err := renderMapping(format, res, written)
		if err != nil {
			return fmt.Errorf("failed to format results: %w", err)
		}
		return writeOutput(cmd, resolveOutputFile(cmd, cfg), out)
	},
}

// renderMapping formats a composed result. Text output also lists the
// composite files written.
func renderMapping(format string, res *pipeline.Result, written []string) (string, error) {
	switch format {
	case outputFormatJSON:
		return pipeline.ToJSON(res)
	case outputFormatYAML:
		return pipeline.ToYAML(res)
	case outputFormatCSV:
		return pipeline.ToCSVMapping(res)
	}
	text, err := pipeline.ToText(res)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(text)
	for _, path := range written {
		fmt.Fprintf(&sb, "wrote %s\n", path)
	}
	return sb.String(), nil
}

func init() {
	rootCmd.AddCommand(composeCmd)
	addInputFlags(composeCmd)
	addEngineFlags(composeCmd)
	composeCmd.Flags().StringP("format", "f", outputFormatText, "mapping format (text, json, yaml, csv)")
	composeCmd.Flags().String("out-dir", "", "directory for composite PNGs (default: current directory)")
	composeCmd.Flags().String("prefix", "", "composite file name prefix (default: image name)")
	composeCmd.Flags().Bool("no-images", false, "skip writing composite PNGs")
	composeCmd.Flags().Int("canvas-width", 1280, "composite canvas width in pixels")
	composeCmd.Flags().Int("canvas-height", 1280, "composite canvas height in pixels")
}
