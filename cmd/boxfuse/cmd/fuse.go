package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/boxfuse/internal/config"
	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/fusion"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
)

// fuseView is the machine readable output of the fuse command.
type fuseView struct {
	Width    int               `json:"width"              yaml:"width"`
	Height   int               `json:"height"             yaml:"height"`
	Fused    []detection.Fused `json:"fused"              yaml:"fused"`
	Stats    fusion.Stats      `json:"stats"              yaml:"stats"`
	Warnings []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// fuseCmd represents the fuse command.
var fuseCmd = &cobra.Command{
	Use:   "fuse [image]",
	Short: "Merge shape and text detections into one de-duplicated list",
	Long: `Merge the shape/icon detector output with the text-region detector
output for one screenshot. Overlapping shapes are dropped, shapes dense with
text are discarded, text inside icons is consumed and wide text-bearing
shapes are retagged as text.

Detections come from --shapes/--text, a combined --detections file, the
<image>.shapes.json and <image>.text.json sidecars, or the configured
detector services.

Examples:
  boxfuse fuse shot.png
  boxfuse fuse --shapes s.json --text t.json --format json
  boxfuse fuse shot.png --iou-threshold 0.8 --output fused.yaml --format yaml`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := applyEngineFlags(cmd, cfg); err != nil {
			return err
		}
		format, err := resolveFormat(cmd, cfg, outputFormatText, outputFormatJSON, outputFormatYAML)
		if err != nil {
			return err
		}

		p, detectors, err := buildPipeline(cfg, false)
		if err != nil {
			return err
		}
		res, err := runSingle(commandContext(cmd), p, detectors, inputsFromFlags(cmd, args))
		if err != nil {
			return err
		}

		out, err := render(format, res, fuseView{
			Width:    res.Width,
			Height:   res.Height,
			Fused:    res.Fused,
			Stats:    res.FusionStats,
			Warnings: res.Warnings,
		})
		if err != nil {
			return fmt.Errorf("failed to format results: %w", err)
		}
		return writeOutput(cmd, resolveOutputFile(cmd, cfg), out)
	},
}

func init() {
	rootCmd.AddCommand(fuseCmd)
	addInputFlags(fuseCmd)
	addEngineFlags(fuseCmd)
	fuseCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, yaml)")
}

// addEngineFlags registers the fusion and grouping overrides shared by the
// single-image commands.
func addEngineFlags(c *cobra.Command) {
	c.Flags().Float64("iou-threshold", 0.9, "IoU above which a later shape is dropped")
	c.Flags().Float64("containment-threshold", 0.8, "fraction of a box that must lie inside another to count as contained")
	c.Flags().Float64("min-area", 1, "minimum box area in square pixels")
	c.Flags().Int("max-text-inside-icon", 2, "shapes holding more text boxes than this are discarded")
	c.Flags().Float64("y-tolerance", 8, "row alignment tolerance in pixels")
	c.Flags().Int("x-tolerance", 20, "column alignment tolerance in pixels")
	c.Flags().String("tie-policy", "horizontal", "group preferred on ties (horizontal, vertical)")
}

// applyEngineFlags copies changed engine flags over cfg and revalidates it.
func applyEngineFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("iou-threshold") {
		cfg.Fusion.IoUThreshold, _ = flags.GetFloat64("iou-threshold")
	}
	if flags.Changed("containment-threshold") {
		cfg.Fusion.ContainmentThreshold, _ = flags.GetFloat64("containment-threshold")
	}
	if flags.Changed("min-area") {
		cfg.Fusion.MinArea, _ = flags.GetFloat64("min-area")
	}
	if flags.Changed("max-text-inside-icon") {
		cfg.Fusion.MaxTextInsideIcon, _ = flags.GetInt("max-text-inside-icon")
	}
	if flags.Changed("y-tolerance") {
		cfg.Grouping.YVarianceTolerance, _ = flags.GetFloat64("y-tolerance")
	}
	if flags.Changed("x-tolerance") {
		cfg.Grouping.HorizontalTolerancePx, _ = flags.GetInt("x-tolerance")
	}
	if flags.Changed("tie-policy") {
		p, _ := flags.GetString("tie-policy")
		cfg.Grouping.TiePolicy = grouping.TiePolicy(p)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
