package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
)

// groupView is the machine readable output of the group command.
type groupView struct {
	Fused    []detection.Fused `json:"fused"              yaml:"fused"`
	Groups   *grouping.Result  `json:"groups"             yaml:"groups"`
	Stats    grouping.Stats    `json:"stats"              yaml:"stats"`
	Warnings []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// groupCmd represents the group command.
var groupCmd = &cobra.Command{
	Use:   "group [image]",
	Short: "Fuse detections and group them into rows, columns and long boxes",
	Long: `Fuse the detections of one screenshot and partition the fused boxes into
horizontal groups (H*), vertical groups (V*) and long standalone elements
(HL*, VL*). Every group lists merged ids in reading order.

Examples:
  boxfuse group shot.png
  boxfuse group shot.png --format yaml --tie-policy vertical
  boxfuse group --detections shot.json --format json -o groups.json`,
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

		out, err := render(format, res, groupView{
			Fused:    res.Fused,
			Groups:   res.Groups,
			Stats:    res.GroupStats,
			Warnings: res.Warnings,
		})
		if err != nil {
			return fmt.Errorf("failed to format results: %w", err)
		}
		return writeOutput(cmd, resolveOutputFile(cmd, cfg), out)
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)
	addInputFlags(groupCmd)
	addEngineFlags(groupCmd)
	groupCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, yaml)")
}
