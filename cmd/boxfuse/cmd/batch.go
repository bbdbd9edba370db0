package cmd

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/boxfuse/internal/batch"
	"github.com/MeKo-Tech/boxfuse/internal/config"
)

// batchCmd represents the batch command for parallel screenshot processing.
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Fuse, group and compose many screenshots in parallel",
	Long: `Process many screenshots on a worker pool. Every image needs its
<image>.shapes.json and/or <image>.text.json sidecar. For each image the
command writes <stem>.json with the full result and <stem>_composite_<n>.png
files into the output directory, then prints a summary.

Examples:
  boxfuse batch shots/*.png
  boxfuse batch shots/ --recursive --workers 8
  boxfuse batch shots/ --format json --output summary.json --no-composites`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config, with
// changed flags taking precedence.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	batchConfig := batch.DefaultConfig()
	batchConfig.Pipeline = cfg.ToPipelineConfig()

	batchConfig.Format = cfg.Output.Format
	if cmd.Flags().Changed("format") || batchConfig.Format == "" || batchConfig.Format == outputFormatYAML {
		batchConfig.Format, _ = cmd.Flags().GetString("format")
	}

	batchConfig.OutputFile = cfg.Output.File
	if cmd.Flags().Changed("output") {
		batchConfig.OutputFile, _ = cmd.Flags().GetString("output")
	}

	batchConfig.OutputDir = cfg.Batch.OutputDir
	if cmd.Flags().Changed("out-dir") {
		batchConfig.OutputDir, _ = cmd.Flags().GetString("out-dir")
	}

	batchConfig.Workers = cfg.Batch.Workers
	if cmd.Flags().Changed("workers") {
		batchConfig.Workers, _ = cmd.Flags().GetInt("workers")
	}

	batchConfig.ContinueOnError = cfg.Batch.ContinueOnError
	if cmd.Flags().Changed("continue-on-error") {
		batchConfig.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}

	batchConfig.Recursive = cfg.Batch.Recursive
	if cmd.Flags().Changed("recursive") {
		batchConfig.Recursive, _ = cmd.Flags().GetBool("recursive")
	}

	batchConfig.IncludePatterns = cfg.Batch.Include
	if cmd.Flags().Changed("include") {
		batchConfig.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	}

	batchConfig.ExcludePatterns = cfg.Batch.Exclude
	if cmd.Flags().Changed("exclude") {
		batchConfig.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	}

	noComposites, _ := cmd.Flags().GetBool("no-composites")
	noResults, _ := cmd.Flags().GetBool("no-results")
	batchConfig.WriteComposites = !noComposites && cfg.Layout.Enabled
	batchConfig.WriteResults = !noResults

	// Progress settings are CLI-only
	batchConfig.ShowProgress, _ = cmd.Flags().GetBool("progress")
	batchConfig.Quiet, _ = cmd.Flags().GetBool("quiet")
	batchConfig.ShowStats, _ = cmd.Flags().GetBool("stats")
	batchConfig.ProgressInterval, _ = cmd.Flags().GetDuration("progress-interval")

	return batchConfig
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	batchConfig := configToBatchConfig(cfg, cmd)

	if !batchConfig.Quiet {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Processing %d paths...\n", len(args))
	}

	result, err := batch.ProcessBatch(commandContext(cmd), args, batchConfig)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}

	if err := result.SaveResults(cmd.OutOrStdout(), batchConfig.Format, batchConfig.OutputFile, batchConfig.Quiet); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	if batchConfig.ShowStats {
		result.PrintStats(cmd.OutOrStdout(), batchConfig.Quiet)
	}
	if failed := result.Failed(); failed > 0 && !batchConfig.ContinueOnError {
		return fmt.Errorf("%d images failed", failed)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Output flags
	batchCmd.Flags().StringP("format", "f", outputFormatText, "summary format: text, json, csv")
	batchCmd.Flags().StringP("output", "o", "", "summary file (default: stdout)")
	batchCmd.Flags().String("out-dir", "out", "directory for per-image results and composites")
	batchCmd.Flags().Bool("no-composites", false, "skip writing composite PNGs")
	batchCmd.Flags().Bool("no-results", false, "skip writing per-image JSON results")

	// Parallel processing flags
	batchCmd.Flags().IntP("workers", "w", 0, fmt.Sprintf("number of parallel workers (default: %d)", runtime.NumCPU()))
	batchCmd.Flags().Bool("continue-on-error", true, "keep going when an image fails")

	// File discovery flags
	batchCmd.Flags().BoolP("recursive", "r", false, "process directories recursively")
	batchCmd.Flags().StringSlice("include", []string{}, "include file patterns (e.g., *.png)")
	batchCmd.Flags().StringSlice("exclude", []string{}, "exclude file patterns (e.g., *_thumb.*)")

	// Progress flags
	batchCmd.Flags().Bool("progress", true, "show progress bar")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress progress and summary output")
	batchCmd.Flags().Bool("stats", true, "show processing statistics")
	batchCmd.Flags().Duration("progress-interval", 100*time.Millisecond, "progress update interval")
}
