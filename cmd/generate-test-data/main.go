package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/boxfuse/internal/testutil"
)

// fixture records what the engines are expected to produce for a scene.
type fixture struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Image          string   `json:"image"`
	Shapes         int      `json:"shapes"`
	Texts          int      `json:"texts"`
	ExpectedFused  int      `json:"expected_fused"`
	ExpectedGroups []string `json:"expected_groups"`
}

type namedScene struct {
	name        string
	description string
	scene       testutil.Scene
}

func scenes() []namedScene {
	base := testutil.DefaultScene()
	return []namedScene{
		{"window", "800x600 window with toolbar, menu column, crowded panel and banner", base},
		{"shifted", "the window scene moved by (40, 30) on a larger canvas", base.Shifted(40, 30)},
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		generateScenes   = flag.Bool("scenes", true, "Generate synthetic screenshots with detector sidecars")
		generateFixtures = flag.Bool("fixtures", true, "Generate expected-outcome fixtures")
		outDir           = flag.String("out", "", "Output directory (default: <project>/testdata)")
		verbose          = flag.Bool("v", false, "Verbose output")
		help             = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate test data for boxfuse testing.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                 # Generate all test data\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -fixtures=false # Generate only scenes\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	dir := *outDir
	if dir == "" {
		root, err := testutil.GetProjectRoot()
		if err != nil {
			slog.Error("Failed to find project root", "error", err)
			os.Exit(1)
		}
		dir = filepath.Join(root, "testdata")
	}
	if *verbose {
		slog.Info("Options", "scenes", *generateScenes, "fixtures", *generateFixtures, "out", dir)
	}

	slog.Info("Starting test data generation...")

	if *generateScenes {
		if err := writeScenes(dir); err != nil {
			slog.Error("Failed to generate scenes", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated synthetic scenes")
	}

	if *generateFixtures {
		if err := writeFixtures(dir); err != nil {
			slog.Error("Failed to generate fixtures", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated test fixtures")
	}

	slog.Info("Test data generation completed successfully!")
}

// writeScenes stores scenes/<name>/<name>.png with its sidecars.
func writeScenes(dir string) error {
	for _, s := range scenes() {
		path, err := testutil.WriteScene(filepath.Join(dir, "scenes", s.name), s.name, s.scene)
		if err != nil {
			return fmt.Errorf("scene %s: %w", s.name, err)
		}
		slog.Info("Wrote scene", "name", s.name, "image", path)
	}
	return nil
}

func writeFixtures(dir string) error {
	fixturesDir := filepath.Join(dir, "fixtures")
	if err := testutil.EnsureDir(fixturesDir); err != nil {
		return fmt.Errorf("failed to create fixtures directory: %w", err)
	}
	for _, s := range scenes() {
		f := fixture{
			Name:           s.name,
			Description:    s.description,
			Image:          filepath.Join("scenes", s.name, s.name+".png"),
			Shapes:         len(s.scene.Shapes),
			Texts:          len(s.scene.Texts),
			ExpectedFused:  s.scene.ExpectedFused,
			ExpectedGroups: s.scene.ExpectedGroupIDs,
		}
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(fixturesDir, s.name+".json"), data, 0o600); err != nil {
			return fmt.Errorf("failed to save fixture %q: %w", s.name, err)
		}
	}
	return nil
}
