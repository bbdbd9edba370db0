package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/boxfuse/internal/batch"
	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/testutil"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

// writeScene stores the default scene with its sidecars in a temp dir.
func writeScene(t *testing.T, stem string) (string, testutil.Scene) {
	t.Helper()
	scene := testutil.DefaultScene()
	path, err := testutil.WriteScene(t.TempDir(), stem, scene)
	require.NoError(t, err)
	return path, scene
}

func TestFuseCommand_Sidecars(t *testing.T) {
	img, scene := writeScene(t, "shot")

	output, err := executeCommand(t, "fuse", img, "--format", "json")
	require.NoError(t, err)

	var view fuseView
	require.NoError(t, json.Unmarshal([]byte(output), &view))
	assert.Equal(t, scene.Width, view.Width)
	assert.Equal(t, scene.Height, view.Height)
	assert.Len(t, view.Fused, scene.ExpectedFused)
	assert.Equal(t, len(scene.Shapes), view.Stats.ShapesIn)
	assert.Equal(t, len(scene.Texts), view.Stats.TextsIn)
}

func TestFuseCommand_TextOutput(t *testing.T) {
	img, _ := writeScene(t, "shot")

	output, err := executeCommand(t, "fuse", img)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "image: 800x600\n"), output)
	assert.Contains(t, output, "fused: 14")
}

func TestFuseCommand_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	shapes := filepath.Join(dir, "s.json")
	texts := filepath.Join(dir, "t.json")
	require.NoError(t, detection.WriteFile(shapes, scene.Shapes))
	require.NoError(t, detection.WriteFile(texts, scene.Texts))

	// No image: only the detection files are read.
	output, err := executeCommand(t, "fuse", "--shapes", shapes, "--text", texts, "--format", "json")
	require.NoError(t, err)

	var view fuseView
	require.NoError(t, json.Unmarshal([]byte(output), &view))
	assert.Len(t, view.Fused, scene.ExpectedFused)
}

func TestFuseCommand_CombinedDetections(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	data, err := json.Marshal(detection.Set{Shapes: scene.Shapes, Texts: scene.Texts})
	require.NoError(t, err)
	path := filepath.Join(dir, "dets.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	out := filepath.Join(dir, "fused.yaml")
	output, err := executeCommand(t, "fuse", "--detections", path, "--format", "yaml", "--output", out)
	require.NoError(t, err)
	assert.Contains(t, output, "Results written to")

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(written), "fused:")
	assert.Contains(t, string(written), "stats:")
}

func TestFuseCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.png")
	require.NoError(t, utils.SavePNG(bare, testutil.SolidImage(50, 50, testutil.DefaultScene().Elements[0].Color)))
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o600))

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{"no detections", []string{"fuse", bare}, "no detections found"},
		{"invalid format", []string{"fuse", bare, "--format", "xml"}, "invalid output format"},
		{"missing explicit file", []string{"fuse", "--shapes", filepath.Join(dir, "missing.json")}, "missing.json"},
		{"broken detections", []string{"fuse", "--detections", broken}, "broken.json"},
		{"bad threshold", []string{"fuse", bare, "--iou-threshold", "2"}, "iou_threshold"},
		{"bad tie policy", []string{"group", bare, "--tie-policy", "diagonal"}, "tie"},
		{"missing image", []string{"compose", filepath.Join(dir, "nope.png")}, "failed to load image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestGroupCommand(t *testing.T) {
	img, scene := writeScene(t, "shot")

	output, err := executeCommand(t, "group", img, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, output, "groups:")
	for _, id := range scene.ExpectedGroupIDs {
		assert.Contains(t, output, id+":")
	}

	output, err = executeCommand(t, "group", img, "--format", "json")
	require.NoError(t, err)
	var view map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(output), &view))
	var groups map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(view["groups"], &groups))
	assert.Len(t, groups, len(scene.ExpectedGroupIDs))
}

func TestComposeCommand(t *testing.T) {
	img, _ := writeScene(t, "shot")
	outDir := filepath.Join(t.TempDir(), "composites")

	output, err := executeCommand(t, "compose", img, "--out-dir", outDir, "--prefix", "home")
	require.NoError(t, err)
	assert.Contains(t, output, "composites:")
	assert.Contains(t, output, "wrote ")

	pngs, err := filepath.Glob(filepath.Join(outDir, "home_composite_*.png"))
	require.NoError(t, err)
	assert.NotEmpty(t, pngs)
}

func TestComposeCommand_CorruptImageUsesPlaceholders(t *testing.T) {
	img, scene := writeScene(t, "shot")
	require.NoError(t, os.WriteFile(img, []byte("not a png"), 0o600))

	output, err := executeCommand(t, "compose", img, "--no-images")
	require.NoError(t, err)
	assert.Contains(t, output, fmt.Sprintf("fused: %d", scene.ExpectedFused))
	assert.Contains(t, output, "warning: failed to load image")

	var view struct {
		Layout struct {
			Stats struct {
				Boxes        int `json:"boxes"`
				Placeholders int `json:"placeholders"`
			} `json:"stats"`
		} `json:"layout"`
	}
	output, err = executeCommand(t, "compose", img, "--no-images", "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(output), &view))
	assert.Positive(t, view.Layout.Stats.Boxes)
	assert.Equal(t, view.Layout.Stats.Boxes, view.Layout.Stats.Placeholders)
}

func TestComposeCommand_CSVMapping(t *testing.T) {
	img, _ := writeScene(t, "shot")

	output, err := executeCommand(t, "compose", img, "--format", "csv", "--no-images")
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "merged_id", rows[0][0])
	assert.Greater(t, len(rows), 1)

	// --no-images leaves nothing next to the screenshot.
	pngs, err := filepath.Glob(filepath.Join(filepath.Dir(img), "*_composite_*.png"))
	require.NoError(t, err)
	assert.Empty(t, pngs)
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	for _, stem := range []string{"a", "b"} {
		_, err := testutil.WriteScene(dir, stem, scene)
		require.NoError(t, err)
	}
	outDir := filepath.Join(t.TempDir(), "out")

	output, err := executeCommand(t, "batch", dir, "--out-dir", outDir, "--format", "json", "--progress=false", "--stats=false")
	require.NoError(t, err)
	assert.Contains(t, output, "Processing 1 paths")

	for _, stem := range []string{"a", "b"} {
		assert.FileExists(t, filepath.Join(outDir, stem+batch.ResultSuffix))
	}
	jsonStart := strings.Index(output, "{")
	require.GreaterOrEqual(t, jsonStart, 0)
	var summary struct {
		Images []map[string]any `json:"images"`
	}
	require.NoError(t, json.Unmarshal([]byte(output[jsonStart:]), &summary))
	assert.Len(t, summary.Images, 2)
}

func TestBatchCommand_NoImages(t *testing.T) {
	_, err := executeCommand(t, "batch", t.TempDir(), "--quiet", "--progress=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image files found")
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxfuse.yaml")

	output, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration written to")
	assert.FileExists(t, path)

	_, err = executeCommand(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = executeCommand(t, "config", "init", path, "--force")
	require.NoError(t, err)

	output, err = executeCommand(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, output, "iou_threshold")
	assert.Contains(t, output, "canvas_width")

	output, err = executeCommand(t, "config", "paths")
	require.NoError(t, err)
	assert.Contains(t, output, "/etc/boxfuse")
}

func TestLoadDetections_SidecarFallback(t *testing.T) {
	img, scene := writeScene(t, "shot")

	shapes, texts, found, err := loadDetections(runInputs{ImagePath: img})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, shapes, len(scene.Shapes))
	assert.Len(t, texts, len(scene.Texts))

	// Missing sidecars are not an error.
	_, _, found, err = loadDetections(runInputs{ImagePath: filepath.Join(t.TempDir(), "x.png")})
	require.NoError(t, err)
	assert.False(t, found)
}
