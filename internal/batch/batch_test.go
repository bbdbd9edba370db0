package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/boxfuse/internal/testutil"
)

func quietConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.ShowProgress = false
	cfg.Workers = 2
	return cfg
}

func writeScenes(t *testing.T, dir string, stems ...string) []string {
	t.Helper()
	paths := make([]string, len(stems))
	for i, stem := range stems {
		p, err := testutil.WriteScene(dir, stem, testutil.DefaultScene())
		require.NoError(t, err)
		paths[i] = p
	}
	return paths
}

func TestProcessBatch_NoImageFiles(t *testing.T) {
	result, err := ProcessBatch(context.Background(), []string{t.TempDir()}, quietConfig(t))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "no image files found")
}

func TestProcessBatch_InvalidImagePath(t *testing.T) {
	result, err := ProcessBatch(context.Background(), []string{"/nonexistent/file.png"}, quietConfig(t))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "cannot access")
}

func TestProcessBatch_InvalidConfig(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Format = "xml"
	_, err := ProcessBatch(context.Background(), []string{t.TempDir()}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestProcessBatch_Scenes(t *testing.T) {
	in := t.TempDir()
	paths := writeScenes(t, in, "alpha", "beta", "gamma")
	cfg := quietConfig(t)

	result, err := ProcessBatch(context.Background(), []string{in}, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	assert.Equal(t, 0, result.Failed())
	assert.Equal(t, 2, result.WorkerCount)

	want := testutil.DefaultScene()
	for i, it := range result.Items {
		assert.Equal(t, paths[i], it.Path)
		require.NoError(t, it.Err)
		require.NotNil(t, it.Result)
		assert.Len(t, it.Result.Fused, want.ExpectedFused)
		assert.Equal(t, want.ExpectedGroupIDs, it.Result.Groups.IDs())
		assert.FileExists(t, filepath.Join(cfg.OutputDir, it.Stem+"_composite_0.png"))
		assert.FileExists(t, filepath.Join(cfg.OutputDir, it.Stem+ResultSuffix))
	}

	var stats bytes.Buffer
	result.PrintStats(&stats, false)
	assert.Contains(t, stats.String(), "Total images: 3")
	assert.Contains(t, stats.String(), "Processed: 3")
	assert.Contains(t, stats.String(), "Fused boxes: 42")

	stats.Reset()
	result.PrintStats(&stats, true)
	assert.Empty(t, stats.String())
}

func TestProcessBatch_ContinueOnError(t *testing.T) {
	in := t.TempDir()
	writeScenes(t, in, "good")
	require.NoError(t, os.WriteFile(filepath.Join(in, "corrupt.png"), []byte("not a png"), 0o600))

	cfg := quietConfig(t)
	result, err := ProcessBatch(context.Background(), []string{in}, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, 1, result.Failed())

	var failed, ok int
	for _, it := range result.Items {
		if it.Err != nil {
			failed++
			assert.Nil(t, it.Result)
			continue
		}
		ok++
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ok)

	cfg.ContinueOnError = false
	_, err = ProcessBatch(context.Background(), []string{in}, cfg)
	require.Error(t, err)
}

func TestProcessBatch_CorruptImageWithSidecarsDegrades(t *testing.T) {
	in := t.TempDir()
	paths := writeScenes(t, in, "broken")
	require.NoError(t, os.WriteFile(paths[0], []byte("not a png"), 0o600))

	cfg := quietConfig(t)
	cfg.ContinueOnError = false
	result, err := ProcessBatch(context.Background(), []string{in}, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)

	it := result.Items[0]
	require.NoError(t, it.Err)
	require.NotNil(t, it.Result)
	assert.Len(t, it.Result.Fused, testutil.DefaultScene().ExpectedFused)
	require.NotNil(t, it.Result.Layout)
	assert.Equal(t, it.Result.Layout.Stats.Boxes, it.Result.Layout.Stats.Placeholders)
	require.NotEmpty(t, it.Result.Warnings)
	assert.Contains(t, it.Result.Warnings[0], "image unreadable")
}

func TestProcessBatch_Cancelled(t *testing.T) {
	in := t.TempDir()
	writeScenes(t, in, "one", "two")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ProcessBatch(ctx, []string{in}, quietConfig(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestResult_SaveResults(t *testing.T) {
	in := t.TempDir()
	writeScenes(t, in, "shot")
	result, err := ProcessBatch(context.Background(), []string{in}, quietConfig(t))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, result.SaveResults(&out, "text", "", false))
	assert.Contains(t, out.String(), "# "+filepath.Join(in, "shot.png"))
	assert.Contains(t, out.String(), "groups: H:2 V:2 HL:1 VL:0")

	file := filepath.Join(t.TempDir(), "results.json")
	out.Reset()
	require.NoError(t, result.SaveResults(&out, "json", file, false))
	assert.Contains(t, out.String(), "Results written to")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"images"`)
}
