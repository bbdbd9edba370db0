package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
}

func TestDiscoverImageFiles_EmptyArgs(t *testing.T) {
	files, err := discoverImageFiles([]string{}, false, []string{"*.png"}, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDiscoverImageFiles_SingleFile(t *testing.T) {
	dir := t.TempDir()
	pngFile := filepath.Join(dir, "test.png")
	jpgFile := filepath.Join(dir, "test.jpg")
	touch(t, pngFile, jpgFile)

	files, err := discoverImageFiles([]string{pngFile, jpgFile}, false, []string{"*.png", "*.jpg"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{pngFile, jpgFile}, files)
}

func TestDiscoverImageFiles_DirectorySkipsSidecars(t *testing.T) {
	dir := t.TempDir()
	pngFile := filepath.Join(dir, "screen.png")
	bmpFile := filepath.Join(dir, "old.bmp")
	touch(t, pngFile, bmpFile,
		filepath.Join(dir, "screen"+ShapesSuffix),
		filepath.Join(dir, "screen"+TextSuffix),
		filepath.Join(dir, "notes.txt"))

	files, err := discoverImageFiles([]string{dir}, false, nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pngFile, bmpFile}, files)
}

func TestDiscoverImageFiles_Recursive(t *testing.T) {
	dir := t.TempDir()
	rootPng := filepath.Join(dir, "root.png")
	subPng := filepath.Join(dir, "sub", "sub.png")
	touch(t, rootPng, subPng)

	files, err := discoverImageFiles([]string{dir}, true, []string{"*.png"}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{rootPng, subPng}, files)

	files, err = discoverImageFiles([]string{dir}, false, []string{"*.png"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{rootPng}, files)
}

func TestDiscoverImageFiles_Exclude(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.png")
	touch(t, keep, filepath.Join(dir, "skip_debug.png"))

	files, err := discoverImageFiles([]string{dir}, false, nil, []string{"*_debug.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{keep}, files)
}

func TestDiscoverImageFiles_MissingPath(t *testing.T) {
	_, err := discoverImageFiles([]string{"/nonexistent/dir"}, false, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot access")
}

func TestShouldIncludeFile(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		include []string
		exclude []string
		want    bool
	}{
		{"no patterns", "/a/b.png", nil, nil, true},
		{"include match", "/a/b.png", []string{"*.png"}, nil, true},
		{"include miss", "/a/b.jpg", []string{"*.png"}, nil, false},
		{"exclude wins", "/a/b.png", []string{"*.png"}, []string{"b.*"}, false},
		{"base name only", "/png/b.jpg", []string{"png"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldIncludeFile(tt.path, tt.include, tt.exclude))
		})
	}
}
