package layout

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

// CompositeName is the file name used for the n-th composite of prefix.
func CompositeName(prefix string, n int) string {
	return fmt.Sprintf("%s_composite_%d.png", prefix, n)
}

// WritePNGs stores every composite under dir and returns the written paths.
func WritePNGs(dir, prefix string, composites []Composite) ([]string, error) {
	paths := make([]string, 0, len(composites))
	for _, c := range composites {
		if c.Image == nil {
			continue
		}
		path := filepath.Join(dir, CompositeName(prefix, c.Index))
		if err := utils.SavePNG(path, c.Image); err != nil {
			return paths, fmt.Errorf("write composite %d: %w", c.Index, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Entries returns the mapping ordered by composite and then by placement
// order on the canvas.
func (o *Output) Entries() []MappingEntry {
	out := make([]MappingEntry, 0, len(o.Mapping))
	for _, e := range o.Mapping {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b MappingEntry) int {
		if a.Composite != b.Composite {
			return a.Composite - b.Composite
		}
		if a.Placement.Y1 != b.Placement.Y1 {
			return a.Placement.Y1 - b.Placement.Y1
		}
		return a.Placement.X1 - b.Placement.X1
	})
	return out
}
