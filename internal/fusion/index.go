package fusion

import (
	"slices"

	flatbush "github.com/bmharper/flatbush-go"

	"github.com/MeKo-Tech/boxfuse/internal/geometry"
)

// spatialIndex answers "which items overlap this box" in input order.
type spatialIndex struct {
	fb *flatbush.Flatbush[int32]
	n  int
}

func newSpatialIndex[T geometry.Boxed](items []T) *spatialIndex {
	idx := &spatialIndex{n: len(items)}
	if idx.n == 0 {
		return idx
	}
	idx.fb = flatbush.NewFlatbush[int32]()
	idx.fb.Reserve(len(items))
	for _, it := range items {
		b := it.Bounds()
		idx.fb.Add(int32(b.X1), int32(b.Y1), int32(b.X2), int32(b.Y2))
	}
	idx.fb.Finish()
	return idx
}

// overlapping returns the indices of items whose bounds touch or intersect b,
// sorted ascending.
func (s *spatialIndex) overlapping(b geometry.Box) []int {
	if s.n == 0 {
		return nil
	}
	hits := s.fb.Search(int32(b.X1), int32(b.Y1), int32(b.X2), int32(b.Y2))
	slices.Sort(hits)
	return hits
}
