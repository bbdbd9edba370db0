package geometry

// DefaultContainmentThreshold is the containment ratio above which a box is
// considered to lie inside another.
const DefaultContainmentThreshold = 0.8

// Boxed is implemented by anything that carries a bounding box.
type Boxed interface {
	Bounds() Box
}

// Area returns the box area, or 0 for degenerate boxes.
func Area(b Box) float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return float64(w) * float64(h)
}

// Intersection returns the overlapping area of a and b.
func Intersection(a, b Box) float64 {
	return Area(Box{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	})
}

// IoU computes intersection-over-union. It returns 0 when the boxes do not
// overlap or either box has zero area.
func IoU(a, b Box) float64 {
	areaA := Area(a)
	areaB := Area(b)
	if areaA == 0 || areaB == 0 {
		return 0
	}
	inter := Intersection(a, b)
	if inter == 0 {
		return 0
	}
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ContainmentRatio returns the fraction of inner's area that lies inside
// outer. Not symmetric.
func ContainmentRatio(inner, outer Box) float64 {
	areaInner := Area(inner)
	if areaInner == 0 {
		return 0
	}
	return Intersection(inner, outer) / areaInner
}

// IsInside reports whether inner lies inside outer by at least threshold of
// its own area. Boxes without any intersection are never inside.
func IsInside(inner, outer Box, threshold float64) bool {
	if Intersection(inner, outer) == 0 {
		return false
	}
	return ContainmentRatio(inner, outer) >= threshold
}

// FilterValid drops items whose area is less than or equal to minArea,
// preserving the order of the survivors.
func FilterValid[T Boxed](items []T, minArea float64) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if Area(it.Bounds()) > minArea {
			out = append(out, it)
		}
	}
	return out
}
