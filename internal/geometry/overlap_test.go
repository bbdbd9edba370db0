package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArea(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want float64
	}{
		{"regular", Box{0, 0, 10, 20}, 200},
		{"offset", Box{5, 5, 8, 9}, 12},
		{"zero width", Box{5, 0, 5, 10}, 0},
		{"zero height", Box{0, 5, 10, 5}, 0},
		{"inverted x", Box{10, 0, 0, 10}, 0},
		{"inverted y", Box{0, 10, 10, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Area(tt.box), 1e-9)
		})
	}
}

func TestIoU(t *testing.T) {
	a := Box{0, 0, 100, 100}
	assert.InDelta(t, 1.0, IoU(a, a), 1e-12)
	assert.InDelta(t, 0.0, IoU(a, Box{200, 200, 300, 300}), 1e-12)
	// Touching edges do not overlap.
	assert.InDelta(t, 0.0, IoU(a, Box{100, 0, 200, 100}), 1e-12)
	assert.InDelta(t, 0.0, IoU(a, Box{10, 10, 10, 50}), 1e-12)

	// 90x90 inside 100x100 -> 8100/10000.
	assert.InDelta(t, 0.81, IoU(a, Box{5, 5, 95, 95}), 1e-9)
	// Half overlap: 50*100 / (10000+10000-5000).
	assert.InDelta(t, 5000.0/15000.0, IoU(a, Box{50, 0, 150, 100}), 1e-9)
}

func TestContainment(t *testing.T) {
	outer := Box{0, 0, 200, 200}
	inner := Box{10, 10, 40, 18}

	assert.InDelta(t, 1.0, ContainmentRatio(inner, outer), 1e-12)
	assert.Less(t, ContainmentRatio(outer, inner), 0.01)
	assert.True(t, IsInside(inner, outer, DefaultContainmentThreshold))
	assert.False(t, IsInside(outer, inner, DefaultContainmentThreshold))

	// Half inside is below the default threshold.
	partial := Box{150, 0, 250, 100}
	assert.InDelta(t, 0.5, ContainmentRatio(partial, outer), 1e-12)
	assert.False(t, IsInside(partial, outer, DefaultContainmentThreshold))
	assert.True(t, IsInside(partial, outer, 0.5))

	// Zero threshold still requires an actual intersection.
	assert.False(t, IsInside(Box{300, 300, 310, 310}, outer, 0))
	assert.False(t, IsInside(Box{5, 5, 5, 9}, outer, 0))
}

type tagged struct {
	box Box
	tag string
}

func (t tagged) Bounds() Box { return t.box }

func TestFilterValid(t *testing.T) {
	in := []tagged{
		{Box{0, 0, 10, 10}, "a"},
		{Box{0, 0, 1, 1}, "unit"},
		{Box{5, 5, 5, 10}, "flat"},
		{Box{0, 0, 2, 1}, "b"},
		{Box{10, 10, 0, 0}, "inverted"},
		{Box{3, 3, 9, 4}, "c"},
	}

	out := FilterValid(in, 1.0)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].tag)
	assert.Equal(t, "b", out[1].tag)
	assert.Equal(t, "c", out[2].tag)

	assert.Empty(t, FilterValid([]tagged(nil), 1.0))
	assert.Len(t, FilterValid([]Box{{0, 0, 1, 1}}, 0), 1)
}

func TestBoxHelpers(t *testing.T) {
	b := NewBox(10, 20, 0, 0)
	assert.Equal(t, Box{0, 0, 10, 20}, b)
	assert.Equal(t, 10, b.Width())
	assert.Equal(t, 20, b.Height())
	cx, cy := b.Center()
	assert.InDelta(t, 5.0, cx, 1e-12)
	assert.InDelta(t, 10.0, cy, 1e-12)
	assert.True(t, b.Valid())
	assert.False(t, Box{0, 0, 0, 5}.Valid())
	assert.Equal(t, b, FromRect(b.Rect()))
	assert.Equal(t, "[0,0,10,20]", b.String())

	long := Box{100, 50, 2100, 90}
	scaled := long.Resize(1100.0 / 2000.0)
	assert.Equal(t, Box{100, 50, 1200, 72}, scaled)
	assert.Equal(t, Box{0, 0, 1, 1}, Box{0, 0, 1, 1}.Resize(0.01))
}

func TestBoxJSON(t *testing.T) {
	b := Box{1, 2, 30, 40}
	data, err := b.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,30,40]`, string(data))

	var got Box
	require.NoError(t, got.UnmarshalJSON([]byte(`[1.4, 2.6, 30, 40]`)))
	assert.Equal(t, Box{1, 3, 30, 40}, got)

	require.Error(t, got.UnmarshalJSON([]byte(`[1,2,3]`)))
	require.Error(t, got.UnmarshalJSON([]byte(`{"x":1}`)))
}
