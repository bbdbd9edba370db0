package layout

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/clone"
	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/width"

	"github.com/MeKo-Tech/boxfuse/internal/grouping"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

var (
	placeholderColor = color.Gray{Y: 160}
	backgroundColor  = color.White
)

// fallbackGlyphWidth is the advance of one narrow character when no face is
// available; it matches basicfont.Face7x13.
const fallbackGlyphWidth = 7

// displaySize is the on-canvas footprint of one crop.
type displaySize struct {
	scaledW, scaledH int // after downscaling
	w, h             int // after edge padding
}

// displaySize caps the height at MaxHeight, keeps the crop inside the usable
// width and then raises small sides to MinDimension.
func (c *Composer) displaySize(w, h int) displaySize {
	fw, fh := float64(max(w, 1)), float64(max(h, 1))
	if c.cfg.MaxHeight > 0 && fh > float64(c.cfg.MaxHeight) {
		s := float64(c.cfg.MaxHeight) / fh
		fw, fh = fw*s, fh*s
	}
	if usable := float64(c.cfg.usableWidth()); usable > 0 && fw > usable {
		s := usable / fw
		fw, fh = fw*s, fh*s
	}
	d := displaySize{
		scaledW: max(int(math.Round(fw)), 1),
		scaledH: max(int(math.Round(fh)), 1),
	}
	d.w = max(d.scaledW, c.cfg.MinDimension)
	d.h = max(d.scaledH, c.cfg.MinDimension)
	return d
}

// item is one box ready for packing.
type item struct {
	group    grouping.Group
	index    int
	box      grouping.Box
	label    string
	labelW   int
	overhang int
	img      image.Image
	size     displaySize
	stub     bool
}

func (c *Composer) prepare(g grouping.Group, i int, b grouping.Box, src image.Image, stats *Stats) item {
	it := item{
		group: g,
		index: i + 1,
		box:   b,
		label: fmt.Sprintf("%s_%d", g.ID, i+1),
		size:  c.displaySize(b.Width(), b.Height()),
	}
	it.labelW = c.measure(it.label)
	it.overhang = max(0, (it.labelW-it.size.w+1)/2)
	it.img, it.stub = c.crop(src, b, it.size, stats)
	stats.Boxes++
	return it
}

// crop cuts the box out of src and brings it to its display size. Crops that
// cannot be taken become flat placeholders.
func (c *Composer) crop(src image.Image, b grouping.Box, size displaySize, stats *Stats) (image.Image, bool) {
	if src == nil || !b.Box.Valid() {
		stats.Placeholders++
		return utils.Placeholder(size.w, size.h, placeholderColor), true
	}
	cropped, ok := utils.CropImageRect(src, b.Box.Rect())
	if !ok {
		stats.Placeholders++
		return utils.Placeholder(size.w, size.h, placeholderColor), true
	}

	var img image.Image = cropped
	if want := b.Box.Rect(); cropped.Bounds().Size() != want.Size() {
		// Partly outside the source: keep the visible pixels at their true
		// offset and fill the rest like a placeholder.
		stats.Clipped++
		visible := utils.ClampRect(want, src.Bounds())
		img = imaging.Paste(utils.Placeholder(want.Dx(), want.Dy(), placeholderColor), cropped, visible.Min.Sub(want.Min))
	}
	cb := img.Bounds()
	if cb.Dx() != size.scaledW || cb.Dy() != size.scaledH {
		if size.scaledW < cb.Dx() || size.scaledH < cb.Dy() {
			stats.Downscaled++
		}
		img = imaging.Resize(img, size.scaledW, size.scaledH, imaging.Lanczos)
	}
	if size.w == size.scaledW && size.h == size.scaledH {
		return img, false
	}

	stats.Padded++
	padX := (size.w - size.scaledW + 1) / 2
	padY := (size.h - size.scaledH + 1) / 2
	padded := clone.Pad(img, padX, padY, clone.EdgeExtend)
	if padded.Bounds().Dx() != size.w || padded.Bounds().Dy() != size.h {
		return imaging.CropCenter(padded, size.w, size.h), false
	}
	return padded, false
}

// measure returns the rendered label width in pixels.
func (c *Composer) measure(label string) int {
	if c.face != nil {
		return font.MeasureString(c.face, label).Ceil()
	}
	return estimateWidth(label)
}

// estimateWidth counts characters; east asian wide runes count twice.
func estimateWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n * fallbackGlyphWidth
}

// drawLabel writes label centred under a crop whose left edge is x and whose
// bottom edge is y.
func (c *Composer) drawLabel(dst *image.RGBA, label string, labelW, x, cropW, y int, col color.Color) {
	if c.face == nil {
		return
	}
	ascent := c.face.Metrics().Ascent.Ceil()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(x+(cropW-labelW)/2, y+1+ascent),
	}
	d.DrawString(label)
}

// groupColor picks a stable, well separated colour for the n-th group.
func groupColor(n int) color.Color {
	hue := math.Mod(float64(n)*137.508, 360)
	return colorful.Hcl(hue, 0.75, 0.5).Clamped()
}
