package layout

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/MeKo-Tech/boxfuse/internal/geometry"
	"github.com/MeKo-Tech/boxfuse/internal/utils"
)

// gap is the horizontal distance between two neighbouring crops, wide
// enough that their labels never touch.
func (c *Composer) gap(a, b item) int {
	return c.cfg.BaseGap + a.overhang + b.overhang + c.cfg.LabelBuffer
}

// span is the width a run of items needs, label overhang included.
func (c *Composer) span(items []item) int {
	if len(items) == 0 {
		return 0
	}
	w := items[0].overhang + items[len(items)-1].overhang
	for i, it := range items {
		w += it.size.w
		if i > 0 {
			w += c.gap(items[i-1], it)
		}
	}
	return w
}

// segments splits a group into runs that each fit one row.
func (c *Composer) segments(items []item) [][]item {
	usable := c.cfg.usableWidth()
	var segs [][]item
	start := 0
	for i := 1; i <= len(items); i++ {
		if i < len(items) && c.span(items[start:i+1]) <= usable {
			continue
		}
		segs = append(segs, items[start:i])
		start = i
	}
	return segs
}

// packer places segments left to right, top to bottom, opening a new
// composite whenever a row no longer fits.
type packer struct {
	c   *Composer
	out *Output

	canvas  *image.RGBA
	labels  []string
	cursorX int
	rowY    int
	rowH    int
	rowUsed bool
	colorN  int
	lastGID string
}

func newPacker(c *Composer, out *Output) *packer {
	return &packer{c: c, out: out, colorN: -1}
}

func (p *packer) left() int   { return p.c.cfg.Padding }
func (p *packer) right() int  { return p.c.cfg.CanvasWidth - p.c.cfg.Padding }
func (p *packer) bottom() int { return p.c.cfg.CanvasHeight - p.c.cfg.Padding }

func (p *packer) open() {
	cfg := p.c.cfg
	p.canvas = image.NewRGBA(image.Rect(0, 0, cfg.CanvasWidth, cfg.CanvasHeight))
	draw.Draw(p.canvas, p.canvas.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)
	p.labels = nil
	p.cursorX = p.left()
	p.rowY = cfg.Padding
	p.rowH = 0
	p.rowUsed = false
	p.out.Stats.Rows++
}

func (p *packer) finish() {
	if p.canvas == nil || len(p.labels) == 0 {
		return
	}
	p.out.Composites = append(p.out.Composites, Composite{
		Index:    len(p.out.Composites),
		Image:    p.canvas,
		BoxCount: len(p.labels),
		Labels:   p.labels,
	})
	p.canvas = nil
}

func (p *packer) newRow() {
	p.rowY += p.rowH + p.c.cfg.RowGap
	p.cursorX = p.left()
	p.rowH = 0
	p.rowUsed = false
	p.out.Stats.Rows++
}

func (p *packer) place(seg []item) {
	cfg := p.c.cfg
	if p.canvas == nil {
		p.open()
	}

	segW := p.c.span(seg)
	segH := cfg.LabelHeight
	for _, it := range seg {
		segH = max(segH, it.size.h+cfg.LabelHeight)
	}

	if p.rowUsed {
		fitsRow := p.cursorX+cfg.GroupGap+segW <= p.right()
		efficient := p.cursorX <= cfg.EfficientPackingWidth
		fitsDown := p.rowY+segH <= p.bottom()
		if fitsRow && efficient && fitsDown {
			p.cursorX += cfg.GroupGap
		} else {
			p.newRow()
		}
	}
	if !p.rowUsed && p.rowY+segH > p.bottom() && len(p.labels) > 0 {
		p.finish()
		p.open()
	}

	if seg[0].group.ID != p.lastGID {
		p.lastGID = seg[0].group.ID
		p.colorN++
	}
	col := groupColor(p.colorN)

	x := p.cursorX + seg[0].overhang
	for i, it := range seg {
		if i > 0 {
			x += seg[i-1].size.w + p.c.gap(seg[i-1], it)
		}
		p.draw(it, x, p.rowY, col)
	}
	last := seg[len(seg)-1]
	p.cursorX = x + last.size.w + last.overhang
	p.rowH = max(p.rowH, segH)
	p.rowUsed = true
}

func (p *packer) draw(it item, x, y int, col color.Color) {
	rect := image.Rect(x, y, x+it.size.w, y+it.size.h)
	src := it.img
	draw.Draw(p.canvas, rect, src, src.Bounds().Min, draw.Src)
	if fw := p.c.cfg.FrameWidth; fw > 0 {
		utils.DrawRect(p.canvas, rect.Inset(-fw), col, fw)
	}
	p.c.drawLabel(p.canvas, it.label, it.labelW, x, it.size.w, y+it.size.h, col)

	p.labels = append(p.labels, it.label)
	p.out.Mapping[it.box.MergedID] = MappingEntry{
		MergedID:    it.box.MergedID,
		GroupID:     it.group.ID,
		Index:       it.index,
		Label:       it.label,
		Box:         it.box.Box,
		Original:    it.box.Original,
		Source:      it.box.Source.String(),
		Type:        it.box.Type.String(),
		Composite:   len(p.out.Composites),
		Placement:   geometry.FromRect(rect),
		Placeholder: it.stub,
		Kind:        it.group.Kind,
	}
}
