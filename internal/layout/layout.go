// Package layout packs the pixel content of grouped boxes into fixed-size,
// labelled composite images and records where every box ended up.
package layout

import (
	"image"
	"log/slog"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/MeKo-Tech/boxfuse/internal/geometry"
	"github.com/MeKo-Tech/boxfuse/internal/grouping"
)

// Config holds canvas geometry and spacing, all in pixels.
type Config struct {
	CanvasWidth           int `mapstructure:"canvas_width"            yaml:"canvas_width"            json:"canvas_width"`
	CanvasHeight          int `mapstructure:"canvas_height"           yaml:"canvas_height"           json:"canvas_height"`
	MinDimension          int `mapstructure:"min_dimension"           yaml:"min_dimension"           json:"min_dimension"`
	MaxHeight             int `mapstructure:"max_height"              yaml:"max_height"              json:"max_height"`
	Padding               int `mapstructure:"padding"                 yaml:"padding"                 json:"padding"`
	BaseGap               int `mapstructure:"base_gap"                yaml:"base_gap"                json:"base_gap"`
	LabelBuffer           int `mapstructure:"label_buffer"            yaml:"label_buffer"            json:"label_buffer"`
	GroupGap              int `mapstructure:"group_gap"               yaml:"group_gap"               json:"group_gap"`
	RowGap                int `mapstructure:"row_gap"                 yaml:"row_gap"                 json:"row_gap"`
	LabelHeight           int `mapstructure:"label_height"            yaml:"label_height"            json:"label_height"`
	EfficientPackingWidth int `mapstructure:"efficient_packing_width" yaml:"efficient_packing_width" json:"efficient_packing_width"`
	FrameWidth            int `mapstructure:"frame_width"             yaml:"frame_width"             json:"frame_width"`
}

// DefaultConfig returns the standard 1280x1280 canvas settings.
func DefaultConfig() Config {
	return Config{
		CanvasWidth:           1280,
		CanvasHeight:          1280,
		MinDimension:          40,
		MaxHeight:             50,
		Padding:               10,
		BaseGap:               10,
		LabelBuffer:           4,
		GroupGap:              20,
		RowGap:                8,
		LabelHeight:           14,
		EfficientPackingWidth: 1000,
		FrameWidth:            1,
	}
}

// usableWidth is the horizontal space inside the canvas padding.
func (c Config) usableWidth() int { return c.CanvasWidth - 2*c.Padding }

// Composite is one finished canvas.
type Composite struct {
	Index    int         `json:"index"`
	Image    *image.RGBA `json:"-"`
	BoxCount int         `json:"box_count"`
	Labels   []string    `json:"labels"`
}

// MappingEntry traces one placed crop back to its fused detection.
type MappingEntry struct {
	MergedID    int           `json:"merged_id"`
	GroupID     string        `json:"group_id"`
	Index       int           `json:"index"`
	Label       string        `json:"label"`
	Box         geometry.Box  `json:"bbox"`
	Original    geometry.Box  `json:"original_bbox"`
	Source      string        `json:"source"`
	Type        string        `json:"type"`
	Composite   int           `json:"composite"`
	Placement   geometry.Box  `json:"placement"`
	Placeholder bool          `json:"placeholder,omitempty"`
	Kind        grouping.Kind `json:"-"`
}

// LabelRef is the short form handed to a captioning step.
type LabelRef struct {
	GroupID string `json:"group_id"`
	Index   int    `json:"index"`
	Label   string `json:"label"`
}

// Stats summarises a layout run.
type Stats struct {
	Groups       int   `json:"groups"       yaml:"groups"`
	Boxes        int   `json:"boxes"        yaml:"boxes"`
	Composites   int   `json:"composites"   yaml:"composites"`
	Rows         int   `json:"rows"         yaml:"rows"`
	Segments     int   `json:"segments"     yaml:"segments"`
	Placeholders int   `json:"placeholders" yaml:"placeholders"`
	Clipped      int   `json:"clipped"      yaml:"clipped"`
	Padded       int   `json:"padded"       yaml:"padded"`
	Downscaled   int   `json:"downscaled"   yaml:"downscaled"`
	DurationNs   int64 `json:"duration_ns"  yaml:"duration_ns"`
}

// Output is everything a layout run produces.
type Output struct {
	Composites []Composite          `json:"composites"`
	Mapping    map[int]MappingEntry `json:"mapping"`
	Stats      Stats                `json:"stats"`
}

// Labels returns merged_id -> {group_id, index, label}.
func (o *Output) Labels() map[int]LabelRef {
	out := make(map[int]LabelRef, len(o.Mapping))
	for id, e := range o.Mapping {
		out[id] = LabelRef{GroupID: e.GroupID, Index: e.Index, Label: e.Label}
	}
	return out
}

// Composer renders composites. It is safe for concurrent use.
type Composer struct {
	cfg  Config
	face font.Face
}

// Option customises a Composer.
type Option func(*Composer)

// WithFace sets the label face. A nil face disables text rendering and
// switches label measurement to the character-count estimate.
func WithFace(face font.Face) Option {
	return func(c *Composer) { c.face = face }
}

// NewComposer creates a composer drawing labels with basicfont.Face7x13.
func NewComposer(cfg Config, opts ...Option) *Composer {
	c := &Composer{cfg: cfg, face: basicfont.Face7x13}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the composer configuration.
func (c *Composer) Config() Config { return c.cfg }

// Compose crops every grouped box out of src and packs the crops into as
// many composites as needed. A nil src yields placeholders for every box.
func (c *Composer) Compose(groups *grouping.Result, src image.Image) *Output {
	start := time.Now()
	out := &Output{Composites: []Composite{}, Mapping: map[int]MappingEntry{}}

	ordered := orderGroups(groups)
	out.Stats.Groups = len(ordered)

	p := newPacker(c, out)
	for _, g := range ordered {
		items := make([]item, 0, len(g.Boxes))
		for i, b := range g.Boxes {
			it := c.prepare(g, i, b, src, &out.Stats)
			items = append(items, it)
		}
		for _, seg := range c.segments(items) {
			p.place(seg)
			out.Stats.Segments++
		}
	}
	p.finish()

	out.Stats.Composites = len(out.Composites)
	out.Stats.DurationNs = time.Since(start).Nanoseconds()
	slog.Debug("layout complete",
		"groups", out.Stats.Groups,
		"boxes", out.Stats.Boxes,
		"composites", out.Stats.Composites,
		"placeholders", out.Stats.Placeholders)
	return out
}

// orderGroups returns horizontal, horizontal-long, vertical and vertical-long
// groups, each category in numbering order.
func orderGroups(groups *grouping.Result) []grouping.Group {
	var out []grouping.Group
	for _, k := range []grouping.Kind{
		grouping.KindHorizontal,
		grouping.KindHorizontalLong,
		grouping.KindVertical,
		grouping.KindVerticalLong,
	} {
		out = append(out, groups.OfKind(k)...)
	}
	return out
}
