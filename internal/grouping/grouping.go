// Package grouping clusters fused boxes into horizontal rows, vertical
// columns and isolated long elements.
package grouping

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
)

// TiePolicy decides which group keeps a box whose two candidate groups have
// the same size.
type TiePolicy string

const (
	TieHorizontal TiePolicy = "horizontal"
	TieVertical   TiePolicy = "vertical"
)

// Valid reports whether p is a known policy.
func (p TiePolicy) Valid() bool { return p == TieHorizontal || p == TieVertical }

// Config holds the grouping tolerances in pixels.
type Config struct {
	LongBoxThreshold      int       `mapstructure:"long_box_threshold"      yaml:"long_box_threshold"      json:"long_box_threshold"`
	LongBoxScaleMax       int       `mapstructure:"long_box_scale_max"      yaml:"long_box_scale_max"      json:"long_box_scale_max"`
	YVarianceTolerance    float64   `mapstructure:"y_variance_tolerance"    yaml:"y_variance_tolerance"    json:"y_variance_tolerance"`
	HorizontalTolerancePx int       `mapstructure:"horizontal_tolerance_px" yaml:"horizontal_tolerance_px" json:"horizontal_tolerance_px"`
	OverlapAllowance      float64   `mapstructure:"overlap_allowance"       yaml:"overlap_allowance"       json:"overlap_allowance"`
	TiePolicy             TiePolicy `mapstructure:"tie_policy"              yaml:"tie_policy"              json:"tie_policy"`
}

// DefaultConfig returns the standard tolerances.
func DefaultConfig() Config {
	return Config{
		LongBoxThreshold:      600,
		LongBoxScaleMax:       1100,
		YVarianceTolerance:    8,
		HorizontalTolerancePx: 20,
		OverlapAllowance:      0.3,
		TiePolicy:             TieHorizontal,
	}
}

// Grouper runs grouping with a fixed configuration. Safe for concurrent use.
type Grouper struct {
	cfg Config
}

// NewGrouper creates a grouper. An empty tie policy means horizontal.
func NewGrouper(cfg Config) *Grouper {
	if cfg.TiePolicy == "" {
		cfg.TiePolicy = TieHorizontal
	}
	return &Grouper{cfg: cfg}
}

// Config returns the grouper configuration.
func (g *Grouper) Config() Config { return g.cfg }

// Group assigns every fused box to exactly one group.
func (g *Grouper) Group(fused []detection.Fused) *Result {
	start := time.Now()
	stats := Stats{Input: len(fused)}

	boxes := make([]Box, len(fused))
	for i, f := range fused {
		boxes[i] = FromFused(f)
	}
	xOrder := sortedBy(boxes, Box.XKey)
	yOrder := sortedBy(boxes, Box.YKey)

	long := make([]bool, len(boxes))
	var hLong, vLong []Group
	for _, i := range xOrder {
		kind, ok := g.longKind(boxes[i])
		if !ok {
			continue
		}
		long[i] = true
		stats.LongBoxes++
		if g.rescaleLong(&boxes[i]) {
			stats.Rescaled++
		}
		grp := Group{Kind: kind, Boxes: []Box{boxes[i]}}
		if kind == KindHorizontalLong {
			hLong = append(hLong, grp)
		} else {
			vLong = append(vLong, grp)
		}
	}

	xPool := without(xOrder, long)
	yPool := without(yOrder, long)
	hCand := chain(xPool, boxes, g.joinsHorizontally)
	vCand := chain(yPool, boxes, g.joinsVertically)
	stats.HorizontalCandidates = len(hCand)
	stats.VerticalCandidates = len(vCand)

	hKept, vKept, conflicts := g.resolve(boxes, hCand, vCand)
	stats.Conflicts = conflicts

	horizontal, hSplits := rechain(hKept, boxes, g.joinsHorizontally)
	vertical, vSplits := rechain(vKept, boxes, g.joinsVertically)
	stats.Splits = hSplits + vSplits

	groups := make([]Group, 0, len(horizontal)+len(vertical)+len(hLong)+len(vLong))
	groups = appendNumbered(groups, KindHorizontal, horizontal)
	groups = appendNumbered(groups, KindVertical, vertical)
	groups = appendNumbered(groups, KindHorizontalLong, hLong)
	groups = appendNumbered(groups, KindVerticalLong, vLong)

	stats.Horizontal = len(horizontal)
	stats.Vertical = len(vertical)
	stats.HorizontalLong = len(hLong)
	stats.VerticalLong = len(vLong)
	stats.DurationNs = time.Since(start).Nanoseconds()

	slog.Debug("grouping complete",
		"boxes", stats.Input,
		"horizontal", stats.Horizontal,
		"vertical", stats.Vertical,
		"long", stats.LongBoxes,
		"conflicts", stats.Conflicts)

	return newResult(groups, stats)
}

func sortedBy(boxes []Box, key func(Box) SortKey) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ka, kb := key(boxes[a]), key(boxes[b])
		switch {
		case ka.Less(kb):
			return -1
		case kb.Less(ka):
			return 1
		default:
			return 0
		}
	})
	return order
}

func without(order []int, skip []bool) []int {
	out := make([]int, 0, len(order))
	for _, i := range order {
		if !skip[i] {
			out = append(out, i)
		}
	}
	return out
}

func (g *Grouper) longKind(b Box) (Kind, bool) {
	w, h := b.Width(), b.Height()
	if w <= g.cfg.LongBoxThreshold && h <= g.cfg.LongBoxThreshold {
		return 0, false
	}
	if w > h {
		return KindHorizontalLong, true
	}
	return KindVerticalLong, true
}

// rescaleLong shrinks a long box so that its dominant side equals
// LongBoxScaleMax, keeping the top-left corner. Original keeps the fused
// geometry.
func (g *Grouper) rescaleLong(b *Box) bool {
	dominant := max(b.Width(), b.Height())
	if g.cfg.LongBoxScaleMax <= 0 || dominant <= g.cfg.LongBoxScaleMax {
		return false
	}
	b.Box = b.Original.Resize(float64(g.cfg.LongBoxScaleMax) / float64(dominant))
	return true
}

// chain walks pool in order. Every unconsumed box opens a group; the rest of
// the pool is scanned and a box joins when it links to the most recently
// absorbed member.
func chain(pool []int, boxes []Box, joins func(cur, next Box) bool) [][]int {
	used := make([]bool, len(boxes))
	var groups [][]int
	for p, i := range pool {
		if used[i] {
			continue
		}
		used[i] = true
		members := []int{i}
		cur := i
		for _, j := range pool[p+1:] {
			if used[j] || !joins(boxes[cur], boxes[j]) {
				continue
			}
			used[j] = true
			members = append(members, j)
			cur = j
		}
		groups = append(groups, members)
	}
	return groups
}

func (g *Grouper) joinsHorizontally(cur, next Box) bool {
	_, cyA := cur.Center()
	_, cyB := next.Center()
	if math.Abs(cyB-cyA) > g.cfg.YVarianceTolerance {
		return false
	}
	wa, wb := cur.Width(), next.Width()
	gap := float64(next.Box.X1 - cur.Box.X2)
	lo := -g.cfg.OverlapAllowance * float64(min(wa, wb))
	hi := float64(min(g.cfg.HorizontalTolerancePx, wa))
	return gap >= lo && gap <= hi
}

func (g *Grouper) joinsVertically(cur, next Box) bool {
	cxA, _ := cur.Center()
	cxB, _ := next.Center()
	if math.Abs(cxB-cxA) > float64(g.cfg.HorizontalTolerancePx) {
		return false
	}
	ha, hb := cur.Height(), next.Height()
	gap := float64(next.Box.Y1 - cur.Box.Y2)
	lo := -g.cfg.OverlapAllowance * float64(min(ha, hb))
	hi := float64(g.cfg.HorizontalTolerancePx)
	return gap >= lo && gap <= hi
}

// resolve leaves every box in exactly one of its two candidate groups. Sizes
// are compared as they were before any removal so the outcome does not
// depend on processing order. Groups left empty are dropped; the rest keep
// discovery order and their members keep pool order.
func (g *Grouper) resolve(boxes []Box, hCand, vCand [][]int) (horizontal, vertical [][]int, conflicts int) {
	hOf := membership(len(boxes), hCand)
	vOf := membership(len(boxes), vCand)

	keepH := make([]bool, len(boxes))
	for i := range boxes {
		hg, vg := hOf[i], vOf[i]
		switch {
		case hg < 0 && vg < 0:
			continue
		case vg < 0:
			keepH[i] = true
			continue
		case hg < 0:
			continue
		}
		hs, vs := len(hCand[hg]), len(vCand[vg])
		if hs > 1 && vs > 1 {
			conflicts++
		}
		switch {
		case hs > vs:
			keepH[i] = true
		case hs == vs:
			keepH[i] = g.cfg.TiePolicy != TieVertical
		}
	}

	collect := func(cands [][]int, want bool) [][]int {
		var out [][]int
		for _, members := range cands {
			var kept []int
			for _, i := range members {
				if keepH[i] == want {
					kept = append(kept, i)
				}
			}
			if len(kept) > 0 {
				out = append(out, kept)
			}
		}
		return out
	}
	return collect(hCand, true), collect(vCand, false), conflicts
}

// rechain chains the survivors of every resolved group again. Removing a
// middle member can leave neighbours that no longer link; those become
// separate groups in place, so numbering still follows discovery order.
// splits counts the extra groups created.
func rechain(groups [][]int, boxes []Box, joins func(cur, next Box) bool) (out []Group, splits int) {
	for _, members := range groups {
		parts := chain(members, boxes, joins)
		splits += len(parts) - 1
		for _, part := range parts {
			grp := Group{Boxes: make([]Box, len(part))}
			for k, i := range part {
				grp.Boxes[k] = boxes[i]
			}
			out = append(out, grp)
		}
	}
	return out, splits
}

func membership(n int, groups [][]int) []int {
	of := make([]int, n)
	for i := range of {
		of[i] = -1
	}
	for gi, members := range groups {
		for _, i := range members {
			of[i] = gi
		}
	}
	return of
}

func appendNumbered(dst []Group, kind Kind, groups []Group) []Group {
	for n, grp := range groups {
		grp.Kind = kind
		grp.ID = kind.Prefix() + strconv.Itoa(n)
		dst = append(dst, grp)
	}
	return dst
}

// String renders a short summary such as "H:3 V:1 HL:1 VL:0".
func (s Stats) String() string {
	return fmt.Sprintf("H:%d V:%d HL:%d VL:%d", s.Horizontal, s.Vertical, s.HorizontalLong, s.VerticalLong)
}
