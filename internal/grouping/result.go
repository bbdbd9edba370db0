package grouping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Stats summarises a grouping run. Candidate counts are taken before
// conflict resolution.
type Stats struct {
	Input                int   `json:"input"                 yaml:"input"`
	LongBoxes            int   `json:"long_boxes"            yaml:"long_boxes"`
	Rescaled             int   `json:"rescaled"              yaml:"rescaled"`
	HorizontalCandidates int   `json:"horizontal_candidates" yaml:"horizontal_candidates"`
	VerticalCandidates   int   `json:"vertical_candidates"   yaml:"vertical_candidates"`
	Conflicts            int   `json:"conflicts"             yaml:"conflicts"`
	Splits               int   `json:"splits"                yaml:"splits"`
	Horizontal           int   `json:"horizontal"            yaml:"horizontal"`
	Vertical             int   `json:"vertical"              yaml:"vertical"`
	HorizontalLong       int   `json:"horizontal_long"       yaml:"horizontal_long"`
	VerticalLong         int   `json:"vertical_long"         yaml:"vertical_long"`
	DurationNs           int64 `json:"duration_ns"           yaml:"duration_ns"`
}

// Result is the final group map. Groups are kept in category order
// (H, V, HL, VL) and numbered without gaps inside each category.
type Result struct {
	groups []Group
	index  map[string]int
	owner  map[int]string

	Stats Stats
}

func newResult(groups []Group, stats Stats) *Result {
	r := &Result{
		groups: groups,
		index:  make(map[string]int, len(groups)),
		owner:  make(map[int]string),
		Stats:  stats,
	}
	for i, g := range groups {
		r.index[g.ID] = i
		for _, b := range g.Boxes {
			r.owner[b.MergedID] = g.ID
		}
	}
	return r
}

// Groups returns all groups in category order.
func (r *Result) Groups() []Group {
	if r == nil {
		return nil
	}
	out := make([]Group, len(r.groups))
	copy(out, r.groups)
	return out
}

// OfKind returns the groups of one category in numbering order.
func (r *Result) OfKind(k Kind) []Group {
	if r == nil {
		return nil
	}
	var out []Group
	for _, g := range r.groups {
		if g.Kind == k {
			out = append(out, g)
		}
	}
	return out
}

// Get looks a group up by id.
func (r *Result) Get(id string) (Group, bool) {
	if r == nil {
		return Group{}, false
	}
	i, ok := r.index[id]
	if !ok {
		return Group{}, false
	}
	return r.groups[i], true
}

// IDs returns the group ids in category order.
func (r *Result) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.groups))
	for i, g := range r.groups {
		ids[i] = g.ID
	}
	return ids
}

// Len returns the number of groups.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.groups)
}

// BoxCount returns the number of grouped boxes.
func (r *Result) BoxCount() int {
	if r == nil {
		return 0
	}
	return len(r.owner)
}

// Owner returns the id of the group holding mergedID.
func (r *Result) Owner(mergedID int) (string, bool) {
	if r == nil {
		return "", false
	}
	id, ok := r.owner[mergedID]
	return id, ok
}

// MarshalJSON encodes the map group_id -> [boxes] with keys in category order.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range r.Groups() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(g.ID)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		boxes := g.Boxes
		if boxes == nil {
			boxes = []Box{}
		}
		val, err := json.Marshal(boxes)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a result from its encoded map. Stats are not part
// of the encoding and stay zero.
func (r *Result) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("groups: expected object")
	}
	var groups []Group
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, _ := tok.(string)
		kind, err := ParseID(id)
		if err != nil {
			return err
		}
		var boxes []Box
		if err := dec.Decode(&boxes); err != nil {
			return fmt.Errorf("groups: %s: %w", id, err)
		}
		groups = append(groups, Group{ID: id, Kind: kind, Boxes: boxes})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = *newResult(groups, Stats{})
	return nil
}

// ParseID returns the kind encoded in a group id such as "H3" or "VL0".
func ParseID(id string) (Kind, error) {
	for _, k := range []Kind{KindHorizontalLong, KindVerticalLong, KindHorizontal, KindVertical} {
		rest, ok := strings.CutPrefix(id, k.Prefix())
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n >= 0 {
			return k, nil
		}
	}
	return 0, fmt.Errorf("groups: invalid group id %q", id)
}
