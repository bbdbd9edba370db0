package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToJSON serializes a result to pretty JSON. Composite pixels are not part
// of it.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONResults serializes several results as one JSON array.
func ToJSONResults(results []*Result) (string, error) {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToYAML serializes a result to YAML with the same keys and key order as
// ToJSON.
func ToYAML(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	return MarshalYAML(res)
}

// MarshalYAML converts the JSON encoding of v to YAML, so custom JSON
// marshalers such as the ordered group map carry over.
func MarshalYAML(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return "", fmt.Errorf("convert result to yaml: %w", err)
	}
	blockStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// blockStyle drops the flow style yaml assigns to JSON input, keeping
// scalar-only sequences such as bboxes on one line.
func blockStyle(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!str" {
			n.Style = 0
		}
	case yaml.SequenceNode:
		n.Style = 0
		flat := len(n.Content) > 0
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				flat = false
			}
			blockStyle(c)
		}
		if flat {
			n.Style = yaml.FlowStyle
		}
	default:
		n.Style = 0
		for _, c := range n.Content {
			blockStyle(c)
		}
	}
}

// ToCSVMapping exports the label mapping, one row per placed box in
// composite order.
func ToCSVMapping(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	if res.Layout == nil {
		return "", errors.New("result has no layout")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"merged_id", "label", "group_id", "index", "type", "source",
		"x1", "y1", "x2", "y2", "composite", "px1", "py1", "px2", "py2", "placeholder",
	})
	for _, e := range res.Layout.Entries() {
		_ = w.Write([]string{
			strconv.Itoa(e.MergedID),
			e.Label,
			e.GroupID,
			strconv.Itoa(e.Index),
			e.Type,
			e.Source,
			strconv.Itoa(e.Original.X1),
			strconv.Itoa(e.Original.Y1),
			strconv.Itoa(e.Original.X2),
			strconv.Itoa(e.Original.Y2),
			strconv.Itoa(e.Composite),
			strconv.Itoa(e.Placement.X1),
			strconv.Itoa(e.Placement.Y1),
			strconv.Itoa(e.Placement.X2),
			strconv.Itoa(e.Placement.Y2),
			strconv.FormatBool(e.Placeholder),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ToText renders a short human readable report.
func ToText(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var sb strings.Builder
	fs := res.FusionStats
	fmt.Fprintf(&sb, "image: %dx%d\n", res.Width, res.Height)
	fmt.Fprintf(&sb, "detections: %d shapes, %d texts\n", len(res.Shapes), len(res.Texts))
	fmt.Fprintf(&sb, "fused: %d (%d icons, %d texts; %d overlapping, %d dense, %d subsumed, %d retagged)\n",
		fs.Output, fs.Icons, fs.Texts, fs.OverlapDiscarded, fs.DensityDiscarded, fs.SubsumedShapes, fs.Retagged)
	fmt.Fprintf(&sb, "groups: %s\n", res.GroupStats)
	for _, g := range res.Groups.Groups() {
		ids := make([]string, len(g.Boxes))
		for i, b := range g.Boxes {
			ids[i] = strconv.Itoa(b.MergedID)
		}
		fmt.Fprintf(&sb, "  %-5s %s\n", g.ID, strings.Join(ids, ","))
	}
	if res.Layout != nil {
		fmt.Fprintf(&sb, "composites: %d (%d boxes, %d placeholders)\n",
			len(res.Layout.Composites), res.Layout.Stats.Boxes, res.Layout.Stats.Placeholders)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&sb, "warning: %s\n", w)
	}
	return sb.String(), nil
}
