package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
)

func sampleResult(t *testing.T) *Result {
	t.Helper()
	p, err := NewBuilder().Build()
	require.NoError(t, err)
	res, err := p.RunDetections(
		[]detection.Detection{det(10, 10, 40, 40), det(60, 10, 90, 40)},
		[]detection.Detection{det(10, 100, 120, 120)},
		testImage())
	require.NoError(t, err)
	return res
}

func TestToJSON(t *testing.T) {
	res := sampleResult(t)
	out, err := ToJSON(res)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	for _, key := range []string{"width", "height", "shapes", "texts", "fused", "fusion_stats", "groups", "group_stats", "layout", "stats"} {
		assert.Contains(t, doc, key)
	}
	assert.NotContains(t, doc, "warnings")
	assert.Contains(t, out, `"merged_id": 0`)
	assert.Contains(t, out, `"bbox": [`)

	_, err = ToJSON(nil)
	require.Error(t, err)

	all, err := ToJSONResults([]*Result{res, res})
	require.NoError(t, err)
	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(all), &arr))
	assert.Len(t, arr, 2)
}

func TestToYAML(t *testing.T) {
	res := sampleResult(t)
	out, err := ToYAML(res)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "width: 400\n"), out)
	assert.Contains(t, out, "bbox: [10, 10, 40, 40]")
	assert.Contains(t, out, "source: shape")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, 300, back["height"])
	fused, ok := back["fused"].([]any)
	require.True(t, ok)
	assert.Len(t, fused, 3)

	_, err = ToYAML(nil)
	require.Error(t, err)
}

func TestMarshalYAML_KeepsGroupOrder(t *testing.T) {
	res := sampleResult(t)
	out, err := MarshalYAML(struct {
		Groups any `json:"groups"`
		Count  int `json:"count"`
	}{res.Groups, len(res.Fused)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "groups:"), out)
	assert.Contains(t, out, "count: 3")

	_, err = MarshalYAML(make(chan int))
	require.Error(t, err)
}

func TestToCSVMapping(t *testing.T) {
	res := sampleResult(t)
	out, err := ToCSVMapping(res)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "merged_id", rows[0][0])
	assert.Equal(t, "label", rows[0][1])
	assert.Equal(t, "H0_1", rows[1][1])
	assert.Equal(t, "false", rows[1][15])

	res.Layout = nil
	_, err = ToCSVMapping(res)
	require.EqualError(t, err, "result has no layout")
	_, err = ToCSVMapping(nil)
	require.Error(t, err)
}

func TestToText(t *testing.T) {
	res := sampleResult(t)
	res.Warnings = []string{"text detector: offline"}
	out, err := ToText(res)
	require.NoError(t, err)
	assert.Contains(t, out, "image: 400x300")
	assert.Contains(t, out, "fused: 3")
	assert.Contains(t, out, "H0")
	assert.Contains(t, out, "composites: 1")
	assert.Contains(t, out, "warning: text detector: offline")

	_, err = ToText(nil)
	require.Error(t, err)
}

func TestProfiler(t *testing.T) {
	var p Profiler
	snap := p.Snapshot()
	assert.Equal(t, int64(0), snap["runs"])
	assert.NotContains(t, snap, "fusion_ms_per_run")

	res := sampleResult(t)
	res.Stats.FusionNs = 4_000_000
	res.Stats.DetectorErrors = 1
	p.Record(res)
	p.Record(res)
	p.Record(nil)

	snap = p.Snapshot()
	assert.Equal(t, int64(2), snap["runs"])
	assert.Equal(t, int64(6), snap["fused"])
	assert.Equal(t, int64(2), snap["detector_errors"])
	assert.Equal(t, int64(8), snap["fusion_ms_total"])
	assert.InDelta(t, 4.0, snap["fusion_ms_per_run"], 1e-9)
}
