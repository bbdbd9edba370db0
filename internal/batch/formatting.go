package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

// formatBatchResults formats the batch processing results in the specified format.
func formatBatchResults(items []Item, format string) (string, error) {
	switch format {
	case "json":
		return formatJSON(items)
	case "csv":
		return formatCSV(items)
	default: // text
		return formatText(items)
	}
}

type jsonItem struct {
	File    string           `json:"file"`
	Error   string           `json:"error,omitempty"`
	Outputs []string         `json:"outputs,omitempty"`
	Result  *pipeline.Result `json:"result,omitempty"`
}

// formatJSON formats results as JSON.
func formatJSON(items []Item) (string, error) {
	batchResult := struct {
		Images []jsonItem `json:"images"`
	}{Images: make([]jsonItem, len(items))}

	for i, it := range items {
		batchResult.Images[i] = jsonItem{File: it.Path, Outputs: it.Outputs, Result: it.Result}
		if it.Err != nil {
			batchResult.Images[i].Error = it.Err.Error()
		}
	}

	bts, err := json.MarshalIndent(batchResult, "", "  ")
	return string(bts), err
}

// formatCSV writes one row per fused box. Label and composite are empty when
// the layout stage did not run.
func formatCSV(items []Item) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	_ = writer.Write([]string{
		"file", "merged_id", "group_id", "label", "type", "source", "x1", "y1", "x2", "y2", "composite",
	})

	for _, it := range items {
		res := it.Result
		if res == nil {
			continue
		}
		for _, f := range res.Fused {
			group, _ := res.Groups.Owner(f.MergedID)
			label, composite := "", ""
			if res.Layout != nil {
				if e, ok := res.Layout.Mapping[f.MergedID]; ok {
					label, composite = e.Label, strconv.Itoa(e.Composite)
				}
			}
			if err := writer.Write([]string{
				it.Path,
				strconv.Itoa(f.MergedID),
				group,
				label,
				f.Type.String(),
				f.Source.String(),
				strconv.Itoa(f.Box.X1),
				strconv.Itoa(f.Box.Y1),
				strconv.Itoa(f.Box.X2),
				strconv.Itoa(f.Box.Y2),
				composite,
			}); err != nil {
				return "", err
			}
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

// formatText formats results as plain text.
func formatText(items []Item) (string, error) {
	var output strings.Builder
	for i, it := range items {
		if i > 0 {
			output.WriteString("\n")
		}
		output.WriteString(fmt.Sprintf("# %s\n", it.Path))
		if it.Err != nil {
			output.WriteString(fmt.Sprintf("error: %v\n", it.Err))
		}
		if it.Result == nil {
			continue
		}
		text, err := pipeline.ToText(it.Result)
		if err != nil {
			return "", err
		}
		output.WriteString(text)
	}
	return output.String(), nil
}
