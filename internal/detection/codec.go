package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// DecodeError reports a payload that could not be parsed into detections.
type DecodeError struct {
	Origin string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Origin == "" {
		return "decode detections: " + e.Err.Error()
	}
	return fmt.Sprintf("decode detections from %s: %v", e.Origin, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Set is the combined payload carrying both detector outputs for one image.
type Set struct {
	Shapes []Detection `json:"shapes"`
	Texts  []Detection `json:"text"`
}

type wrapped struct {
	Detections []Detection `json:"detections"`
}

// Decode parses either a bare JSON array of detection records or an object
// with a "detections" array.
func Decode(data []byte) ([]Detection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Err: errors.New("empty payload")}
	}
	if trimmed[0] == '[' {
		var dets []Detection
		if err := json.Unmarshal(trimmed, &dets); err != nil {
			return nil, &DecodeError{Err: err}
		}
		return dets, nil
	}
	var w wrapped
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return w.Detections, nil
}

// DecodeSet parses a {"shapes": [...], "text": [...]} payload and stamps
// each list with its detector identity.
func DecodeSet(data []byte) (Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return Set{}, &DecodeError{Err: err}
	}
	s.Shapes = Normalize(s.Shapes, SourceShape, true)
	s.Texts = Normalize(s.Texts, SourceText, true)
	return s, nil
}

// ReadFile loads detections from a JSON file.
func ReadFile(path string) ([]Detection, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller-provided detection file
	if err != nil {
		return nil, &DecodeError{Origin: path, Err: err}
	}
	dets, err := Decode(data)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Origin = path
		}
		return nil, err
	}
	return dets, nil
}

// Encode writes detections as an indented JSON array.
func Encode(w io.Writer, dets []Detection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if dets == nil {
		dets = []Detection{}
	}
	return enc.Encode(dets)
}

// WriteFile stores detections as JSON at path.
func WriteFile(path string, dets []Detection) error {
	var buf bytes.Buffer
	if err := Encode(&buf, dets); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
