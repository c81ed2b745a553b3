package detect

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/detection.pipeline/internal/recordio"
)

// DecodedExample is the persisted form of one decoded example. Boxes and
// scores are flattened per class; Valid counts the real (non-padding) boxes
// per class so readers can skip the padded tail without the mask.
type DecodedExample struct {
	RunID        string         `json:"run_id"`
	ExampleIndex int            `json:"example_index"`
	Classes      []ClassResult  `json:"classes"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ClassResult is one class's surviving boxes for an example.
type ClassResult struct {
	ClassID int          `json:"class_id"`
	BBoxes  [][7]float64 `json:"bboxes"`
	Scores  []float64    `json:"scores"`
	Valid   int          `json:"valid"`
}

// Sink writes decoded examples sequentially to a recordio file, one
// serialized record per example. File overwrite semantics are the caller's
// responsibility; Create truncates.
type Sink struct {
	path string
	w    *recordio.Writer
	n    int
}

// NewSink creates (or truncates) the decode output file at path.
func NewSink(path string) (*Sink, error) {
	w, err := recordio.Create(path)
	if err != nil {
		return nil, fmt.Errorf("detect: decode sink: %w", err)
	}
	return &Sink{path: path, w: w}, nil
}

// Write appends one decoded example.
func (s *Sink) Write(ex *DecodedExample) error {
	rec, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("detect: marshal decoded example: %w", err)
	}
	if err := s.w.Write(rec); err != nil {
		return err
	}
	s.n++
	return nil
}

// Count returns the number of examples written so far.
func (s *Sink) Count() int { return s.n }

// Close flushes and closes the output file.
func (s *Sink) Close() error { return s.w.Close() }

// ExamplesFromOutputs converts one decode batch into persistable examples.
// Only valid boxes are kept; the padded tail is dropped on the way out.
func ExamplesFromOutputs(runID string, startIndex int, out *DecodeOutputs) []*DecodedExample {
	examples := make([]*DecodedExample, len(out.PerClassBBoxes))
	for bi := range out.PerClassBBoxes {
		ex := &DecodedExample{RunID: runID, ExampleIndex: startIndex + bi}
		for ci := range out.PerClassBBoxes[bi] {
			cr := ClassResult{ClassID: ci}
			for i, m := range out.PerClassValidMask[bi][ci] {
				if m == 0 {
					continue
				}
				cr.BBoxes = append(cr.BBoxes, out.PerClassBBoxes[bi][ci][i])
				cr.Scores = append(cr.Scores, out.PerClassScores[bi][ci][i])
				cr.Valid++
			}
			ex.Classes = append(ex.Classes, cr)
		}
		examples[bi] = ex
	}
	return examples
}
