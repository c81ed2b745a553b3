package extract

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/detection.pipeline/internal/tensor"
)

// RecordParser turns one raw record payload into named feature tensors. Only
// features named in the map are materialized; declared features missing from
// the record are an error.
type RecordParser func(record []byte, features map[string]FeatureSpec) (tensor.NestedMap, error)

// ParseJSONRecord parses a record whose payload is a JSON object mapping
// feature names to scalars or uniformly nested arrays. Numeric features
// must match the declared dtype's shape discipline: every row of a nested
// array must have the same length.
func ParseJSONRecord(record []byte, features map[string]FeatureSpec) (tensor.NestedMap, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(record, &raw); err != nil {
		return nil, fmt.Errorf("extract: parse json record: %w", err)
	}

	out := make(tensor.NestedMap, len(features))
	for name, spec := range features {
		payload, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("extract: record missing feature %q", name)
		}
		t, err := parseJSONTensor(payload, spec.DType)
		if err != nil {
			return nil, fmt.Errorf("extract: feature %q: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// ParseTextRecord exposes the raw payload as a single scalar bytes feature
// named "line". It serves line- or blob-oriented sources whose decoding
// happens entirely inside an extractor.
func ParseTextRecord(record []byte, features map[string]FeatureSpec) (tensor.NestedMap, error) {
	for name, spec := range features {
		if name != "line" || spec.DType != tensor.Bytes {
			return nil, fmt.Errorf("extract: text records only provide the bytes feature %q", "line")
		}
	}
	return tensor.NestedMap{"line": tensor.ScalarBytes(record)}, nil
}

func parseJSONTensor(payload json.RawMessage, dtype tensor.DType) (*tensor.Tensor, error) {
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}

	if dtype == tensor.Bytes {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for bytes feature, got %T", v)
		}
		return tensor.ScalarBytes([]byte(s)), nil
	}

	shape, err := inferShape(v)
	if err != nil {
		return nil, err
	}
	flat := make([]float64, 0, numElements(shape))
	if err := flattenNumbers(v, &flat); err != nil {
		return nil, err
	}

	switch dtype {
	case tensor.Float64:
		return tensor.NewFloat64(shape, flat)
	case tensor.Int64:
		ints := make([]int64, len(flat))
		for i, f := range flat {
			ints[i] = int64(f)
		}
		return tensor.NewInt64(shape, ints)
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
}

// inferShape walks the nested array structure and checks it is rectangular.
func inferShape(v interface{}) ([]int, error) {
	arr, ok := v.([]interface{})
	if !ok {
		if _, ok := v.(float64); !ok {
			return nil, fmt.Errorf("expected number or array, got %T", v)
		}
		return nil, nil
	}
	if len(arr) == 0 {
		return []int{0}, nil
	}
	inner, err := inferShape(arr[0])
	if err != nil {
		return nil, err
	}
	for _, elem := range arr[1:] {
		s, err := inferShape(elem)
		if err != nil {
			return nil, err
		}
		if !equalShape(s, inner) {
			return nil, fmt.Errorf("ragged array: rows %v vs %v", inner, s)
		}
	}
	return append([]int{len(arr)}, inner...), nil
}

func flattenNumbers(v interface{}, out *[]float64) error {
	switch x := v.(type) {
	case float64:
		*out = append(*out, x)
		return nil
	case []interface{}:
		for _, elem := range x {
			if err := flattenNumbers(elem, out); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("expected number or array, got %T", v)
	}
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
