// Package extract provides the extractor/preprocessor composition seam
// between dataset-specific feature extraction and the generic input
// pipeline.
//
// A Pipeline owns an ordered set of FieldsExtractors plus an ordered list of
// Preprocessors. Each record is parsed once against the union feature map,
// every extractor pulls its fields and votes a bucket key, and the maximum
// key decides admission: a key at or above BucketUpperBound force-drops the
// example before any preprocessor runs.
package extract

import (
	"fmt"
	"sort"

	"github.com/banshee-data/detection.pipeline/internal/input"
	"github.com/banshee-data/detection.pipeline/internal/tensor"
)

// BucketUpperBound is the global admission ceiling. Extractors return it
// from Filter to force-drop an example; the input configuration derived from
// a Pipeline caps its largest bucket at BucketUpperBound-1 so such examples
// can never be admitted.
const BucketUpperBound = 9999

// FeatureSpec declares one raw feature expected in a record.
type FeatureSpec struct {
	DType tensor.DType
}

// FieldsExtractor selects and derives output fields from parsed record
// features. Implementations must be pure: Extract and Filter run
// concurrently across reader workers.
type FieldsExtractor interface {
	// Name namespaces the extractor's outputs ("<name>/<field>").
	Name() string

	// FeatureMap declares the raw features this extractor reads.
	FeatureMap() map[string]FeatureSpec

	// Extract derives the extractor's output fields from parsed features.
	Extract(features tensor.NestedMap) (tensor.NestedMap, error)

	// Shape declares the fully-defined per-example output shapes, used to
	// normalize batched outputs to fixed shapes.
	Shape() map[string][]int

	// DType declares the per-field output dtypes, aligned with Shape.
	DType() map[string]tensor.DType

	// Filter returns the example's bucket key vote: <= 0 or
	// >= BucketUpperBound drops the example.
	Filter(extracted tensor.NestedMap) int
}

// Preprocessor transforms the joint extracted output. Preprocessors run in
// the configured order and only on examples that passed filtering.
type Preprocessor interface {
	Name() string
	TransformFeatures(m tensor.NestedMap) (tensor.NestedMap, error)
	TransformShapes(shapes map[string][]int) map[string][]int
	TransformDTypes(dtypes map[string]tensor.DType) map[string]tensor.DType
}

// Pipeline composes extractors and preprocessors into an input.Processor.
type Pipeline struct {
	extractors    []FieldsExtractor
	preprocessors []Preprocessor
	parser        RecordParser
	featureMap    map[string]FeatureSpec
}

// NewPipeline validates the composition: extractor names must be unique,
// their declared shapes and dtypes must cover the same field sets, and the
// union feature map must not declare one feature with two dtypes.
func NewPipeline(extractors []FieldsExtractor, preprocessors []Preprocessor, parser RecordParser) (*Pipeline, error) {
	if len(extractors) == 0 {
		return nil, fmt.Errorf("extract: at least one extractor is required")
	}
	if parser == nil {
		return nil, fmt.Errorf("extract: record parser is required")
	}

	// Deterministic extractor order regardless of caller order.
	sorted := append([]FieldsExtractor(nil), extractors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	seen := map[string]bool{}
	featureMap := map[string]FeatureSpec{}
	for _, e := range sorted {
		if seen[e.Name()] {
			return nil, fmt.Errorf("extract: duplicate extractor name %q", e.Name())
		}
		seen[e.Name()] = true

		shapes, dtypes := e.Shape(), e.DType()
		if len(shapes) != len(dtypes) {
			return nil, fmt.Errorf("extract: %s declares %d shapes but %d dtypes", e.Name(), len(shapes), len(dtypes))
		}
		for k := range shapes {
			if _, ok := dtypes[k]; !ok {
				return nil, fmt.Errorf("extract: %s declares shape for %q but no dtype", e.Name(), k)
			}
		}
		for k, spec := range e.FeatureMap() {
			if prev, ok := featureMap[k]; ok && prev.DType != spec.DType {
				return nil, fmt.Errorf("extract: feature %q declared as both %s and %s", k, prev.DType, spec.DType)
			}
			featureMap[k] = spec
		}
	}

	return &Pipeline{
		extractors:    sorted,
		preprocessors: preprocessors,
		parser:        parser,
		featureMap:    featureMap,
	}, nil
}

// Shape returns the pipeline's declared per-example output shapes after all
// preprocessor transforms.
func (p *Pipeline) Shape() map[string][]int {
	shapes := map[string][]int{}
	for _, e := range p.extractors {
		for k, s := range e.Shape() {
			shapes[qualify(e.Name(), k)] = s
		}
	}
	for _, pp := range p.preprocessors {
		shapes = pp.TransformShapes(shapes)
	}
	return shapes
}

// DType returns the pipeline's declared output dtypes after all
// preprocessor transforms.
func (p *Pipeline) DType() map[string]tensor.DType {
	dtypes := map[string]tensor.DType{}
	for _, e := range p.extractors {
		for k, d := range e.DType() {
			dtypes[qualify(e.Name(), k)] = d
		}
	}
	for _, pp := range p.preprocessors {
		dtypes = pp.TransformDTypes(dtypes)
	}
	return dtypes
}

func qualify(name, field string) string {
	return name + "/" + field
}

// ExtractUsingExtractors parses one raw record and runs the extractor and
// preprocessor stages. It returns the example's bucket key and outputs; for
// a force-dropped example (key >= BucketUpperBound) the outputs are nil and
// no preprocessor runs.
func (p *Pipeline) ExtractUsingExtractors(record []byte) (int, tensor.NestedMap, error) {
	features, err := p.parser(record, p.featureMap)
	if err != nil {
		return 0, nil, err
	}

	out := tensor.NestedMap{}
	maxBucket := 0
	for _, e := range p.extractors {
		extracted, err := e.Extract(features)
		if err != nil {
			return 0, nil, fmt.Errorf("extract: %s: %w", e.Name(), err)
		}
		bucket := e.Filter(extracted)
		if bucket > maxBucket {
			maxBucket = bucket
		}
		for k, t := range extracted {
			out[qualify(e.Name(), k)] = t
		}
	}

	// Any extractor can veto the whole example; preprocessors may then
	// assume they only see examples that passed filtering.
	if maxBucket >= BucketUpperBound {
		return maxBucket, nil, nil
	}

	for _, pp := range p.preprocessors {
		out, err = pp.TransformFeatures(out)
		if err != nil {
			return 0, nil, fmt.Errorf("extract: preprocessor %s: %w", pp.Name(), err)
		}
	}
	return maxBucket, out, nil
}

// Processor adapts the pipeline to the input.Processor contract.
func (p *Pipeline) Processor() input.Processor {
	return func(sourceID int, record []byte) (tensor.NestedMap, int, error) {
		bucket, out, err := p.ExtractUsingExtractors(record)
		if err != nil {
			return nil, 0, err
		}
		return out, bucket, nil
	}
}

// InputConfig derives the batcher configuration from a base config,
// installing the admission ceiling: the largest bucket bound is capped at
// BucketUpperBound-1 so force-dropped examples never land in a bucket.
func (p *Pipeline) InputConfig(base input.Config) input.Config {
	cfg := base
	if len(cfg.BucketUpperBound) == 0 {
		cfg.BucketUpperBound = []int{BucketUpperBound - 1}
		if len(cfg.BucketBatchLimit) == 0 {
			cfg.BucketBatchLimit = []int{8}
		}
	}
	return cfg
}

// NestedMapFromBatch normalizes a flushed batch to the pipeline's declared
// fixed shapes: each field is padded with zeros or trimmed to
// [batchSize] + Shape()[field]. Fields whose declared shape carries a -1
// dimension stay at their batched (dynamically padded) shape. Unknown
// fields are a fatal mismatch.
func (p *Pipeline) NestedMapFromBatch(batch *input.Batch, batchSize int) (tensor.NestedMap, error) {
	shapes := p.Shape()
	out := make(tensor.NestedMap, len(batch.Fields))
	for k, t := range batch.Fields {
		declared, ok := shapes[k]
		if !ok {
			return nil, fmt.Errorf("extract: batched field %q has no declared shape", k)
		}
		if hasDynamicDim(declared) {
			out[k] = t
			continue
		}
		fixed, err := t.PadOrTrimTo(append([]int{batchSize}, declared...))
		if err != nil {
			return nil, fmt.Errorf("extract: field %q: %w", k, err)
		}
		out[k] = fixed
	}
	return out, nil
}

func hasDynamicDim(shape []int) bool {
	for _, d := range shape {
		if d < 0 {
			return true
		}
	}
	return false
}
