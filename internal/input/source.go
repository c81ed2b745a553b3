// Package input implements the randomized record sampler and the bucketing,
// dynamically padded batcher that feed training and decoding.
//
// The pipeline samples raw records from one or more weighted file sources,
// hands each record to a user-supplied processor that returns structured
// output fields plus an integer bucket key, accumulates processed records
// into per-bucket batches, and emits fixed-shape batches with
// variable-length fields padded to the batch's observed maximum extent.
package input

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FormatRecordIO is the only record format currently understood by the
// sampler: length-prefixed CRC-framed records (see internal/recordio).
const FormatRecordIO = "recordio"

// Source is one weighted input: a format tag plus a file glob. Weights are
// relative; the sampler normalizes them across active sources.
type Source struct {
	Format  string
	Pattern string
	Weight  float64
}

// ParseFilePattern parses the external file pattern syntax
// "<format>:<glob>[,<format>:<glob>...]" together with an optional weight
// vector aligned by list position. An empty pattern, an unknown format, or a
// weight vector whose length disagrees with the source count are fatal
// configuration errors.
func ParseFilePattern(pattern string, weights []float64) ([]Source, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("input: empty file pattern")
	}
	parts := strings.Split(pattern, ",")
	if weights != nil && len(weights) != len(parts) {
		return nil, fmt.Errorf("input: %d source weights for %d sources", len(weights), len(parts))
	}

	sources := make([]Source, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		format, glob, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("input: source %q missing format tag (want \"<format>:<glob>\")", part)
		}
		if format != FormatRecordIO {
			return nil, fmt.Errorf("input: unsupported source format %q", format)
		}
		if glob == "" {
			return nil, fmt.Errorf("input: source %d has empty file glob", i)
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
			if w <= 0 {
				return nil, fmt.Errorf("input: source %d has non-positive weight %v", i, w)
			}
		}
		sources = append(sources, Source{Format: format, Pattern: glob, Weight: w})
	}
	return sources, nil
}

// expand resolves the source's glob to a concrete file list. Matching zero
// files is fatal: a permanently empty source would starve consumers with no
// diagnostic.
func (s Source) expand() ([]string, error) {
	files, err := filepath.Glob(s.Pattern)
	if err != nil {
		return nil, fmt.Errorf("input: bad glob %q: %w", s.Pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("input: glob %q matched no files", s.Pattern)
	}
	return files, nil
}
