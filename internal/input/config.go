package input

import "fmt"

// Config holds the sampler/batcher configuration. Fields mirror the external
// configuration contract: all values are fixed at pipeline construction.
type Config struct {
	// FilePattern is the comma-separated "<format>:<glob>" source list.
	FilePattern string

	// InputSourceWeights are positional sampling weights for the sources in
	// FilePattern. Nil means uniform.
	InputSourceWeights []float64

	// FileRandomSeed seeds file shuffling and source selection. Zero picks a
	// time-derived seed; source-selection frequency still converges to the
	// configured weights either way.
	FileRandomSeed int64

	// FileBufferSize is the per-source shuffle buffer capacity, in records.
	FileBufferSize int

	// FileParallelism is the number of parallel reader/processor workers.
	FileParallelism int

	// BucketUpperBound lists the inclusive bucket admission ceilings in
	// strictly increasing order. A record with bucket key k goes to the
	// smallest bucket whose bound is >= k; a key above every bound drops
	// the record.
	BucketUpperBound []int

	// BucketBatchLimit is the per-bucket batch size, aligned with
	// BucketUpperBound.
	BucketBatchLimit []int

	// DynamicPaddingDimensions declares, per flattened output field (sorted
	// key order), which dimension is padded to the batch maximum. -1 disables
	// padding for that field. Empty means no dynamic padding anywhere.
	DynamicPaddingDimensions []int

	// DynamicPaddingConstants supplies the fill value per field, aligned with
	// DynamicPaddingDimensions.
	DynamicPaddingConstants []float64

	// Repeat controls end-of-source behavior: true cycles each source's file
	// list indefinitely (streaming), false signals end-of-data once every
	// source is exhausted.
	Repeat bool
}

// DefaultConfig returns the production defaults for everything except the
// file pattern and bucket layout, which have no sensible defaults.
func DefaultConfig() Config {
	return Config{
		FileRandomSeed:  0,
		FileBufferSize:  64,
		FileParallelism: 4,
		Repeat:          true,
	}
}

// Validate checks the construction-time invariants. Any violation is fatal:
// the pipeline refuses to start rather than run misconfigured.
func (c *Config) Validate() error {
	if c.FilePattern == "" {
		return fmt.Errorf("input: FilePattern is required")
	}
	if c.FileBufferSize <= 0 {
		return fmt.Errorf("input: FileBufferSize must be positive, got %d", c.FileBufferSize)
	}
	if c.FileParallelism <= 0 {
		return fmt.Errorf("input: FileParallelism must be positive, got %d", c.FileParallelism)
	}
	if len(c.BucketUpperBound) == 0 {
		return fmt.Errorf("input: at least one bucket is required")
	}
	if len(c.BucketUpperBound) != len(c.BucketBatchLimit) {
		return fmt.Errorf("input: %d bucket upper bounds but %d batch limits",
			len(c.BucketUpperBound), len(c.BucketBatchLimit))
	}
	for i, ub := range c.BucketUpperBound {
		if ub <= 0 {
			return fmt.Errorf("input: bucket %d upper bound must be positive, got %d", i, ub)
		}
		if i > 0 && ub <= c.BucketUpperBound[i-1] {
			return fmt.Errorf("input: bucket upper bounds must be strictly increasing, got %v", c.BucketUpperBound)
		}
	}
	for i, limit := range c.BucketBatchLimit {
		if limit <= 0 {
			return fmt.Errorf("input: bucket %d batch limit must be positive, got %d", i, limit)
		}
	}
	if len(c.DynamicPaddingDimensions) != len(c.DynamicPaddingConstants) {
		return fmt.Errorf("input: %d dynamic padding dimensions but %d constants",
			len(c.DynamicPaddingDimensions), len(c.DynamicPaddingConstants))
	}
	return nil
}
