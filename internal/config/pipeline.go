package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PipelineConfig is the root JSON configuration for the input pipeline and
// the detection decoder. Every field is optional; the Get* methods supply
// defaults so partial config files are safe.
type PipelineConfig struct {
	// Input pipeline params
	FilePattern        *string   `json:"file_pattern,omitempty"`
	InputSourceWeights []float64 `json:"input_source_weights,omitempty"`
	FileRandomSeed     *int64    `json:"file_random_seed,omitempty"`
	FileBufferSize     *int      `json:"file_buffer_size,omitempty"`
	FileParallelism    *int      `json:"file_parallelism,omitempty"`

	// Batching params
	BucketUpperBound         []int     `json:"bucket_upper_bound,omitempty"`
	BucketBatchLimit         []int     `json:"bucket_batch_limit,omitempty"`
	DynamicPaddingDimensions []int     `json:"dynamic_padding_dimensions,omitempty"`
	DynamicPaddingConstants  []float64 `json:"dynamic_padding_constants,omitempty"`

	// Decoder params
	NumClasses             *int      `json:"num_classes,omitempty"`
	NMSIoUThreshold        []float64 `json:"nms_iou_threshold,omitempty"`
	NMSScoreThreshold      []float64 `json:"nms_score_threshold,omitempty"`
	MaxBoxesPerClass       *int      `json:"max_boxes_per_class,omitempty"`
	UseOrientedPerClassNMS *bool     `json:"use_oriented_per_class_nms,omitempty"`
	VisualizationThreshold *float64  `json:"visualization_threshold,omitempty"`

	// Persistence params
	DatabasePath *string `json:"database_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The file must
// have a .json extension and stay under the size cap; fields omitted from
// the JSON fall back to defaults via the Get* methods.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are coherent. Detailed
// cross-field checks (bucket bounds vs limits, threshold lengths vs class
// count) happen again inside the components that consume them.
func (c *PipelineConfig) Validate() error {
	if c.FileBufferSize != nil && *c.FileBufferSize <= 0 {
		return fmt.Errorf("file_buffer_size must be positive, got %d", *c.FileBufferSize)
	}
	if c.FileParallelism != nil && *c.FileParallelism <= 0 {
		return fmt.Errorf("file_parallelism must be positive, got %d", *c.FileParallelism)
	}
	if len(c.BucketUpperBound) != len(c.BucketBatchLimit) {
		return fmt.Errorf("bucket_upper_bound has %d entries but bucket_batch_limit has %d",
			len(c.BucketUpperBound), len(c.BucketBatchLimit))
	}
	for i, b := range c.BucketUpperBound {
		if b <= 0 {
			return fmt.Errorf("bucket_upper_bound[%d] must be positive, got %d", i, b)
		}
		if i > 0 && b <= c.BucketUpperBound[i-1] {
			return fmt.Errorf("bucket_upper_bound must be strictly increasing at index %d", i)
		}
	}
	if c.NumClasses != nil && *c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be positive, got %d", *c.NumClasses)
	}
	if c.MaxBoxesPerClass != nil && *c.MaxBoxesPerClass <= 0 {
		return fmt.Errorf("max_boxes_per_class must be positive, got %d", *c.MaxBoxesPerClass)
	}
	if c.VisualizationThreshold != nil {
		if v := *c.VisualizationThreshold; v < 0 || v > 1 {
			return fmt.Errorf("visualization_threshold must be between 0 and 1, got %f", v)
		}
	}
	for i, t := range c.NMSIoUThreshold {
		if t < 0 || t > 1 {
			return fmt.Errorf("nms_iou_threshold[%d] must be between 0 and 1, got %f", i, t)
		}
	}
	for i, t := range c.NMSScoreThreshold {
		if t < 0 || t > 1 {
			return fmt.Errorf("nms_score_threshold[%d] must be between 0 and 1, got %f", i, t)
		}
	}
	return nil
}

// GetFilePattern returns the file_pattern value or the default.
func (c *PipelineConfig) GetFilePattern() string {
	if c.FilePattern == nil {
		return ""
	}
	return *c.FilePattern
}

// GetFileRandomSeed returns the file_random_seed value or the default.
// Zero means a time-derived seed is chosen at startup.
func (c *PipelineConfig) GetFileRandomSeed() int64 {
	if c.FileRandomSeed == nil {
		return 0
	}
	return *c.FileRandomSeed
}

// GetFileBufferSize returns the file_buffer_size value or the default.
func (c *PipelineConfig) GetFileBufferSize() int {
	if c.FileBufferSize == nil {
		return 64
	}
	return *c.FileBufferSize
}

// GetFileParallelism returns the file_parallelism value or the default.
func (c *PipelineConfig) GetFileParallelism() int {
	if c.FileParallelism == nil {
		return 4
	}
	return *c.FileParallelism
}

// GetNumClasses returns the num_classes value or the default.
func (c *PipelineConfig) GetNumClasses() int {
	if c.NumClasses == nil {
		return 1
	}
	return *c.NumClasses
}

// GetNMSIoUThreshold returns the nms_iou_threshold list or the default.
func (c *PipelineConfig) GetNMSIoUThreshold() []float64 {
	if len(c.NMSIoUThreshold) == 0 {
		return []float64{0.5}
	}
	return c.NMSIoUThreshold
}

// GetNMSScoreThreshold returns the nms_score_threshold list or the default.
func (c *PipelineConfig) GetNMSScoreThreshold() []float64 {
	if len(c.NMSScoreThreshold) == 0 {
		return []float64{0.01}
	}
	return c.NMSScoreThreshold
}

// GetMaxBoxesPerClass returns the max_boxes_per_class value or the default.
func (c *PipelineConfig) GetMaxBoxesPerClass() int {
	if c.MaxBoxesPerClass == nil {
		return 128
	}
	return *c.MaxBoxesPerClass
}

// GetUseOrientedPerClassNMS returns the use_oriented_per_class_nms value or
// the default.
func (c *PipelineConfig) GetUseOrientedPerClassNMS() bool {
	if c.UseOrientedPerClassNMS == nil {
		return false
	}
	return *c.UseOrientedPerClassNMS
}

// GetVisualizationThreshold returns the visualization_threshold value or
// the default.
func (c *PipelineConfig) GetVisualizationThreshold() float64 {
	if c.VisualizationThreshold == nil {
		return 0.3
	}
	return *c.VisualizationThreshold
}

// GetDatabasePath returns the database_path value or the default.
func (c *PipelineConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "detection.db"
	}
	return *c.DatabasePath
}
