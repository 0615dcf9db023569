package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/ringfilter/internal/lidar/parse"
	"github.com/banshee-data/ringfilter/internal/lidar/pipeline"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// maxFileSize caps tuning files.
const maxFileSize = 1 * 1024 * 1024

// TuningConfig is the JSON tuning file. ring_div and voxel_leaf_size use
// the same names as PUT /api/ring_filter/config so one document serves
// both. Omitted fields fall back to the Get* defaults.
type TuningConfig struct {
	// Filter params
	RingDivisor   *int     `json:"ring_div,omitempty"`
	VoxelLeafSize *float64 `json:"voxel_leaf_size,omitempty"`
	RingCountMode *string  `json:"ring_count_mode,omitempty"` // "process" or "scan"

	// Runtime params
	StatsInterval      *string            `json:"stats_interval,omitempty"` // duration string like "10s"
	SubscriberBuffer   *SubscriberBuffers `json:"subscriber_buffer,omitempty"`
	ForwardChunkPoints *int               `json:"forward_chunk_points,omitempty"`
}

// SubscriberBuffers sets per-topic queue depths.
type SubscriberBuffers struct {
	Input   *int `json:"input,omitempty"`
	Output  *int `json:"output,omitempty"`
	Metrics *int `json:"metrics,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads and validates a TuningConfig from a .json file of
// at most 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a tuning document. Unknown keys
// are rejected so typos surface at load time.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.RingDivisor != nil && *c.RingDivisor < 1 {
		return fmt.Errorf("ring_div must be at least 1, got %d", *c.RingDivisor)
	}
	if c.VoxelLeafSize != nil && (math.IsNaN(*c.VoxelLeafSize) || math.IsInf(*c.VoxelLeafSize, 0)) {
		return fmt.Errorf("voxel_leaf_size must be finite, got %v", *c.VoxelLeafSize)
	}
	if c.RingCountMode != nil {
		if _, err := ringfilter.ParseRingCountMode(*c.RingCountMode); err != nil {
			return fmt.Errorf("ring_count_mode: %w", err)
		}
	}
	if c.StatsInterval != nil && *c.StatsInterval != "" {
		d, err := time.ParseDuration(*c.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("stats_interval must be positive, got %s", d)
		}
	}
	if b := c.SubscriberBuffer; b != nil {
		for name, v := range map[string]*int{"input": b.Input, "output": b.Output, "metrics": b.Metrics} {
			if v != nil && *v < 1 {
				return fmt.Errorf("subscriber_buffer.%s must be at least 1, got %d", name, *v)
			}
		}
	}
	if c.ForwardChunkPoints != nil && (*c.ForwardChunkPoints < 1 || *c.ForwardChunkPoints > math.MaxUint16) {
		return fmt.Errorf("forward_chunk_points must be between 1 and %d, got %d", math.MaxUint16, *c.ForwardChunkPoints)
	}
	return nil
}

// GetRingDivisor returns ring_div or the default.
func (c *TuningConfig) GetRingDivisor() int {
	if c.RingDivisor == nil {
		return ringfilter.DefaultRingDivisor
	}
	return *c.RingDivisor
}

// GetVoxelLeafSize returns voxel_leaf_size or the default.
func (c *TuningConfig) GetVoxelLeafSize() float64 {
	if c.VoxelLeafSize == nil {
		return ringfilter.DefaultVoxelLeafSize
	}
	return *c.VoxelLeafSize
}

// GetRingCountMode returns the parsed ring_count_mode, "process" by default.
func (c *TuningConfig) GetRingCountMode() ringfilter.RingCountMode {
	if c.RingCountMode == nil {
		return ringfilter.RingCountProcess
	}
	mode, err := ringfilter.ParseRingCountMode(*c.RingCountMode)
	if err != nil {
		return ringfilter.RingCountProcess
	}
	return mode
}

// GetStatsInterval returns stats_interval as a duration.
func (c *TuningConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetDepths returns the topic queue depths.
func (c *TuningConfig) GetDepths() pipeline.Depths {
	d := pipeline.DefaultDepths()
	if b := c.SubscriberBuffer; b != nil {
		if b.Input != nil {
			d.Input = *b.Input
		}
		if b.Output != nil {
			d.Output = *b.Output
		}
		if b.Metrics != nil {
			d.Metrics = *b.Metrics
		}
	}
	return d
}

// GetForwardChunkPoints returns forward_chunk_points or the default.
func (c *TuningConfig) GetForwardChunkPoints() int {
	if c.ForwardChunkPoints == nil {
		return parse.DefaultChunkPoints
	}
	return *c.ForwardChunkPoints
}

// FilterConfig returns the filter parameters described by the file.
func (c *TuningConfig) FilterConfig() ringfilter.FilterConfig {
	return ringfilter.FilterConfig{
		RingDivisor:   c.GetRingDivisor(),
		VoxelLeafSize: c.GetVoxelLeafSize(),
	}
}
