package ringfilter

import (
	"fmt"
	"sync/atomic"
)

// Default filter parameters, applied at startup until the first config
// update arrives.
const (
	DefaultRingDivisor   = 3
	DefaultVoxelLeafSize = 2.0
)

// FilterConfig is the complete set of runtime-tunable filter parameters.
// Values are replaced wholesale; there is no partial update.
type FilterConfig struct {
	RingDivisor   int     `json:"ring_div"`
	VoxelLeafSize float64 `json:"voxel_leaf_size"`
}

// DefaultFilterConfig returns the startup configuration.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		RingDivisor:   DefaultRingDivisor,
		VoxelLeafSize: DefaultVoxelLeafSize,
	}
}

// Sanitize returns cfg with RingDivisor clamped to at least 1, and whether
// a clamp was needed. VoxelLeafSize is left alone: any value below the
// voxel threshold simply disables downsampling.
func (c FilterConfig) Sanitize() (FilterConfig, bool) {
	if c.RingDivisor < 1 {
		c.RingDivisor = 1
		return c, true
	}
	return c, false
}

func (c FilterConfig) String() string {
	return fmt.Sprintf("ring_div=%d voxel_leaf_size=%.3f", c.RingDivisor, c.VoxelLeafSize)
}

// ConfigUpdate is the message carried on the config/ring_filter topic.
// Source names the path it came from (http, grpc, serial, file) for logs
// and the config history.
type ConfigUpdate struct {
	Config FilterConfig
	Source string
}

// ConfigState holds the current FilterConfig as an immutable snapshot
// behind an atomic pointer. Readers always see a whole config; Replace
// swaps in a new snapshot.
type ConfigState struct {
	current atomic.Pointer[FilterConfig]
	version atomic.Uint64
}

// NewConfigState returns a state initialised to cfg (sanitized).
func NewConfigState(cfg FilterConfig) *ConfigState {
	s := &ConfigState{}
	cfg, _ = cfg.Sanitize()
	s.current.Store(&cfg)
	return s
}

// Load returns the current configuration snapshot.
func (s *ConfigState) Load() FilterConfig {
	return *s.current.Load()
}

// Replace installs cfg as the current configuration and returns the value
// actually installed. clamped reports that RingDivisor was raised to 1.
func (s *ConfigState) Replace(cfg FilterConfig) (installed FilterConfig, clamped bool) {
	_, installed, clamped = s.Swap(cfg)
	return installed, clamped
}

// Swap is Replace that also returns the configuration it displaced, read
// in the same atomic step as the store.
func (s *ConfigState) Swap(cfg FilterConfig) (prev, installed FilterConfig, clamped bool) {
	installed, clamped = cfg.Sanitize()
	old := s.current.Swap(&installed)
	s.version.Add(1)
	return *old, installed, clamped
}

// Version counts the replacements applied since startup.
func (s *ConfigState) Version() uint64 {
	return s.version.Load()
}
