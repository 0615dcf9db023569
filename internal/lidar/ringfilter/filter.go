package ringfilter

import (
	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/l4perception"
)

// FilteredCloud is the message published on filtered_points. Header is
// the header of the scan it was derived from.
type FilteredCloud struct {
	Header l2frames.Header
	Points l4perception.Cloud
}

// Result is everything Filter.Process produces for one scan.
type Result struct {
	Output    FilteredCloud
	Metrics   ScanMetrics
	Config    FilterConfig // snapshot the scan was processed with
	Voxelized bool         // false when the leaf size was below threshold
}

// Filter runs ring decimation and voxel downsampling against the shared
// ConfigState. Process is called from a single goroutine in scan order;
// ConfigState and RingTracker may be touched concurrently.
type Filter struct {
	state   *ConfigState
	tracker *RingTracker
	mode    RingCountMode
}

// NewFilter returns a filter reading state. A nil state uses the defaults.
func NewFilter(state *ConfigState, mode RingCountMode) *Filter {
	if state == nil {
		state = NewConfigState(DefaultFilterConfig())
	}
	return &Filter{state: state, tracker: &RingTracker{}, mode: mode}
}

// State returns the configuration state the filter reads.
func (f *Filter) State() *ConfigState { return f.state }

// Tracker returns the process-wide ring tracker.
func (f *Filter) Tracker() *RingTracker { return f.tracker }

// Mode returns how OriginalRingCount is derived.
func (f *Filter) Mode() RingCountMode { return f.mode }

// Process filters one scan. The config is read once, so the whole scan is
// processed with a single consistent snapshot even if an update lands
// mid-scan.
func (f *Filter) Process(scan l2frames.Scan) Result {
	cfg := f.state.Load()

	decimated, scanMax := l4perception.DecimateRings(scan.Points, cfg.RingDivisor)

	ringCount := 0
	switch f.mode {
	case RingCountScan:
		if scanMax > 0 {
			ringCount = scanMax
		}
	default:
		if scanMax >= 0 {
			f.tracker.Observe(scanMax)
		}
		ringCount = f.tracker.Max()
	}

	filtered := decimated
	voxelized := cfg.VoxelLeafSize >= l4perception.MinVoxelLeafSize
	if voxelized {
		filtered = l4perception.VoxelGrid(decimated, cfg.VoxelLeafSize)
	}

	return Result{
		Output: FilteredCloud{Header: scan.Header, Points: filtered},
		Metrics: NewScanMetrics(scan.Header,
			scan.Len(), len(decimated), len(filtered),
			ringCount, cfg.RingDivisor),
		Config:    cfg,
		Voxelized: voxelized,
	}
}
