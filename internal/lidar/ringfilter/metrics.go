package ringfilter

import "github.com/banshee-data/ringfilter/internal/lidar/l2frames"

// FilterName identifies this filter in every metrics message.
const FilterName = "ring_filter"

// ScanMetrics is published on points_filter_info once per processed scan.
type ScanMetrics struct {
	Header              l2frames.Header `json:"header"`
	FilterName          string          `json:"filter_name"`
	OriginalPointCount  int             `json:"original_points_size"`
	DecimatedPointCount int             `json:"decimated_points_size"`
	FilteredPointCount  int             `json:"filtered_points_size"`
	OriginalRingCount   int             `json:"original_ring_size"`
	FilteredRingCount   int             `json:"filtered_ring_size"`
}

// NewScanMetrics builds the metrics for one scan. ringCount is the value
// reported as OriginalRingCount (see RingCountMode); FilteredRingCount is
// its integer quotient by divisor, which truncates to 0 when divisor
// exceeds ringCount.
func NewScanMetrics(h l2frames.Header, original, decimated, filtered, ringCount, divisor int) ScanMetrics {
	if divisor < 1 {
		divisor = 1
	}
	return ScanMetrics{
		Header:              h,
		FilterName:          FilterName,
		OriginalPointCount:  original,
		DecimatedPointCount: decimated,
		FilteredPointCount:  filtered,
		OriginalRingCount:   ringCount,
		FilteredRingCount:   ringCount / divisor,
	}
}

// ReductionRatio returns FilteredPointCount / OriginalPointCount, or 0 for
// an empty scan.
func (m ScanMetrics) ReductionRatio() float64 {
	if m.OriginalPointCount == 0 {
		return 0
	}
	return float64(m.FilteredPointCount) / float64(m.OriginalPointCount)
}
