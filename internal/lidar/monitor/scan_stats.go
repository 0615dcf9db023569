package monitor

import (
	"context"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
)

// DefaultHistorySize is the number of metrics messages ScanStats retains.
const DefaultHistorySize = 600

// ScanStats keeps a rolling window of per-scan filter metrics.
type ScanStats struct {
	mu    sync.RWMutex
	ring  []ringfilter.ScanMetrics
	next  int
	full  bool
	total uint64
}

// Summary aggregates the retained window.
type Summary struct {
	Scans               int     `json:"scans"`
	TotalScans          uint64  `json:"total_scans"`
	MeanOriginal        float64 `json:"mean_original_points"`
	MeanFiltered        float64 `json:"mean_filtered_points"`
	MinFiltered         float64 `json:"min_filtered_points"`
	MaxFiltered         float64 `json:"max_filtered_points"`
	MeanReduction       float64 `json:"mean_reduction_ratio"`
	StdDevReduction     float64 `json:"stddev_reduction_ratio"`
	LatestRingCount     int     `json:"latest_ring_count"`
	LatestFilteredRings int     `json:"latest_filtered_ring_count"`
}

// NewScanStats retains up to size messages (DefaultHistorySize if <= 0).
func NewScanStats(size int) *ScanStats {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &ScanStats{ring: make([]ringfilter.ScanMetrics, size)}
}

// Record adds one metrics message.
func (s *ScanStats) Record(m ringfilter.ScanMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = m
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	s.total++
}

// Run records every message from metrics until ctx is done or the channel
// is closed.
func (s *ScanStats) Run(ctx context.Context, metrics <-chan ringfilter.ScanMetrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-metrics:
			if !ok {
				return
			}
			s.Record(m)
		}
	}
}

// Latest returns the most recent message.
func (s *ScanStats) Latest() (ringfilter.ScanMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.total == 0 {
		return ringfilter.ScanMetrics{}, false
	}
	i := (s.next - 1 + len(s.ring)) % len(s.ring)
	return s.ring[i], true
}

// History returns up to limit retained messages, oldest first. limit <= 0
// returns the whole window.
func (s *ScanStats) History(limit int) []ringfilter.ScanMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLocked(limit)
}

func (s *ScanStats) historyLocked(limit int) []ringfilter.ScanMetrics {
	n := s.next
	if s.full {
		n = len(s.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ringfilter.ScanMetrics, 0, limit)
	start := (s.next - limit + len(s.ring)) % len(s.ring)
	for i := 0; i < limit; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

// Summary computes aggregates over the retained window.
func (s *ScanStats) Summary() Summary {
	s.mu.RLock()
	hist := s.historyLocked(0)
	total := s.total
	s.mu.RUnlock()

	sum := Summary{Scans: len(hist), TotalScans: total}
	if len(hist) == 0 {
		return sum
	}

	original := make([]float64, len(hist))
	filtered := make([]float64, len(hist))
	ratio := make([]float64, len(hist))
	for i, m := range hist {
		original[i] = float64(m.OriginalPointCount)
		filtered[i] = float64(m.FilteredPointCount)
		ratio[i] = m.ReductionRatio()
	}

	sum.MeanOriginal = stat.Mean(original, nil)
	sum.MeanFiltered = stat.Mean(filtered, nil)
	sum.MinFiltered = floats.Min(filtered)
	sum.MaxFiltered = floats.Max(filtered)
	if len(ratio) > 1 {
		sum.MeanReduction, sum.StdDevReduction = stat.MeanStdDev(ratio, nil)
	} else {
		sum.MeanReduction = ratio[0]
	}
	last := hist[len(hist)-1]
	sum.LatestRingCount = last.OriginalRingCount
	sum.LatestFilteredRings = last.FilteredRingCount
	return sum
}
