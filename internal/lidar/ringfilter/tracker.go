package ringfilter

import (
	"fmt"
	"sync/atomic"
)

// RingCountMode selects how OriginalRingCount is derived.
type RingCountMode int

const (
	// RingCountProcess reports the highest ring index seen since the
	// process started. The tracker is never reset between scans.
	RingCountProcess RingCountMode = iota
	// RingCountScan reports the highest ring index of the current scan.
	RingCountScan
)

// ParseRingCountMode maps the tuning file value ("process", "scan") to a
// mode. The empty string selects RingCountProcess.
func ParseRingCountMode(s string) (RingCountMode, error) {
	switch s {
	case "", "process":
		return RingCountProcess, nil
	case "scan":
		return RingCountScan, nil
	default:
		return RingCountProcess, fmt.Errorf("unknown ring count mode %q: expected \"process\" or \"scan\"", s)
	}
}

func (m RingCountMode) String() string {
	if m == RingCountScan {
		return "scan"
	}
	return "process"
}

// RingTracker is a monotonically non-decreasing maximum of observed ring
// indices, safe for concurrent use.
type RingTracker struct {
	max atomic.Int64
}

// Observe raises the tracked maximum to ring if it is higher and returns
// the maximum after the update. Negative values never change the tracker.
func (t *RingTracker) Observe(ring int) int {
	r := int64(ring)
	for {
		cur := t.max.Load()
		if r <= cur {
			return int(cur)
		}
		if t.max.CompareAndSwap(cur, r) {
			return ring
		}
	}
}

// Max returns the highest ring index observed so far, 0 before any.
func (t *RingTracker) Max() int {
	return int(t.max.Load())
}
