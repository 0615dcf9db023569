package l2frames

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// ScanAssembler stitches chunked scan datagrams back into complete scans.
//
// Chunks of one scan share a Header.Seq and carry a contiguous index
// starting at 0; the final chunk is flagged last. A scan with a missing
// chunk is dropped as a whole rather than emitted partially, so every scan
// handed to the callback is exactly what the driver sent.
type ScanAssembler struct {
	mu        sync.Mutex
	current   *Scan
	nextIndex uint16
	onScan    func(Scan)

	completed atomic.Uint64
	dropped   atomic.Uint64
}

// NewScanAssembler returns an assembler that invokes onScan for every
// complete scan. onScan runs on the caller's goroutine, outside the lock.
func NewScanAssembler(onScan func(Scan)) *ScanAssembler {
	return &ScanAssembler{onScan: onScan}
}

// AddChunk feeds one decoded datagram into the assembler.
func (a *ScanAssembler) AddChunk(h Header, index uint16, last bool, points []RingPoint) {
	a.mu.Lock()
	var done *Scan

	if a.current != nil && a.current.Header.Seq != h.Seq {
		monitoring.Diagf("[Assembler] scan seq=%d incomplete (next chunk %d never arrived), dropping",
			a.current.Header.Seq, a.nextIndex)
		a.dropLocked()
	}

	switch {
	case a.current == nil && index != 0:
		// Joined mid-scan: wait for the next chunk 0.
		a.dropped.Add(1)
		monitoring.Tracef("[Assembler] chunk %d of seq=%d without start, ignoring", index, h.Seq)
	case a.current != nil && index != a.nextIndex:
		monitoring.Diagf("[Assembler] scan seq=%d gap: got chunk %d, want %d, dropping",
			h.Seq, index, a.nextIndex)
		a.dropLocked()
	default:
		if a.current == nil {
			a.current = &Scan{Header: h, Points: make([]RingPoint, 0, len(points))}
		}
		a.current.Points = append(a.current.Points, points...)
		a.nextIndex = index + 1
		if last {
			done = a.current
			a.current = nil
			a.nextIndex = 0
			a.completed.Add(1)
		}
	}
	a.mu.Unlock()

	if done != nil && a.onScan != nil {
		a.onScan(*done)
	}
}

func (a *ScanAssembler) dropLocked() {
	a.current = nil
	a.nextIndex = 0
	a.dropped.Add(1)
}

// Pending reports whether a partially assembled scan is buffered.
func (a *ScanAssembler) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// Stats returns the number of scans emitted and dropped so far.
func (a *ScanAssembler) Stats() (completed, dropped uint64) {
	return a.completed.Load(), a.dropped.Load()
}
