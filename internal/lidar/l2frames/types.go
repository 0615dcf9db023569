package l2frames

import "time"

// Header identifies a scan in time and space. It is copied unchanged onto
// every message derived from the scan so downstream consumers can align
// filtered output and metrics with the raw input.
type Header struct {
	Seq     uint32    `json:"seq"`      // Scan sequence number assigned by the sensor driver
	Stamp   time.Time `json:"stamp"`    // Acquisition time of the scan
	FrameID string    `json:"frame_id"` // Coordinate frame, e.g. "velodyne"
}

// RingPoint is a single return annotated with the physical ring (laser)
// that produced it. It only exists on the input side of the filter.
type RingPoint struct {
	X, Y, Z   float64 // Sensor frame position (meters)
	Intensity float64 // Return intensity
	Ring      int     // Laser ring index, 0-based
}

// Scan is one complete sweep of the sensor.
type Scan struct {
	Header Header
	Points []RingPoint
}

// Len returns the number of raw points in the scan.
func (s Scan) Len() int {
	return len(s.Points)
}
