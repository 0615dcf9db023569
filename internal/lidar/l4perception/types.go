package l4perception

// Point is a filtered return in the sensor frame.
type Point struct {
	X, Y, Z   float64 // Position (meters)
	Intensity float64 // Return intensity
}

// Cloud is an ordered sequence of points. Order follows the scan order of
// the input and carries no meaning downstream.
type Cloud []Point

// Clone returns a copy of c that shares no backing array with it. A nil
// cloud clones to an empty, non-nil cloud.
func (c Cloud) Clone() Cloud {
	out := make(Cloud, len(c))
	copy(out, c)
	return out
}
