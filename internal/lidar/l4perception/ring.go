package l4perception

import "github.com/banshee-data/ringfilter/internal/lidar/l2frames"

// DecimateRings keeps the points whose ring index is divisible by divisor,
// in input order, and reports the highest ring index seen across all input
// points (retained or not). maxRing is -1 for an empty input so callers can
// tell "no rings seen" apart from "only ring 0 seen".
//
// divisor must be at least 1; ringfilter.ConfigState guarantees this for
// every config it hands out.
func DecimateRings(points []l2frames.RingPoint, divisor int) (cloud Cloud, maxRing int) {
	maxRing = -1
	cloud = make(Cloud, 0, len(points)/divisor+1)
	for _, p := range points {
		if p.Ring%divisor == 0 {
			cloud = append(cloud, Point{X: p.X, Y: p.Y, Z: p.Z, Intensity: p.Intensity})
		}
		if p.Ring > maxRing {
			maxRing = p.Ring
		}
	}
	return cloud, maxRing
}
