package l4perception

import (
	"math"
	"sync/atomic"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// MinVoxelLeafSize is the smallest leaf size at which VoxelGrid downsamples.
// Below it the grid would be finer than the sensor's range resolution, so
// the cloud is passed through unchanged.
const MinVoxelLeafSize = 0.1

// keyLimit bounds a floor-divided coordinate so it converts to int64
// exactly.
const keyLimit = 1 << 63

var overflowWarned atomic.Bool

// voxelKey identifies a cubic cell by its floor-divided coordinates.
type voxelKey struct {
	I, J, K int64
}

type voxelAccum struct {
	sum       r3.Vector
	intensity float64
	n         int
}

// VoxelGrid downsamples cloud onto a uniform grid of cubes with edge
// leafSize. Every occupied cube contributes exactly one output point at the
// centroid of its members (intensity averaged the same way). Output order
// follows the first appearance of each cube in the input.
//
// leafSize below MinVoxelLeafSize (including zero and negative values)
// returns a copy of cloud, as does a cloud whose extent would overflow the
// integer cell index at this leafSize. Points with a non-finite coordinate
// cannot be bucketed and are dropped on the downsampling path.
func VoxelGrid(cloud Cloud, leafSize float64) Cloud {
	if leafSize < MinVoxelLeafSize || len(cloud) == 0 || overflows(cloud, leafSize) {
		return cloud.Clone()
	}

	cells := make(map[voxelKey]*voxelAccum, len(cloud)/4+1)
	order := make([]voxelKey, 0, len(cloud)/4+1)

	for _, p := range cloud {
		v := r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
		if !isFinite(v) {
			continue
		}
		key := keyFor(v, leafSize)
		acc, ok := cells[key]
		if !ok {
			acc = &voxelAccum{}
			cells[key] = acc
			order = append(order, key)
		}
		acc.sum = acc.sum.Add(v)
		acc.intensity += p.Intensity
		acc.n++
	}

	out := make(Cloud, 0, len(order))
	for _, key := range order {
		acc := cells[key]
		c := acc.sum.Mul(1 / float64(acc.n))
		out = append(out, Point{X: c.X, Y: c.Y, Z: c.Z, Intensity: acc.intensity / float64(acc.n)})
	}
	return out
}

// OccupiedVoxels counts the distinct cubes of edge leafSize touched by the
// finite points of cloud. It returns len(cloud) when leafSize is below
// MinVoxelLeafSize or the cloud overflows the grid, matching the
// pass-through behaviour of VoxelGrid.
func OccupiedVoxels(cloud Cloud, leafSize float64) int {
	if leafSize < MinVoxelLeafSize || overflows(cloud, leafSize) {
		return len(cloud)
	}
	seen := make(map[voxelKey]struct{}, len(cloud)/4+1)
	for _, p := range cloud {
		v := r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
		if !isFinite(v) {
			continue
		}
		seen[keyFor(v, leafSize)] = struct{}{}
	}
	return len(seen)
}

// overflows reports whether any finite point of cloud has a cell index
// outside the int64 range. The first occurrence is logged on the diag
// stream.
func overflows(cloud Cloud, leafSize float64) bool {
	for _, p := range cloud {
		v := r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
		if !isFinite(v) {
			continue
		}
		if !fitsKey(v.X/leafSize) || !fitsKey(v.Y/leafSize) || !fitsKey(v.Z/leafSize) {
			if overflowWarned.CompareAndSwap(false, true) {
				monitoring.Diagf("[voxel] leaf size %.3f too small for point (%g, %g, %g): cell index overflows, cloud passed through",
					leafSize, p.X, p.Y, p.Z)
			}
			return true
		}
	}
	return false
}

func fitsKey(f float64) bool {
	f = math.Floor(f)
	return f >= -keyLimit && f < keyLimit
}

func keyFor(v r3.Vector, leafSize float64) voxelKey {
	return voxelKey{
		I: int64(math.Floor(v.X / leafSize)),
		J: int64(math.Floor(v.Y / leafSize)),
		K: int64(math.Floor(v.Z / leafSize)),
	}
}

func isFinite(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
