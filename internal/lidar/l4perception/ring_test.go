package l4perception

import (
	"testing"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
)

func scanWithRings(rings ...int) []l2frames.RingPoint {
	pts := make([]l2frames.RingPoint, len(rings))
	for i, r := range rings {
		pts[i] = l2frames.RingPoint{X: float64(i), Y: float64(r), Intensity: float64(10 * i), Ring: r}
	}
	return pts
}

func TestDecimateRings_ScenarioA(t *testing.T) {
	points := scanWithRings(0, 1, 2, 3, 4, 5, 6)
	cloud, maxRing := DecimateRings(points, 3)

	if len(cloud) != 3 {
		t.Fatalf("expected 3 points, got %d", len(cloud))
	}
	for i, wantRing := range []int{0, 3, 6} {
		if cloud[i].Y != float64(wantRing) {
			t.Errorf("point %d came from ring %v, want %d", i, cloud[i].Y, wantRing)
		}
	}
	if maxRing != 6 {
		t.Errorf("maxRing = %d, want 6", maxRing)
	}
}

func TestDecimateRings_SelectionRule(t *testing.T) {
	rings := []int{7, 0, 12, 5, 15, 39, 10, 20, 1}
	points := scanWithRings(rings...)

	for divisor := 1; divisor <= 8; divisor++ {
		cloud, _ := DecimateRings(points, divisor)
		var want []int
		for i, r := range rings {
			if r%divisor == 0 {
				want = append(want, i)
			}
		}
		if len(cloud) != len(want) {
			t.Fatalf("divisor=%d: kept %d points, want %d", divisor, len(cloud), len(want))
		}
		for j, idx := range want {
			if cloud[j].X != float64(idx) {
				t.Errorf("divisor=%d: position %d holds input %v, want %d", divisor, j, cloud[j].X, idx)
			}
		}
	}
}

func TestDecimateRings_MaxRingCountsDroppedPoints(t *testing.T) {
	_, maxRing := DecimateRings(scanWithRings(0, 39, 3), 3)
	if maxRing != 39 {
		t.Errorf("maxRing = %d, want 39 from a dropped point", maxRing)
	}
}

func TestDecimateRings_Empty(t *testing.T) {
	cloud, maxRing := DecimateRings(nil, 3)
	if len(cloud) != 0 {
		t.Errorf("expected empty cloud, got %d points", len(cloud))
	}
	if maxRing != -1 {
		t.Errorf("maxRing = %d, want -1 for no input", maxRing)
	}
}

func TestDecimateRings_DivisorOneKeepsAll(t *testing.T) {
	points := scanWithRings(0, 1, 2)
	cloud, _ := DecimateRings(points, 1)
	if len(cloud) != len(points) {
		t.Errorf("divisor 1 kept %d of %d points", len(cloud), len(points))
	}
}
