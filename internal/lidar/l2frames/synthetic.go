package l2frames

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/banshee-data/ringfilter/internal/timeutil"
)

// SyntheticSource generates scans shaped like a spinning multi-ring sensor
// standing in a cylindrical room. It is used for demos and soak tests when
// no sensor is attached.
type SyntheticSource struct {
	seq   atomic.Uint32
	clock timeutil.Clock
	rng   *rand.Rand

	// Configuration
	FrameID       string
	Rings         int     // number of laser rings
	AzimuthSteps  int     // returns per ring per revolution
	ScanRate      float64 // scans per second
	RoomRadius    float64 // metres
	MinElevation  float64 // degrees, lowest ring
	MaxElevation  float64 // degrees, highest ring
	RangeNoiseStd float64 // metres
}

// NewSyntheticSource returns a 32-ring, 10 Hz source with ~1800 returns per
// ring.
func NewSyntheticSource(frameID string, clock timeutil.Clock) *SyntheticSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SyntheticSource{
		clock:         clock,
		rng:           rand.New(rand.NewSource(clock.Now().UnixNano())),
		FrameID:       frameID,
		Rings:         32,
		AzimuthSteps:  1800,
		ScanRate:      10.0,
		RoomRadius:    20.0,
		MinElevation:  -30.67,
		MaxElevation:  10.67,
		RangeNoiseStd: 0.02,
	}
}

// NextScan builds the next scan.
func (g *SyntheticSource) NextScan() Scan {
	scan := Scan{
		Header: Header{
			Seq:     g.seq.Add(1) - 1,
			Stamp:   g.clock.Now(),
			FrameID: g.FrameID,
		},
		Points: make([]RingPoint, 0, g.Rings*g.AzimuthSteps),
	}

	elevStep := 0.0
	if g.Rings > 1 {
		elevStep = (g.MaxElevation - g.MinElevation) / float64(g.Rings-1)
	}
	for ring := 0; ring < g.Rings; ring++ {
		elev := (g.MinElevation + float64(ring)*elevStep) * math.Pi / 180
		for step := 0; step < g.AzimuthSteps; step++ {
			az := 2 * math.Pi * float64(step) / float64(g.AzimuthSteps)
			r := g.RoomRadius + g.rng.NormFloat64()*g.RangeNoiseStd
			scan.Points = append(scan.Points, RingPoint{
				X:         r * math.Cos(elev) * math.Cos(az),
				Y:         r * math.Cos(elev) * math.Sin(az),
				Z:         r * math.Sin(elev),
				Intensity: float64(g.rng.Intn(256)),
				Ring:      ring,
			})
		}
	}
	return scan
}

// Run emits scans to out at ScanRate until ctx is cancelled. out should
// not block; publish to a bus topic rather than process inline.
func (g *SyntheticSource) Run(ctx context.Context, out func(Scan)) error {
	interval := time.Duration(float64(time.Second) / g.ScanRate)
	ticker := g.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			out(g.NextScan())
		}
	}
}
