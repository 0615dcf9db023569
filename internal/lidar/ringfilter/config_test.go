package ringfilter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFilterConfig(t *testing.T) {
	cfg := DefaultFilterConfig()
	assert.Equal(t, 3, cfg.RingDivisor)
	assert.Equal(t, 2.0, cfg.VoxelLeafSize)
	assert.Equal(t, "ring_div=3 voxel_leaf_size=2.000", cfg.String())
}

func TestConfigState_ReplaceClampsDivisor(t *testing.T) {
	s := NewConfigState(DefaultFilterConfig())

	got, clamped := s.Replace(FilterConfig{RingDivisor: 0, VoxelLeafSize: 1.5})
	assert.True(t, clamped)
	assert.Equal(t, FilterConfig{RingDivisor: 1, VoxelLeafSize: 1.5}, got)
	assert.Equal(t, got, s.Load())

	got, clamped = s.Replace(FilterConfig{RingDivisor: -4, VoxelLeafSize: -1})
	assert.True(t, clamped)
	assert.Equal(t, 1, got.RingDivisor)
	assert.Equal(t, -1.0, got.VoxelLeafSize, "leaf size is not validated")

	_, clamped = s.Replace(FilterConfig{RingDivisor: 4, VoxelLeafSize: 1})
	assert.False(t, clamped)
	assert.Equal(t, uint64(3), s.Version())
}

func TestNewConfigState_SanitizesInitial(t *testing.T) {
	s := NewConfigState(FilterConfig{RingDivisor: 0})
	assert.Equal(t, 1, s.Load().RingDivisor)
	assert.Equal(t, uint64(0), s.Version())
}

// Readers must only ever see one of the installed snapshots, never a mix
// of fields from two of them. Run with -race.
func TestConfigState_ConcurrentReplaceLoad(t *testing.T) {
	a := FilterConfig{RingDivisor: 3, VoxelLeafSize: 2.0}
	b := FilterConfig{RingDivisor: 5, VoxelLeafSize: 0.5}
	s := NewConfigState(a)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			if i%2 == 0 {
				s.Replace(b)
			} else {
				s.Replace(a)
			}
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := s.Load()
				if got != a && got != b {
					t.Errorf("torn config observed: %+v", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestParseRingCountMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RingCountMode
		wantErr bool
	}{
		{"", RingCountProcess, false},
		{"process", RingCountProcess, false},
		{"scan", RingCountScan, false},
		{"frame", RingCountProcess, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRingCountMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, map[RingCountMode]string{RingCountProcess: "process", RingCountScan: "scan"}[tt.want], got.String())
		})
	}
}

func TestRingTracker_Monotonic(t *testing.T) {
	var tr RingTracker
	assert.Equal(t, 0, tr.Max())
	assert.Equal(t, 5, tr.Observe(5))
	assert.Equal(t, 5, tr.Observe(2))
	assert.Equal(t, 5, tr.Observe(-1))
	assert.Equal(t, 9, tr.Observe(9))
	assert.Equal(t, 9, tr.Max())
}

func TestRingTracker_Concurrent(t *testing.T) {
	var tr RingTracker
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				tr.Observe(base*1000 + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 7999, tr.Max())
}

func TestNewScanMetrics(t *testing.T) {
	m := NewScanMetrics(scanWithRings(3).Header, 10, 4, 2, 31, 3)
	assert.Equal(t, 10, m.FilteredRingCount)
	assert.InDelta(t, 0.2, m.ReductionRatio(), 1e-9)

	m = NewScanMetrics(scanWithRings(4).Header, 0, 0, 0, 2, 5)
	assert.Equal(t, 0, m.FilteredRingCount, "integer division truncates")
	assert.Equal(t, 0.0, m.ReductionRatio())
}

func TestConfigState_SwapReturnsPrevious(t *testing.T) {
	s := NewConfigState(DefaultFilterConfig())
	prev, installed, clamped := s.Swap(FilterConfig{RingDivisor: 0, VoxelLeafSize: 1})
	assert.Equal(t, DefaultFilterConfig(), prev)
	assert.Equal(t, FilterConfig{RingDivisor: 1, VoxelLeafSize: 1}, installed)
	assert.True(t, clamped)
	assert.Equal(t, uint64(1), s.Version())
}

// Under concurrent swaps every installed value is displaced exactly once,
// so each writer sees a distinct previous value.
func TestConfigState_ConcurrentSwapPreviousUnique(t *testing.T) {
	s := NewConfigState(FilterConfig{RingDivisor: 1, VoxelLeafSize: 0})

	const writers, perWriter = 4, 500
	prevs := make(chan FilterConfig, writers*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				div := 2 + w*perWriter + i
				prev, _, _ := s.Swap(FilterConfig{RingDivisor: div, VoxelLeafSize: float64(div)})
				prevs <- prev
			}
		}(w)
	}
	wg.Wait()
	close(prevs)

	seen := map[int]bool{}
	for p := range prevs {
		assert.False(t, seen[p.RingDivisor], "divisor %d displaced twice", p.RingDivisor)
		seen[p.RingDivisor] = true
		assert.Equal(t, float64(p.RingDivisor), p.VoxelLeafSize, "torn previous value")
	}
	assert.False(t, seen[s.Load().RingDivisor], "final value reported as displaced")
	assert.Len(t, seen, writers*perWriter)
	assert.Equal(t, uint64(writers*perWriter), s.Version())
}
