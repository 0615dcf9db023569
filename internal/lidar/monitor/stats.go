package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/ringfilter/internal/monitoring"
	"github.com/banshee-data/ringfilter/internal/timeutil"
)

// StatsSnapshot represents a snapshot of ingress rates over one interval.
type StatsSnapshot struct {
	PacketsPerSec  float64   `json:"packets_per_sec"`
	MBPerSec       float64   `json:"mb_per_sec"`
	PointsPerSec   float64   `json:"points_per_sec"`
	MalformedCount int64     `json:"malformed_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// PacketStats tracks datagram ingress with thread-safe operations.
type PacketStats struct {
	mu             sync.Mutex
	clock          timeutil.Clock
	packetCount    int64
	byteCount      int64
	malformedCount int64
	pointCount     int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewPacketStats creates a new PacketStats instance. A nil clock uses the
// wall clock.
func NewPacketStats(clock timeutil.Clock) *PacketStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &PacketStats{clock: clock, lastReset: now, startTime: now}
}

// AddPacket increments packet count and byte count.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddMalformed counts a datagram that failed to decode.
func (ps *PacketStats) AddMalformed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.malformedCount++
}

// AddPoints increments decoded point count.
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
}

// GetAndReset returns current stats and resets counters.
func (ps *PacketStats) GetAndReset() (packets, bytes, malformed, points int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := ps.clock.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	malformed = ps.malformedCount
	points = ps.pointCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.malformedCount = 0
	ps.pointCount = 0
	ps.lastReset = now
	return
}

// LogStats logs formatted statistics and stores a snapshot for the web
// interface. Quiet intervals are not logged.
func (ps *PacketStats) LogStats() {
	packets, bytes, malformed, points, duration := ps.GetAndReset()
	if packets == 0 && malformed == 0 {
		return
	}
	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	snap := &StatsSnapshot{
		PacketsPerSec:  float64(packets) / secs,
		MBPerSec:       float64(bytes) / secs / (1024 * 1024),
		PointsPerSec:   float64(points) / secs,
		MalformedCount: malformed,
		Timestamp:      ps.clock.Now(),
	}
	ps.mu.Lock()
	ps.latestSnapshot = snap
	ps.mu.Unlock()

	msg := fmt.Sprintf("Lidar stats (/sec): %.2f MB, %.1f packets, %s points",
		snap.MBPerSec, snap.PacketsPerSec, FormatWithCommas(int64(snap.PointsPerSec)))
	if malformed > 0 {
		msg += fmt.Sprintf(", %d malformed", malformed)
		monitoring.Opsf("%s", msg)
		return
	}
	monitoring.Logf("%s", msg)
}

// GetUptime returns the time since the stats were created.
func (ps *PacketStats) GetUptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.clock.Since(ps.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot, or nil.
func (ps *PacketStats) GetLatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latestSnapshot == nil {
		return nil
	}
	snapshot := *ps.latestSnapshot
	return &snapshot
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := make([]byte, 0, len(str)+len(str)/3)
	for i := 0; i < len(str); i++ {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, str[i])
	}
	return string(result)
}
