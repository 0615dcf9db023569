package network

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/ringfilter/internal/lidar/parse"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// CloudForwarder sends filtered clouds to a downstream UDP consumer using
// the scan chunk datagram format.
type CloudForwarder struct {
	conn        PacketWriter
	address     string
	chunkPoints int
	logInterval time.Duration

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewCloudForwarder dials addr:port. chunkPoints <= 0 packs as many points
// per datagram as fit.
func NewCloudForwarder(addr string, port, chunkPoints int, logInterval time.Duration) (*CloudForwarder, error) {
	conn, address, err := DialUDP(addr, port)
	if err != nil {
		return nil, err
	}
	return NewCloudForwarderWithWriter(conn, address, chunkPoints, logInterval), nil
}

// NewCloudForwarderWithWriter forwards through an existing writer.
func NewCloudForwarderWithWriter(w PacketWriter, address string, chunkPoints int, logInterval time.Duration) *CloudForwarder {
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &CloudForwarder{
		conn:        w,
		address:     address,
		chunkPoints: chunkPoints,
		logInterval: logInterval,
	}
}

// Run forwards every cloud received on clouds until ctx is cancelled or
// clouds is closed. Write failures are counted and logged per interval.
func (f *CloudForwarder) Run(ctx context.Context, clouds <-chan ringfilter.FilteredCloud) error {
	monitoring.Logf("Forwarding filtered clouds to %s", f.address)

	ticker := time.NewTicker(f.logInterval)
	defer ticker.Stop()

	droppedCount := 0
	var lastError error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cloud, ok := <-clouds:
			if !ok {
				return nil
			}
			if err := f.Forward(cloud); err != nil {
				droppedCount++
				lastError = err
			}
		case <-ticker.C:
			if droppedCount > 0 && lastError != nil {
				monitoring.Opsf("Dropped %d forwarded clouds due to errors (latest: %v)", droppedCount, lastError)
				droppedCount = 0
				lastError = nil
			}
		}
	}
}

// Forward encodes and writes one cloud. A write error abandons the rest of
// the cloud's datagrams.
func (f *CloudForwarder) Forward(cloud ringfilter.FilteredCloud) error {
	chunks, err := parse.EncodeCloud(cloud.Header, cloud.Points, f.chunkPoints)
	if err != nil {
		f.dropped.Add(1)
		return err
	}
	for _, b := range chunks {
		if _, err := f.conn.Write(b); err != nil {
			f.dropped.Add(1)
			return err
		}
	}
	f.sent.Add(1)
	return nil
}

// Stats returns the number of clouds forwarded and dropped.
func (f *CloudForwarder) Stats() (sent, dropped uint64) {
	return f.sent.Load(), f.dropped.Load()
}

// Close closes the underlying connection.
func (f *CloudForwarder) Close() error {
	return f.conn.Close()
}
