package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/parse"
	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// PacketStatsInterface provides packet statistics management.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddMalformed()
	AddPoints(count int)
	LogStats()
}

// ChunkSink receives decoded chunks. *l2frames.ScanAssembler implements it.
type ChunkSink interface {
	AddChunk(h l2frames.Header, index uint16, last bool, points []l2frames.RingPoint)
}

// UDPListener receives scan chunk datagrams, decodes them and feeds them
// to a ChunkSink.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	socketFactory UDPSocketFactory
	stats         PacketStatsInterface
	sink          ChunkSink
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address       string
	RcvBuf        int
	LogInterval   time.Duration
	SocketFactory UDPSocketFactory // defaults to RealUDPSocketFactory
	Stats         PacketStatsInterface
	Sink          ChunkSink
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	factory := config.SocketFactory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		socketFactory: factory,
		stats:         stats,
		sink:          config.Sink,
	}
}

type noopStats struct{}

func (noopStats) AddPacket(int) {}
func (noopStats) AddMalformed() {}
func (noopStats) AddPoints(int) {}
func (noopStats) LogStats()     {}

// Start listens until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Opsf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	monitoring.Logf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	go l.startStatsLogging(ctx)

	buffer := make([]byte, parse.MaxDatagramLen)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// A short deadline keeps the loop responsive to cancellation.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			monitoring.Diagf("UDP set read deadline: %v", err)
		}
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Opsf("UDP read error: %v", err)
			continue
		}
		if err := l.HandlePacket(buffer[:n]); err != nil {
			monitoring.Diagf("Dropping packet from %v: %v", from, err)
		}
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// HandlePacket decodes one datagram and passes it to the sink. Malformed
// datagrams, including chunks without ring indices, are counted and
// reported, never fatal. The packet buffer may
// be reused by the caller after HandlePacket returns.
func (l *UDPListener) HandlePacket(packet []byte) error {
	l.stats.AddPacket(len(packet))

	chunk, err := parse.DecodeChunk(packet)
	if err != nil {
		l.stats.AddMalformed()
		return err
	}
	// Ring-less chunks are filtered output; the filter cannot decimate them.
	if chunk.NoRing {
		l.stats.AddMalformed()
		return fmt.Errorf("%w: seq=%d chunk %d", parse.ErrNoRing, chunk.Header.Seq, chunk.Index)
	}
	l.stats.AddPoints(len(chunk.Points))
	if l.sink != nil {
		l.sink.AddChunk(chunk.Header, chunk.Index, chunk.Last, chunk.Points)
	}
	return nil
}
