package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// PacketHandler consumes raw UDP payloads. *UDPListener implements it.
type PacketHandler interface {
	HandlePacket(payload []byte) error
}

// PCAPOptions controls a capture replay.
type PCAPOptions struct {
	// UDPPort keeps only datagrams to this destination port; 0 keeps all.
	UDPPort int
	// Realtime paces replay by the capture timestamps.
	Realtime bool
}

// PCAPResult summarises a replay.
type PCAPResult struct {
	Packets  int // UDP payloads handed to the handler
	Rejected int // payloads the handler returned an error for
	Skipped  int // non-UDP or other-port frames
}

// ReadPCAPFile replays the UDP payloads of a pcap or pcapng capture
// through handler.
func ReadPCAPFile(ctx context.Context, path string, opts PCAPOptions, handler PacketHandler) (PCAPResult, error) {
	var res PCAPResult

	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	src, linkType, err := openCapture(bufio.NewReader(f))
	if err != nil {
		return res, fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}

	var (
		eth     layers.Ethernet
		linux   layers.LinuxSLL
		ip4     layers.IPv4
		ip6     layers.IPv6
		udp     layers.UDP
		payload gopacket.Payload
		decoded []gopacket.LayerType
	)
	first := layers.LayerTypeEthernet
	if linkType == layers.LinkTypeLinuxSLL {
		first = layers.LayerTypeLinuxSLL
	}
	parser := gopacket.NewDecodingLayerParser(first, &eth, &linux, &ip4, &ip6, &udp, &payload)
	parser.IgnoreUnsupported = true

	start := time.Now()
	var firstStamp time.Time
	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("PCAP reader stopping due to context cancellation (processed %d packets)", res.Packets)
			return res, err
		}

		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading packet %d: %w", res.Packets+res.Skipped+1, err)
		}

		if err := parser.DecodeLayers(data, &decoded); err != nil {
			monitoring.Tracef("PCAP frame decode: %v", err)
		}
		if !hasLayer(decoded, layers.LayerTypeUDP) ||
			(opts.UDPPort != 0 && int(udp.DstPort) != opts.UDPPort) {
			res.Skipped++
			continue
		}

		if opts.Realtime {
			if firstStamp.IsZero() {
				firstStamp = ci.Timestamp
			}
			if wait := ci.Timestamp.Sub(firstStamp) - time.Since(start); wait > 0 {
				select {
				case <-ctx.Done():
					return res, ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		res.Packets++
		if err := handler.HandlePacket(udp.Payload); err != nil {
			res.Rejected++
		}
		if res.Packets%10000 == 0 {
			monitoring.Diagf("PCAP progress: %d packets in %v", res.Packets, time.Since(start))
		}
	}

	monitoring.Logf("PCAP file reading complete: %d packets (%d rejected, %d skipped) in %v",
		res.Packets, res.Rejected, res.Skipped, time.Since(start))
	return res, nil
}

type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// openCapture sniffs the magic to choose between classic pcap and pcapng.
func openCapture(r *bufio.Reader) (packetDataSource, layers.LinkType, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, 0, err
	}
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, 0, err
		}
		return ng, ng.LinkType(), nil
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, 0, err
	}
	return pr, pr.LinkType(), nil
}

func hasLayer(decoded []gopacket.LayerType, want gopacket.LayerType) bool {
	for _, lt := range decoded {
		if lt == want {
			return true
		}
	}
	return false
}
