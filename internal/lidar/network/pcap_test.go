package network

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/parse"
)

// writeTestPCAP writes each payload as an Ethernet/IPv4/UDP frame.
func writeTestPCAP(t *testing.T, dstPort int, payloads ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Unix(1700000000, 0)
	for i, p := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 201),
			DstIP:    net.IPv4(192, 168, 1, 100),
		}
		udp := &layers.UDP{SrcPort: 10000, DstPort: layers.UDPPort(dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p)))

		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

type recordingHandler struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (h *recordingHandler) HandlePacket(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, append([]byte(nil), p...))
	return nil
}

func TestReadPCAPFile_ReplaysScan(t *testing.T) {
	scan := testScan(21, 50)
	chunks, err := parse.EncodeScan(scan, 20)
	require.NoError(t, err)

	path := writeTestPCAP(t, 2368, chunks...)

	var got []l2frames.Scan
	l := NewUDPListener(UDPListenerConfig{
		Sink: l2frames.NewScanAssembler(func(s l2frames.Scan) { got = append(got, s) }),
	})

	res, err := ReadPCAPFile(context.Background(), path, PCAPOptions{UDPPort: 2368}, l)
	require.NoError(t, err)
	assert.Equal(t, PCAPResult{Packets: 3}, res)
	require.Len(t, got, 1)
	assert.Equal(t, scan.Points, got[0].Points)
}

func TestReadPCAPFile_PortFilter(t *testing.T) {
	path := writeTestPCAP(t, 9999, []byte("a"), []byte("b"))

	h := &recordingHandler{}
	res, err := ReadPCAPFile(context.Background(), path, PCAPOptions{UDPPort: 2368}, h)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, h.payloads)

	res, err = ReadPCAPFile(context.Background(), path, PCAPOptions{}, h)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Packets)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, h.payloads)
}

func TestReadPCAPFile_RejectedPayloadsCounted(t *testing.T) {
	path := writeTestPCAP(t, 2368, []byte("garbage"))
	l := NewUDPListener(UDPListenerConfig{})

	res, err := ReadPCAPFile(context.Background(), path, PCAPOptions{UDPPort: 2368}, l)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
}

func TestReadPCAPFile_Cancelled(t *testing.T) {
	path := writeTestPCAP(t, 2368, []byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadPCAPFile(ctx, path, PCAPOptions{}, &recordingHandler{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadPCAPFile_MissingFile(t *testing.T) {
	_, err := ReadPCAPFile(context.Background(), filepath.Join(t.TempDir(), "nope.pcap"), PCAPOptions{}, &recordingHandler{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
