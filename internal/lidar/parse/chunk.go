package parse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/l4perception"
)

/*
Scan Chunk Datagram

A scan is too large for one UDP datagram, so the sensor driver splits it
into chunks sharing a sequence number. All fields are little-endian.

HEADER (24 bytes + frame id):
├── Magic        [4]byte  "RSCN"
├── Version      uint8    currently 1
├── Flags        uint8    bit0 last chunk of the scan, bit1 points carry no ring
├── FrameIDLen   uint8
├── Reserved     uint8
├── Seq          uint32   scan sequence number
├── Stamp        int64    scan timestamp, ns since Unix epoch
├── ChunkIndex   uint16   0-based, contiguous within a scan
├── PointCount   uint16
└── FrameID      [FrameIDLen]byte

POINTS (PointCount records):
├── X, Y, Z      float32  metres, sensor frame
├── Intensity    float32
└── Ring         uint16   laser ring index (absent when FlagNoRing is set)

Filtered clouds are sent back out with the same layout and FlagNoRing set,
so one decoder serves both directions.
*/

const (
	Magic          = "RSCN"
	Version        = 1
	HeaderSize     = 24
	RingPointSize  = 18
	PointSize      = 16
	MaxFrameIDLen  = math.MaxUint8
	MaxDatagramLen = 65507 // largest IPv4 UDP payload

	// DefaultChunkPoints keeps a ring-point chunk under a 1500-byte MTU.
	DefaultChunkPoints = 75
)

// Flag bits.
const (
	FlagLast   uint8 = 1 << 0
	FlagNoRing uint8 = 1 << 1
)

var (
	ErrShortPacket = errors.New("packet shorter than header")
	ErrBadMagic    = errors.New("bad magic")
	ErrBadVersion  = errors.New("unsupported version")
	ErrTruncated   = errors.New("packet truncated")
	ErrFrameID     = errors.New("frame id too long")
	ErrNoRing      = errors.New("chunk carries no ring indices")
)

// Chunk is one decoded datagram.
type Chunk struct {
	Header l2frames.Header
	Index  uint16
	Last   bool
	NoRing bool
	Points []l2frames.RingPoint
}

// DecodeChunk parses one datagram. Points of a FlagNoRing chunk are
// returned with Ring 0.
func DecodeChunk(b []byte) (Chunk, error) {
	var c Chunk
	if len(b) < HeaderSize {
		return c, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if string(b[0:4]) != Magic {
		return c, ErrBadMagic
	}
	if b[4] != Version {
		return c, fmt.Errorf("%w: %d", ErrBadVersion, b[4])
	}
	flags := b[5]
	idLen := int(b[6])
	c.Last = flags&FlagLast != 0
	c.NoRing = flags&FlagNoRing != 0
	c.Header.Seq = binary.LittleEndian.Uint32(b[8:12])
	if ns := int64(binary.LittleEndian.Uint64(b[12:20])); ns != 0 {
		c.Header.Stamp = time.Unix(0, ns).UTC()
	}
	c.Index = binary.LittleEndian.Uint16(b[20:22])
	count := int(binary.LittleEndian.Uint16(b[22:24]))

	recSize := RingPointSize
	if c.NoRing {
		recSize = PointSize
	}
	want := HeaderSize + idLen + count*recSize
	if len(b) < want {
		return c, fmt.Errorf("%w: have %d bytes, header declares %d", ErrTruncated, len(b), want)
	}
	c.Header.FrameID = string(b[HeaderSize : HeaderSize+idLen])

	c.Points = make([]l2frames.RingPoint, count)
	off := HeaderSize + idLen
	for i := range c.Points {
		p := &c.Points[i]
		p.X = float64(readFloat32(b[off:]))
		p.Y = float64(readFloat32(b[off+4:]))
		p.Z = float64(readFloat32(b[off+8:]))
		p.Intensity = float64(readFloat32(b[off+12:]))
		if !c.NoRing {
			p.Ring = int(binary.LittleEndian.Uint16(b[off+16:]))
		}
		off += recSize
	}
	return c, nil
}

// EncodeScan splits scan into datagrams of at most chunkPoints ring
// points each. An empty scan still produces one (last) datagram so the
// receiver sees it.
func EncodeScan(scan l2frames.Scan, chunkPoints int) ([][]byte, error) {
	n := len(scan.Points)
	return encode(scan.Header, n, chunkPoints, 0, func(b []byte, i int) {
		p := scan.Points[i]
		putPoint(b, p.X, p.Y, p.Z, p.Intensity)
		binary.LittleEndian.PutUint16(b[16:], uint16(p.Ring))
	})
}

// EncodeCloud splits a filtered cloud into FlagNoRing datagrams.
func EncodeCloud(h l2frames.Header, cloud l4perception.Cloud, chunkPoints int) ([][]byte, error) {
	return encode(h, len(cloud), chunkPoints, FlagNoRing, func(b []byte, i int) {
		p := cloud[i]
		putPoint(b, p.X, p.Y, p.Z, p.Intensity)
	})
}

func encode(h l2frames.Header, n, chunkPoints int, flags uint8, put func([]byte, int)) ([][]byte, error) {
	if len(h.FrameID) > MaxFrameIDLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameID, len(h.FrameID))
	}
	recSize := RingPointSize
	if flags&FlagNoRing != 0 {
		recSize = PointSize
	}
	maxPoints := (MaxDatagramLen - HeaderSize - len(h.FrameID)) / recSize
	if maxPoints > math.MaxUint16 {
		maxPoints = math.MaxUint16
	}
	if chunkPoints < 1 || chunkPoints > maxPoints {
		chunkPoints = maxPoints
	}

	chunks := (n + chunkPoints - 1) / chunkPoints
	if chunks == 0 {
		chunks = 1
	}
	if chunks > math.MaxUint16+1 {
		return nil, fmt.Errorf("scan of %d points needs %d chunks", n, chunks)
	}

	out := make([][]byte, 0, chunks)
	for ci := 0; ci < chunks; ci++ {
		start := ci * chunkPoints
		end := start + chunkPoints
		if end > n {
			end = n
		}
		count := end - start

		b := make([]byte, HeaderSize+len(h.FrameID)+count*recSize)
		copy(b[0:4], Magic)
		b[4] = Version
		b[5] = flags
		if ci == chunks-1 {
			b[5] |= FlagLast
		}
		b[6] = uint8(len(h.FrameID))
		binary.LittleEndian.PutUint32(b[8:12], h.Seq)
		binary.LittleEndian.PutUint64(b[12:20], uint64(stampNanos(h.Stamp)))
		binary.LittleEndian.PutUint16(b[20:22], uint16(ci))
		binary.LittleEndian.PutUint16(b[22:24], uint16(count))
		copy(b[HeaderSize:], h.FrameID)

		off := HeaderSize + len(h.FrameID)
		for i := start; i < end; i++ {
			put(b[off:off+recSize], i)
			off += recSize
		}
		out = append(out, b)
	}
	return out, nil
}

func stampNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func putPoint(b []byte, x, y, z, intensity float64) {
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(x)))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(y)))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(float32(z)))
	binary.LittleEndian.PutUint32(b[12:], math.Float32bits(float32(intensity)))
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
