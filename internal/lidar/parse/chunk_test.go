package parse

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/l4perception"
)

func testScan(n int) l2frames.Scan {
	s := l2frames.Scan{Header: l2frames.Header{
		Seq:     12,
		Stamp:   time.Unix(1700000000, 250000000).UTC(),
		FrameID: "velodyne",
	}}
	for i := 0; i < n; i++ {
		// Values exactly representable in float32.
		s.Points = append(s.Points, l2frames.RingPoint{
			X: float64(i) * 0.5, Y: -float64(i), Z: 0.25, Intensity: float64(i % 256), Ring: i % 32,
		})
	}
	return s
}

func TestEncodeScan_Chunking(t *testing.T) {
	scan := testScan(200)
	chunks, err := EncodeScan(scan, 75)
	if err != nil {
		t.Fatalf("EncodeScan: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	var got []l2frames.RingPoint
	for i, b := range chunks {
		if len(b) > 1500 {
			t.Errorf("chunk %d is %d bytes, exceeds MTU", i, len(b))
		}
		c, err := DecodeChunk(b)
		if err != nil {
			t.Fatalf("DecodeChunk(%d): %v", i, err)
		}
		if int(c.Index) != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.Last != (i == len(chunks)-1) {
			t.Errorf("chunk %d last=%v", i, c.Last)
		}
		if diff := cmp.Diff(scan.Header, c.Header); diff != "" {
			t.Errorf("header mismatch (-want +got):\n%s", diff)
		}
		got = append(got, c.Points...)
	}
	if diff := cmp.Diff(scan.Points, got); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeScan_EmptyScanStillSent(t *testing.T) {
	chunks, err := EncodeScan(l2frames.Scan{Header: l2frames.Header{Seq: 3}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c, err := DecodeChunk(chunks[0])
	if err != nil {
		t.Fatal(err)
	}
	if !c.Last || len(c.Points) != 0 || c.Header.Seq != 3 || !c.Header.Stamp.IsZero() {
		t.Errorf("unexpected chunk %+v", c)
	}
}

func TestEncodeCloud_NoRing(t *testing.T) {
	h := l2frames.Header{Seq: 1, FrameID: "map"}
	cloud := l4perception.Cloud{{X: 1, Y: 2, Z: 3, Intensity: 4}, {X: -1, Y: -2, Z: -3}}
	chunks, err := EncodeCloud(h, cloud, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != HeaderSize+len("map")+PointSize {
		t.Errorf("unexpected chunk length %d", len(chunks[0]))
	}
	c, err := DecodeChunk(chunks[1])
	if err != nil {
		t.Fatal(err)
	}
	if !c.NoRing || !c.Last {
		t.Errorf("flags not set: %+v", c)
	}
	want := []l2frames.RingPoint{{X: -1, Y: -2, Z: -3}}
	if diff := cmp.Diff(want, c.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeChunk_Errors(t *testing.T) {
	valid, err := EncodeScan(testScan(4), 0)
	if err != nil {
		t.Fatal(err)
	}
	good := valid[0]

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 'X'
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrShortPacket},
		{"short", good[:10], ErrShortPacket},
		{"magic", badMagic, ErrBadMagic},
		{"version", badVersion, ErrBadVersion},
		{"truncated", good[:len(good)-1], ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChunk(tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeChunk() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncode_FrameIDTooLong(t *testing.T) {
	h := l2frames.Header{FrameID: string(make([]byte, 300))}
	if _, err := EncodeScan(l2frames.Scan{Header: h}, 10); !errors.Is(err, ErrFrameID) {
		t.Errorf("expected ErrFrameID, got %v", err)
	}
}

func BenchmarkDecodeChunk(b *testing.B) {
	chunks, err := EncodeScan(testScan(DefaultChunkPoints), DefaultChunkPoints)
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeChunk(chunks[0]); err != nil {
			b.Fatal(err)
		}
	}
}
