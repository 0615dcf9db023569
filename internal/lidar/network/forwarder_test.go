package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/l4perception"
	"github.com/banshee-data/ringfilter/internal/lidar/parse"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
)

func TestCloudForwarder_Forward(t *testing.T) {
	w := &MockPacketWriter{}
	f := NewCloudForwarderWithWriter(w, "test", 2, time.Second)

	cloud := ringfilter.FilteredCloud{
		Header: l2frames.Header{Seq: 3, FrameID: "velodyne"},
		Points: l4perception.Cloud{{X: 1}, {X: 2}, {X: 3}},
	}
	require.NoError(t, f.Forward(cloud))

	packets := w.Packets()
	require.Len(t, packets, 2)
	last, err := parse.DecodeChunk(packets[1])
	require.NoError(t, err)
	assert.True(t, last.Last)
	assert.True(t, last.NoRing)
	assert.Equal(t, cloud.Header, last.Header)
	assert.Equal(t, 3.0, last.Points[0].X)

	sent, dropped := f.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(0), dropped)
}

func TestCloudForwarder_WriteErrorCounted(t *testing.T) {
	w := &MockPacketWriter{Err: errors.New("network unreachable")}
	f := NewCloudForwarderWithWriter(w, "test", 0, time.Second)

	err := f.Forward(ringfilter.FilteredCloud{Points: l4perception.Cloud{{X: 1}}})
	assert.Error(t, err)
	_, dropped := f.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestCloudForwarder_RunUntilChannelClosed(t *testing.T) {
	w := &MockPacketWriter{}
	f := NewCloudForwarderWithWriter(w, "test", 0, time.Hour)

	clouds := make(chan ringfilter.FilteredCloud, 3)
	for i := 0; i < 3; i++ {
		clouds <- ringfilter.FilteredCloud{Header: l2frames.Header{Seq: uint32(i)}}
	}
	close(clouds)

	err := f.Run(context.Background(), clouds)
	assert.NoError(t, err)
	assert.Len(t, w.Packets(), 3, "empty clouds still produce one datagram each")
	require.NoError(t, f.Close())
}
