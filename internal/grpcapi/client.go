package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
)

// Client is a thin RingFilter client over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Configure requests a full configuration replacement.
func (c *Client) Configure(ctx context.Context, cfg ringfilter.FilterConfig, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(configMap(cfg))
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodConfigure, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ConfigureRaw sends req unchanged.
func (c *Client) ConfigureRaw(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodConfigure, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConfig returns the configuration in effect and its version.
func (c *Client) GetConfig(ctx context.Context, opts ...grpc.CallOption) (ringfilter.FilterConfig, uint64, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetConfig, &emptypb.Empty{}, out, opts...); err != nil {
		return ringfilter.FilterConfig{}, 0, err
	}
	f := out.GetFields()
	cfg := ringfilter.FilterConfig{
		RingDivisor:   int(f["ring_div"].GetNumberValue()),
		VoxelLeafSize: f["voxel_leaf_size"].GetNumberValue(),
	}
	return cfg, uint64(f["version"].GetNumberValue()), nil
}

// Info returns the server description.
func (c *Client) Info(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodInfo, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// MetricsReceiver is the client side of StreamMetrics.
type MetricsReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next metrics message.
func (r *MetricsReceiver) Recv() (ringfilter.ScanMetrics, error) {
	msg := new(structpb.Struct)
	if err := r.stream.RecvMsg(msg); err != nil {
		return ringfilter.ScanMetrics{}, err
	}
	return MetricsFromStruct(msg)
}

// StreamMetrics opens a metrics stream. Cancel ctx to end it.
func (c *Client) StreamMetrics(ctx context.Context, opts ...grpc.CallOption) (*MetricsReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodStreamMetrics, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &MetricsReceiver{stream: stream}, nil
}
