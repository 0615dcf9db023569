package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/ringfilter/internal/lidar/bus"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/monitoring"
	"github.com/banshee-data/ringfilter/internal/version"
)

// Controller reads and replaces the filter configuration.
// *pipeline.Controller implements it.
type Controller interface {
	Current() ringfilter.FilterConfig
	Version() uint64
	Submit(cfg ringfilter.FilterConfig, source string) error
}

// DefaultStreamDepth is the per-client buffer of StreamMetrics.
const DefaultStreamDepth = 100

// Server implements RingFilterServer on top of the filter's config
// controller and metrics topic.
type Server struct {
	sensorID    string
	controller  Controller
	metrics     *bus.Topic[ringfilter.ScanMetrics]
	streamDepth int
}

var _ RingFilterServer = (*Server)(nil)

// NewServer creates a server. metrics may be nil, in which case
// StreamMetrics fails with Unavailable.
func NewServer(sensorID string, controller Controller, metrics *bus.Topic[ringfilter.ScanMetrics]) *Server {
	return &Server{
		sensorID:    sensorID,
		controller:  controller,
		metrics:     metrics,
		streamDepth: DefaultStreamDepth,
	}
}

// Configure queues a full configuration replacement. Both ring_div and
// voxel_leaf_size are required.
func (s *Server) Configure(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cfg, err := configFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.controller.Submit(cfg, "grpc"); err != nil {
		return nil, status.Errorf(codes.Unavailable, "submit config: %v", err)
	}
	requested, clamped := cfg.Sanitize()
	return structpb.NewStruct(map[string]interface{}{
		"config":  configMap(requested),
		"clamped": clamped,
		"pending": true,
	})
}

// GetConfig returns the configuration in effect and its version.
func (s *Server) GetConfig(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	m := configMap(s.controller.Current())
	m["version"] = float64(s.controller.Version())
	return structpb.NewStruct(m)
}

// Info describes the running filter.
func (s *Server) Info(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"filter_name": ringfilter.FilterName,
		"sensor_id":   s.sensorID,
		"version":     version.Version,
		"git_sha":     version.GitSHA,
		"build_time":  version.BuildTime,
	})
}

// StreamMetrics subscribes the caller to points_filter_info until the
// client goes away or the topic closes. A slow client loses messages
// rather than stalling the filter.
func (s *Server) StreamMetrics(_ *emptypb.Empty, stream MetricsStream) error {
	if s.metrics == nil {
		return status.Error(codes.Unavailable, "metrics stream not available")
	}
	id := "grpc-" + uuid.NewString()
	ch, err := s.metrics.Subscribe(id, s.streamDepth)
	if err != nil {
		return status.Errorf(codes.Unavailable, "subscribe: %v", err)
	}
	defer func() {
		if err := s.metrics.Unsubscribe(id); err != nil && !errors.Is(err, bus.ErrTopicClosed) {
			monitoring.Diagf("[gRPC] unsubscribe %s: %v", id, err)
		}
	}()
	monitoring.Logf("[gRPC] StreamMetrics client %s connected", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[gRPC] StreamMetrics client %s gone", id)
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := MetricsToStruct(m)
			if err != nil {
				return status.Errorf(codes.Internal, "encode metrics: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Serve registers the service on a new grpc.Server and serves ln until
// ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	gs := grpc.NewServer()
	RegisterRingFilterServer(gs, s)

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[gRPC] listening on %s", ln.Addr())
		errCh <- gs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		// Open StreamMetrics calls hold GracefulStop.
		gs.Stop()
	}
	monitoring.Logf("[gRPC] server stopped")
	return nil
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

func configMap(c ringfilter.FilterConfig) map[string]interface{} {
	return map[string]interface{}{
		"ring_div":        float64(c.RingDivisor),
		"voxel_leaf_size": c.VoxelLeafSize,
	}
}

func configFromStruct(s *structpb.Struct) (ringfilter.FilterConfig, error) {
	if s == nil {
		return ringfilter.FilterConfig{}, errors.New("empty request")
	}
	for k := range s.GetFields() {
		if k != "ring_div" && k != "voxel_leaf_size" {
			return ringfilter.FilterConfig{}, fmt.Errorf("unknown field %q", k)
		}
	}
	div, err := numberField(s, "ring_div")
	if err != nil {
		return ringfilter.FilterConfig{}, err
	}
	if div != math.Trunc(div) || math.Abs(div) > math.MaxInt32 {
		return ringfilter.FilterConfig{}, fmt.Errorf("ring_div must be an integer, got %v", div)
	}
	leaf, err := numberField(s, "voxel_leaf_size")
	if err != nil {
		return ringfilter.FilterConfig{}, err
	}
	if math.IsNaN(leaf) || math.IsInf(leaf, 0) {
		return ringfilter.FilterConfig{}, fmt.Errorf("voxel_leaf_size must be finite, got %v", leaf)
	}
	return ringfilter.FilterConfig{RingDivisor: int(div), VoxelLeafSize: leaf}, nil
}

func numberField(s *structpb.Struct, name string) (float64, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%q is required", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%q must be a number", name)
	}
	return n.NumberValue, nil
}

// MetricsToStruct converts one metrics message to its wire form. Field
// names match the JSON encoding of ringfilter.ScanMetrics.
func MetricsToStruct(m ringfilter.ScanMetrics) (*structpb.Struct, error) {
	stamp := ""
	if !m.Header.Stamp.IsZero() {
		stamp = m.Header.Stamp.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(map[string]interface{}{
		"header": map[string]interface{}{
			"seq":      float64(m.Header.Seq),
			"stamp":    stamp,
			"frame_id": m.Header.FrameID,
		},
		"filter_name":           m.FilterName,
		"original_points_size":  float64(m.OriginalPointCount),
		"decimated_points_size": float64(m.DecimatedPointCount),
		"filtered_points_size":  float64(m.FilteredPointCount),
		"original_ring_size":    float64(m.OriginalRingCount),
		"filtered_ring_size":    float64(m.FilteredRingCount),
	})
}

// MetricsFromStruct is the inverse of MetricsToStruct.
func MetricsFromStruct(s *structpb.Struct) (ringfilter.ScanMetrics, error) {
	f := s.GetFields()
	h := f["header"].GetStructValue().GetFields()
	m := ringfilter.ScanMetrics{
		FilterName:          f["filter_name"].GetStringValue(),
		OriginalPointCount:  int(f["original_points_size"].GetNumberValue()),
		DecimatedPointCount: int(f["decimated_points_size"].GetNumberValue()),
		FilteredPointCount:  int(f["filtered_points_size"].GetNumberValue()),
		OriginalRingCount:   int(f["original_ring_size"].GetNumberValue()),
		FilteredRingCount:   int(f["filtered_ring_size"].GetNumberValue()),
	}
	m.Header.Seq = uint32(h["seq"].GetNumberValue())
	m.Header.FrameID = h["frame_id"].GetStringValue()
	if ts := h["stamp"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return m, fmt.Errorf("parse stamp: %w", err)
		}
		m.Header.Stamp = t
	}
	return m, nil
}
