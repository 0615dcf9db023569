// Package grpcapi exposes the ring filter's control and metrics over gRPC.
//
// The service uses protobuf well-known types for every message so that
// clients need no generated code beyond the standard library of types:
//
//	rpc Configure(google.protobuf.Struct) returns (google.protobuf.Struct)
//	rpc GetConfig(google.protobuf.Empty) returns (google.protobuf.Struct)
//	rpc StreamMetrics(google.protobuf.Empty) returns (stream google.protobuf.Struct)
//	rpc Info(google.protobuf.Empty) returns (google.protobuf.Struct)
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ringfilter.v1.RingFilter"

const (
	methodConfigure     = "/" + ServiceName + "/Configure"
	methodGetConfig     = "/" + ServiceName + "/GetConfig"
	methodStreamMetrics = "/" + ServiceName + "/StreamMetrics"
	methodInfo          = "/" + ServiceName + "/Info"
)

// RingFilterServer is the server API for the RingFilter service.
type RingFilterServer interface {
	Configure(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConfig(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamMetrics(*emptypb.Empty, MetricsStream) error
	Info(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// MetricsStream is the server side of StreamMetrics.
type MetricsStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type metricsStream struct {
	grpc.ServerStream
}

func (s *metricsStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterRingFilterServer registers srv on s.
func RegisterRingFilterServer(s grpc.ServiceRegistrar, srv RingFilterServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func configureHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RingFilterServer).Configure(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodConfigure}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RingFilterServer).Configure(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getConfigHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RingFilterServer).GetConfig(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetConfig}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RingFilterServer).GetConfig(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func infoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RingFilterServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInfo}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RingFilterServer).Info(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamMetricsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RingFilterServer).StreamMetrics(in, &metricsStream{stream})
}

// ServiceDesc is the grpc.ServiceDesc for the RingFilter service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RingFilterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Configure", Handler: configureHandler},
		{MethodName: "GetConfig", Handler: getConfigHandler},
		{MethodName: "Info", Handler: infoHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamMetrics", Handler: streamMetricsHandler, ServerStreams: true},
	},
	Metadata: "ringfilter/v1/ringfilter.proto",
}
