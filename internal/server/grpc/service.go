package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "codetime.v1.Ledger"

// Full method names.
const (
	MethodHeartbeat    = "/" + ServiceName + "/Heartbeat"
	MethodSummary      = "/" + ServiceName + "/Summary"
	MethodDailyRange   = "/" + ServiceName + "/DailyRange"
	MethodListProjects = "/" + ServiceName + "/ListProjects"
)

// LedgerServer is the server API. Bodies are google.protobuf.Struct so no
// generated code is needed on either side.
type LedgerServer interface {
	Heartbeat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Summary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DailyRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProjects(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(LedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryFunc) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: unaryHandler(MethodHeartbeat, LedgerServer.Heartbeat)},
		{MethodName: "Summary", Handler: unaryHandler(MethodSummary, LedgerServer.Summary)},
		{MethodName: "DailyRange", Handler: unaryHandler(MethodDailyRange, LedgerServer.DailyRange)},
		{MethodName: "ListProjects", Handler: unaryHandler(MethodListProjects, LedgerServer.ListProjects)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "codetime/v1/ledger.proto",
}

// RegisterLedgerServer registers s on r.
func RegisterLedgerServer(r grpc.ServiceRegistrar, s LedgerServer) {
	r.RegisterService(&ledgerServiceDesc, s)
}
