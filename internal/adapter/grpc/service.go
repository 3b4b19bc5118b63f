package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "instrument.v1.InstrumentService"

// InstrumentServiceServer is the server API of instrument.v1.InstrumentService.
// Every method exchanges google.protobuf.Struct documents.
type InstrumentServiceServer interface {
	SubmitStage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInstrument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClaimFromBank(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OverrideStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFormState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// InstrumentServiceDesc describes the service for grpc.Server.RegisterService
var InstrumentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InstrumentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitStage", InstrumentServiceServer.SubmitStage),
		unaryMethod("GetInstrument", InstrumentServiceServer.GetInstrument),
		unaryMethod("ClaimFromBank", InstrumentServiceServer.ClaimFromBank),
		unaryMethod("OverrideStatus", InstrumentServiceServer.OverrideStatus),
		unaryMethod("GetFormState", InstrumentServiceServer.GetFormState),
		unaryMethod("GetSummary", InstrumentServiceServer.GetSummary),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterInstrumentServiceServer registers srv on s
func RegisterInstrumentServiceServer(s grpc.ServiceRegistrar, srv InstrumentServiceServer) {
	s.RegisterService(&InstrumentServiceDesc, srv)
}

type unaryCall func(InstrumentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InstrumentServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(InstrumentServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client is a thin client for instrument.v1.InstrumentService
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in and returns the response document
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
