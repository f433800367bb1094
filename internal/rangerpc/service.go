package rangerpc

import (
	"context"

	"google.golang.org/grpc"
)

// Handler is the range-server side of the collaborator contract (spec
// §6.4). The real range-server's storage-engine handling of these calls
// is out of scope (spec §1); this interface is the RPC surface a
// range-server process (or a test double) implements.
type Handler interface {
	LoadRange(ctx context.Context, req *LoadRangeRequest) (*LoadRangeResponse, error)
	DropTable(ctx context.Context, req *DropTableRequest) (*DropTableResponse, error)
	Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error)
}

const serviceName = "hypertable.RangeServer"

func loadRangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LoadRangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).LoadRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/LoadRange"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).LoadRange(ctx, req.(*LoadRangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func dropTableHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DropTableRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).DropTable(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/DropTable"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).DropTable(ctx, req.(*DropTableRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func shutdownHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ShutdownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Shutdown"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).Shutdown(ctx, req.(*ShutdownRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadRange", Handler: loadRangeHandler},
		{MethodName: "DropTable", Handler: dropTableHandler},
		{MethodName: "Shutdown", Handler: shutdownHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rangerpc",
}

// RegisterHandler wires h into s under the range-server service name,
// mirroring grpc.RegisterXxxServer generated by protoc, written by hand
// here since no .proto compiler runs in this build.
func RegisterHandler(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}
