package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// handler adapts a typed method to grpc's untyped handler signature.
func handler[Req, Resp any](name string, call func(*Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return call(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		handler("PlaceOrder", (*Server).PlaceOrder),
		handler("CancelOrder", (*Server).CancelOrder),
		handler("ReservedBalance", (*Server).ReservedBalance),
		handler("OrderStatus", (*Server).OrderStatus),
		handler("OrderHistory", (*Server).OrderHistory),
		handler("OrderBook", (*Server).OrderBook),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dexmatch/matcher",
}

// Invoke calls method on conn with the JSON codec.
func Invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, resp any) error {
	return conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, grpc.CallContentSubtype(CodecName))
}
