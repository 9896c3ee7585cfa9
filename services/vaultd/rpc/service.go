package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"safevault/services/vaultd/middleware"
)

// handler is the type every registered service implementation satisfies.
type handler interface {
	record(ctx context.Context, method string, err error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*handler)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Initialize", func(s *Service, ctx context.Context, req *InitializeRequest) (interface{}, error) {
			return s.initialize(ctx, req)
		}),
		unaryMethod("Deposit", (*Service).deposit),
		unaryMethod("Borrow", (*Service).borrow),
		unaryMethod("Repay", (*Service).repay),
		unaryMethod("Withdraw", (*Service).withdraw),
		unaryMethod("GetLedger", func(s *Service, ctx context.Context, req *LedgerRequest) (interface{}, error) {
			return s.getLedger(ctx, req)
		}),
		unaryMethod("GetPosition", func(s *Service, ctx context.Context, req *PositionRequest) (interface{}, error) {
			return s.getPosition(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "safevault/vault/v1/vault.json",
}

func unaryMethod[Req any](name string, run func(*Service, context.Context, *Req) (interface{}, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(*Service)
			call := func(ctx context.Context, req interface{}) (interface{}, error) {
				reply, err := run(svc, ctx, req.(*Req))
				svc.record(ctx, fullMethod, err)
				if err != nil {
					return nil, toStatus(ctx, err)
				}
				return reply, nil
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, call)
		},
	}
}

func tokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get("authorization") {
		if token := middleware.BearerToken(value); token != "" {
			return token
		}
	}
	return ""
}

func authStatus(ctx context.Context, err error) error {
	if errors.Is(err, middleware.ErrForbidden) {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(CodeTrailer, "FORBIDDEN"))
		return status.Error(codes.PermissionDenied, "insufficient scope")
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(CodeTrailer, "UNAUTHENTICATED"))
	return status.Error(codes.Unauthenticated, "invalid token")
}
